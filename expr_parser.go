package iam

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ============================================================================
// EXPRESSION PARSER
// ============================================================================

// CompileExpression parses a restricted boolean expression into an Expr tree.
//
// Grammar (lowest precedence first):
//
//	expr    = orExpr
//	orExpr  = andExpr { "or" andExpr }
//	andExpr = unary { "and" unary }
//	unary   = "not" unary | primary
//	primary = "(" expr ")" | "true" | "false" | field op literal
//	op      = "==" | "!=" | "<" | "<=" | ">" | ">="
//	literal = quoted string | number | "true" | "false"
//
// Fields are dotted paths rooted at subject or resource. No function calls,
// no indexing, no arithmetic.
func CompileExpression(src string) (Expr, error) {
	toks, err := lexExpression(src)
	if err != nil {
		return nil, err
	}
	p := &exprParser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, fmt.Errorf("unexpected token %q at end of expression", p.peek().val)
	}
	return e, nil
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
)

type exprToken struct {
	kind tokenKind
	val  string
}

func lexExpression(src string) ([]exprToken, error) {
	toks := make([]exprToken, 0, 8)
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, exprToken{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, exprToken{tokRParen, ")"})
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(src) && src[j] != quote {
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			toks = append(toks, exprToken{tokString, src[i+1 : j]})
			i = j + 1
		case c == '=' || c == '!' || c == '<' || c == '>':
			op := string(c)
			if i+1 < len(src) && src[i+1] == '=' {
				op += "="
				i++
			}
			if op == "=" || op == "!" {
				return nil, fmt.Errorf("invalid operator %q at offset %d", op, i)
			}
			toks = append(toks, exprToken{tokOp, op})
			i++
		case unicode.IsDigit(rune(c)) || (c == '-' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))):
			j := i + 1
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			toks = append(toks, exprToken{tokNumber, src[i:j]})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i + 1
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_' || src[j] == '.') {
				j++
			}
			toks = append(toks, exprToken{tokIdent, src[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return toks, nil
}

type exprParser struct {
	toks []exprToken
	pos  int
}

func (p *exprParser) eof() bool        { return p.pos >= len(p.toks) }
func (p *exprParser) peek() exprToken  { return p.toks[p.pos] }
func (p *exprParser) next() exprToken  { t := p.toks[p.pos]; p.pos++; return t }
func (p *exprParser) acceptIdent(word string) bool {
	if !p.eof() && p.peek().kind == tokIdent && strings.EqualFold(p.peek().val, word) {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptIdent("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &OrExpr{Left: left, Right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.acceptIdent("and") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &AndExpr{Left: left, Right: right}
	}
	return left, nil
}

func (p *exprParser) parseUnary() (Expr, error) {
	if p.acceptIdent("not") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (Expr, error) {
	if p.eof() {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	if p.peek().kind == tokLParen {
		p.next()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.eof() || p.peek().kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.next()
		return e, nil
	}
	tok := p.next()
	if tok.kind != tokIdent {
		return nil, fmt.Errorf("expected field name, got %q", tok.val)
	}
	if strings.EqualFold(tok.val, "true") {
		return TrueExpr{}, nil
	}
	if strings.EqualFold(tok.val, "false") {
		return FalseExpr{}, nil
	}
	if !validExprField(tok.val) {
		return nil, fmt.Errorf("field %q is not addressable", tok.val)
	}
	if p.eof() || p.peek().kind != tokOp {
		return nil, fmt.Errorf("expected comparison operator after %q", tok.val)
	}
	op := p.next().val
	val, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return &CmpExpr{Field: tok.val, Op: op, Value: val}, nil
}

func (p *exprParser) parseLiteral() (any, error) {
	if p.eof() {
		return nil, fmt.Errorf("expected literal value")
	}
	tok := p.next()
	switch tok.kind {
	case tokString:
		return tok.val, nil
	case tokNumber:
		n, err := strconv.ParseFloat(tok.val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", tok.val)
		}
		return n, nil
	case tokIdent:
		if strings.EqualFold(tok.val, "true") {
			return true, nil
		}
		if strings.EqualFold(tok.val, "false") {
			return false, nil
		}
	}
	return nil, fmt.Errorf("invalid literal %q", tok.val)
}

// validExprField limits the addressable namespace so expressions cannot reach
// outside the evaluation context.
func validExprField(field string) bool {
	switch field {
	case "subject.id", "subject.tenant_id", "resource.id":
		return true
	}
	return strings.HasPrefix(field, "subject.attrs.") || strings.HasPrefix(field, "resource.attrs.")
}
