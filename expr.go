package iam

import (
	"fmt"
	"strings"
)

// ============================================================================
// ATTRIBUTE EXPRESSIONS
// ============================================================================

// EvalContext carries the subject and resource an expression is evaluated
// against.
type EvalContext struct {
	Subject  *Subject
	Resource *Resource
}

// Expr is a compiled attribute expression node.
type Expr interface {
	Evaluate(ctx *EvalContext) (bool, error)
	String() string
}

// TrueExpr always evaluates to true.
type TrueExpr struct{}

func (TrueExpr) Evaluate(ctx *EvalContext) (bool, error) { return true, nil }
func (TrueExpr) String() string                          { return "true" }

// FalseExpr always evaluates to false.
type FalseExpr struct{}

func (FalseExpr) Evaluate(ctx *EvalContext) (bool, error) { return false, nil }
func (FalseExpr) String() string                          { return "false" }

// AndExpr evaluates to true when both operands do.
type AndExpr struct {
	Left, Right Expr
}

func (e *AndExpr) Evaluate(ctx *EvalContext) (bool, error) {
	l, err := e.Left.Evaluate(ctx)
	if err != nil {
		return false, err
	}
	if !l {
		return false, nil
	}
	return e.Right.Evaluate(ctx)
}

func (e *AndExpr) String() string {
	return fmt.Sprintf("(%s and %s)", e.Left.String(), e.Right.String())
}

// OrExpr evaluates to true when either operand does.
type OrExpr struct {
	Left, Right Expr
}

func (e *OrExpr) Evaluate(ctx *EvalContext) (bool, error) {
	l, err := e.Left.Evaluate(ctx)
	if err != nil {
		return false, err
	}
	if l {
		return true, nil
	}
	return e.Right.Evaluate(ctx)
}

func (e *OrExpr) String() string {
	return fmt.Sprintf("(%s or %s)", e.Left.String(), e.Right.String())
}

// NotExpr inverts its operand.
type NotExpr struct {
	Inner Expr
}

func (e *NotExpr) Evaluate(ctx *EvalContext) (bool, error) {
	v, err := e.Inner.Evaluate(ctx)
	if err != nil {
		return false, err
	}
	return !v, nil
}

func (e *NotExpr) String() string { return fmt.Sprintf("(not %s)", e.Inner.String()) }

// CmpExpr compares a context field against a literal.
type CmpExpr struct {
	Field string
	Op    string
	Value any
}

func (e *CmpExpr) Evaluate(ctx *EvalContext) (bool, error) {
	actual, ok := resolveField(ctx, e.Field)
	if !ok {
		return false, fmt.Errorf("unknown field: %s", e.Field)
	}
	return compare(actual, e.Op, e.Value)
}

func (e *CmpExpr) String() string {
	return fmt.Sprintf("%s %s %v", e.Field, e.Op, e.Value)
}

// resolveField looks a dotted field path up in the evaluation context. Only
// subject and resource roots are addressable.
func resolveField(ctx *EvalContext, field string) (any, bool) {
	switch field {
	case "subject.id":
		if ctx.Subject == nil {
			return nil, false
		}
		return ctx.Subject.ID, true
	case "subject.tenant_id":
		if ctx.Subject == nil {
			return nil, false
		}
		return ctx.Subject.TenantID, true
	case "resource.id":
		if ctx.Resource == nil {
			return nil, false
		}
		return ctx.Resource.ID, true
	}
	if name, ok := strings.CutPrefix(field, "subject.attrs."); ok {
		if ctx.Subject == nil || ctx.Subject.Attrs == nil {
			return nil, false
		}
		v, ok := ctx.Subject.Attrs[name]
		return v, ok
	}
	if name, ok := strings.CutPrefix(field, "resource.attrs."); ok {
		if ctx.Resource == nil || ctx.Resource.Attrs == nil {
			return nil, false
		}
		v, ok := ctx.Resource.Attrs[name]
		return v, ok
	}
	return nil, false
}

func compare(actual any, op string, expected any) (bool, error) {
	if an, aok := toFloat(actual); aok {
		if en, eok := toFloat(expected); eok {
			return compareFloat(an, op, en), nil
		}
	}
	switch av := actual.(type) {
	case string:
		ev, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("type mismatch comparing %v with %v", actual, expected)
		}
		return compareString(av, op, ev), nil
	case bool:
		ev, ok := expected.(bool)
		if !ok {
			return false, fmt.Errorf("type mismatch comparing %v with %v", actual, expected)
		}
		switch op {
		case "==":
			return av == ev, nil
		case "!=":
			return av != ev, nil
		}
		return false, fmt.Errorf("operator %s not valid for bool", op)
	}
	return false, fmt.Errorf("unsupported value type %T", actual)
}

func compareFloat(a float64, op string, b float64) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	}
	return false
}

func compareString(a, op, b string) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
