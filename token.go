package iam

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ============================================================================
// TOKEN SERVICE
// ============================================================================

// Audience is the fixed platform audience embedded in and required of every
// token.
const Audience = "caex-app"

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenRevoked   = errors.New("token revoked")
	ErrTokenAudience  = errors.New("token audience mismatch")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenMalformed = errors.New("token malformed")
)

// Claims is the decision-relevant snapshot carried by an issued token. The
// delegation and breakglass fields are advisory context only; the resolver's
// own grant checks stay authoritative.
type Claims struct {
	TenantID   string         `json:"tid"`
	UserID     string         `json:"uid"`
	Roles      []string       `json:"roles"`
	Scope      []string       `json:"scope"`
	Attrs      map[string]any `json:"attrs,omitempty"`
	Delegation map[string]any `json:"delegation,omitempty"`
	BreakGlass map[string]any `json:"breakglass,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and validates RS256 credentials. Revocation checking is
// active when a RevocationStore is attached.
type TokenService struct {
	privateKey  *rsa.PrivateKey
	publicKey   *rsa.PublicKey
	issuer      string
	revocations RevocationStore
	now         func() time.Time
}

// TokenOption customizes a TokenService.
type TokenOption func(*TokenService)

// WithRevocationStore enables jti revocation checks during Validate.
func WithRevocationStore(store RevocationStore) TokenOption {
	return func(s *TokenService) { s.revocations = store }
}

// WithTokenClock overrides the service clock.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// NewTokenService signs with privateKey and verifies with its public half.
func NewTokenService(privateKey *rsa.PrivateKey, issuer string, opts ...TokenOption) *TokenService {
	s := &TokenService{
		privateKey: privateKey,
		publicKey:  &privateKey.PublicKey,
		issuer:     issuer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueRequest carries the subject context snapshot for a new token.
type IssueRequest struct {
	Subject    string
	TenantID   string
	UserID     string
	Roles      []string
	Scope      []string
	Attrs      map[string]any
	Delegation map[string]any
	BreakGlass map[string]any
	TTL        time.Duration
}

// Issue mints a signed token with a fresh jti. The returned jti can later be
// fed to Revoke.
func (s *TokenService) Issue(req IssueRequest) (token string, jti string, err error) {
	if req.TTL <= 0 {
		return "", "", fmt.Errorf("token ttl must be positive")
	}
	now := s.now()
	jti = uuid.NewString()
	claims := &Claims{
		TenantID:   req.TenantID,
		UserID:     req.UserID,
		Roles:      req.Roles,
		Scope:      req.Scope,
		Attrs:      req.Attrs,
		Delegation: req.Delegation,
		BreakGlass: req.BreakGlass,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   req.Subject,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(req.TTL)),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.privateKey)
	if err != nil {
		return "", "", fmt.Errorf("sign token: %w", err)
	}
	return signed, jti, nil
}

// Validate verifies signature, audience, and expiry, then consults the
// revocation list when one is attached. Each failure mode maps to a
// distinguishable sentinel error.
func (s *TokenService) Validate(ctx context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.publicKey, nil
	},
		jwt.WithAudience(Audience),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, ErrTokenAudience
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenSignature
		default:
			return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
		}
	}
	if !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("revocation check: %w", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

// Revoke records a jti so subsequent validations fail before the token's
// natural expiry. expiresAt lets the store prune the record once the token
// would have died anyway.
func (s *TokenService) Revoke(ctx context.Context, jti, reason string, expiresAt time.Time) error {
	if s.revocations == nil {
		return fmt.Errorf("revocation store not configured")
	}
	return s.revocations.Revoke(ctx, &RevokedToken{
		JTI:       jti,
		RevokedAt: s.now(),
		Reason:    reason,
		ExpiresAt: expiresAt,
	})
}
