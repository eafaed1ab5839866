package iam

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestTokenIssueAndValidate(t *testing.T) {
	svc := NewTokenService(testKey(t), "iam-test")

	token, jti, err := svc.Issue(IssueRequest{
		Subject: "alice", TenantID: "t1", UserID: "u-1",
		Roles: []string{"grader"}, Scope: []string{"course:*"},
		Attrs: map[string]any{"department": "math"},
		TTL:   900 * time.Second,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if jti == "" {
		t.Fatalf("issue must assign a jti")
	}

	claims, err := svc.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.TenantID != "t1" || claims.UserID != "u-1" || claims.Subject != "alice" {
		t.Fatalf("claims snapshot mismatch: %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "grader" {
		t.Fatalf("roles not carried: %v", claims.Roles)
	}
	if claims.ID != jti {
		t.Fatalf("jti mismatch: %s vs %s", claims.ID, jti)
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Now()
	svc := NewTokenService(testKey(t), "iam-test",
		WithTokenClock(func() time.Time { return now }))

	token, _, err := svc.Issue(IssueRequest{Subject: "alice", TenantID: "t1", TTL: 900 * time.Second})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := svc.Validate(context.Background(), token); err != nil {
		t.Fatalf("fresh token must validate: %v", err)
	}

	now = now.Add(901 * time.Second)
	if _, err := svc.Validate(context.Background(), token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("want ErrTokenExpired, got %v", err)
	}
}

func TestTokenRevocation(t *testing.T) {
	revocations := NewMemoryRevocationStore()
	svc := NewTokenService(testKey(t), "iam-test", WithRevocationStore(revocations))

	token, jti, err := svc.Issue(IssueRequest{Subject: "alice", TenantID: "t1", TTL: time.Hour})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.Validate(context.Background(), token); err != nil {
		t.Fatalf("validate before revocation: %v", err)
	}

	if err := svc.Revoke(context.Background(), jti, "credential leak", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.Validate(context.Background(), token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("want ErrTokenRevoked, got %v", err)
	}
}

func TestTokenWrongKeyRejected(t *testing.T) {
	issuing := NewTokenService(testKey(t), "iam-test")
	verifying := NewTokenService(testKey(t), "iam-test")

	token, _, err := issuing.Issue(IssueRequest{Subject: "alice", TenantID: "t1", TTL: time.Hour})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifying.Validate(context.Background(), token); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("want ErrTokenSignature, got %v", err)
	}
}

func TestTokenGarbageRejected(t *testing.T) {
	svc := NewTokenService(testKey(t), "iam-test")
	if _, err := svc.Validate(context.Background(), "not.a.token"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("want ErrTokenMalformed, got %v", err)
	}
}

func TestRevocationPruneKeepsLiveTokens(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRevocationStore()
	now := time.Now()

	_ = store.Revoke(ctx, &RevokedToken{JTI: "dead", ExpiresAt: now.Add(-time.Minute)})
	_ = store.Revoke(ctx, &RevokedToken{JTI: "live", ExpiresAt: now.Add(time.Hour)})
	_ = store.Revoke(ctx, &RevokedToken{JTI: "unknown-exp"})

	n, err := store.Prune(ctx, now)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	if revoked, _ := store.IsRevoked(ctx, "live"); !revoked {
		t.Fatalf("live revocation must survive pruning")
	}
	if revoked, _ := store.IsRevoked(ctx, "unknown-exp"); !revoked {
		t.Fatalf("revocation without exp must survive pruning")
	}
	if revoked, _ := store.IsRevoked(ctx, "dead"); revoked {
		t.Fatalf("expired revocation should be pruned")
	}
}
