package iam

import (
	"testing"
	"time"
)

func TestFingerprintStability(t *testing.T) {
	a := Fingerprint("t1", "alice", "grade.write", `{"id":"course:1"}`)
	b := Fingerprint("t1", "alice", "grade.write", `{"id":"course:1"}`)
	if a != b {
		t.Fatalf("identical inputs must fingerprint identically")
	}
	if a == Fingerprint("t2", "alice", "grade.write", `{"id":"course:1"}`) {
		t.Fatalf("tenant must be part of the fingerprint")
	}
	if a == Fingerprint("t1", "alice", "grade.write", `{"id":"course:2"}`) {
		t.Fatalf("resource must be part of the fingerprint")
	}
}

func TestMemoryCacheTTL(t *testing.T) {
	now := time.Now()
	c := NewMemoryDecisionCache()
	c.now = func() time.Time { return now }

	c.Set("t1", "fp", true, 30*time.Second)
	if v, ok := c.Get("t1", "fp"); !ok || !v {
		t.Fatalf("expected live entry")
	}

	now = now.Add(31 * time.Second)
	if _, ok := c.Get("t1", "fp"); ok {
		t.Fatalf("entry must expire after its ttl")
	}
}

func TestMemoryCacheTenantInvalidation(t *testing.T) {
	c := NewMemoryDecisionCache()
	c.Set("t1", "fp1", true, time.Minute)
	c.Set("t1", "fp2", false, time.Minute)
	c.Set("t2", "fp1", true, time.Minute)

	c.Invalidate("t1")

	if _, ok := c.Get("t1", "fp1"); ok {
		t.Fatalf("t1 entries must be cleared")
	}
	if _, ok := c.Get("t1", "fp2"); ok {
		t.Fatalf("t1 entries must be cleared")
	}
	if v, ok := c.Get("t2", "fp1"); !ok || !v {
		t.Fatalf("other tenants must be untouched")
	}
}

func TestRistrettoCacheEpochInvalidation(t *testing.T) {
	c, err := NewRistrettoDecisionCache(1000)
	if err != nil {
		t.Fatalf("build cache: %v", err)
	}
	defer c.Close()

	c.Set("t1", "fp", true, time.Minute)
	c.cache.Wait()
	if v, ok := c.Get("t1", "fp"); !ok || !v {
		t.Fatalf("expected entry after Wait")
	}

	c.Invalidate("t1")
	if _, ok := c.Get("t1", "fp"); ok {
		t.Fatalf("epoch bump must orphan old entries")
	}

	c.Set("t1", "fp", false, time.Minute)
	c.cache.Wait()
	if v, ok := c.Get("t1", "fp"); !ok || v {
		t.Fatalf("new epoch must serve fresh writes")
	}
}
