package iam

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// AUDIT LEDGER
// ============================================================================

// Ledger maintains per-tenant hash-chained audit trails. Appends to the same
// tenant are serialized so concurrent writers never fork the chain; distinct
// tenants append in parallel.
type Ledger struct {
	store LedgerStore
	now   func() time.Time

	mu      sync.Mutex
	tenants map[string]*sync.Mutex
}

// NewLedger wraps a LedgerStore with chain maintenance.
func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{
		store:   store,
		now:     time.Now,
		tenants: make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) tenantLock(tenantID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.tenants[tenantID]
	if !ok {
		m = &sync.Mutex{}
		l.tenants[tenantID] = m
	}
	return m
}

// Append writes a new chained entry for the tenant. resource may be any
// JSON-serializable value; it is canonicalized before hashing so the stored
// form and the hashed form never diverge.
func (l *Ledger) Append(ctx context.Context, tenantID, actorID, action string, resource any) (*AuditLogEntry, error) {
	resJSON, err := canonicalJSON(resource)
	if err != nil {
		return nil, fmt.Errorf("audit resource not serializable: %w", err)
	}

	lock := l.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := l.store.LatestEntry(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("read latest audit entry: %w", err)
	}
	prevHash := ""
	if prev != nil {
		prevHash = prev.Hash
	}

	entry := &AuditLogEntry{
		TenantID:  tenantID,
		ActorID:   actorID,
		Action:    action,
		Resource:  resJSON,
		PrevHash:  prevHash,
		Timestamp: l.now().UTC(),
	}
	entry.Hash = chainHash(entry)

	if err := l.store.AppendEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

// VerifyChain recomputes every hash in a tenant's chain in creation order.
// It returns the index of the first broken entry, or -1 when the chain is
// intact.
func (l *Ledger) VerifyChain(ctx context.Context, tenantID string) (int, error) {
	entries, err := l.store.ListEntries(ctx, tenantID)
	if err != nil {
		return -1, fmt.Errorf("list audit entries: %w", err)
	}
	prevHash := ""
	for i, e := range entries {
		if e.PrevHash != prevHash {
			return i, nil
		}
		if chainHash(e) != e.Hash {
			return i, nil
		}
		prevHash = e.Hash
	}
	return -1, nil
}

// Export returns a tenant's entries in creation order for offline
// verification.
func (l *Ledger) Export(ctx context.Context, tenantID string) ([]*AuditLogEntry, error) {
	return l.store.ListEntries(ctx, tenantID)
}

// Tenants lists every tenant with at least one chain entry.
func (l *Ledger) Tenants(ctx context.Context) ([]string, error) {
	return l.store.ListTenants(ctx)
}

// chainHash computes sha256(prevHash|tenant|actor|action|resource|timestamp)
// in hex. The empty string stands in for the first entry's prevHash.
func chainHash(e *AuditLogEntry) string {
	ts := e.Timestamp.UTC().Format(time.RFC3339Nano)
	payload := e.PrevHash + "|" + e.TenantID + "|" + e.ActorID + "|" + e.Action + "|" + e.Resource + "|" + ts
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// canonicalJSON serializes a value with sorted object keys so equal values
// always hash identically.
func canonicalJSON(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	if s, ok := v.(string); ok {
		b, err := json.Marshal(s)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", err
	}
	b, err := json.Marshal(decoded)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
