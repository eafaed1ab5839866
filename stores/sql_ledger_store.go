package stores

import (
	"context"

	"github.com/oarkflow/iam"
	"github.com/oarkflow/squealx"
)

// SQLLedgerStore persists audit chain entries. Rows are append-only; the id
// column's monotonic growth preserves creation order within a tenant.
type SQLLedgerStore struct {
	db *squealx.DB
}

func NewSQLLedgerStore(db *squealx.DB) *SQLLedgerStore {
	return &SQLLedgerStore{db: db}
}

func (s *SQLLedgerStore) LatestEntry(ctx context.Context, tenantID string) (*iam.AuditLogEntry, error) {
	q := `SELECT id, tenant_id, actor_id, action, resource_json, prev_hash, hash, timestamp FROM audit_log
	WHERE tenant_id = :tenant_id ORDER BY id DESC LIMIT 1`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	return scanLedgerEntry(r)
}

func (s *SQLLedgerStore) AppendEntry(ctx context.Context, e *iam.AuditLogEntry) error {
	q := `INSERT INTO audit_log(tenant_id, actor_id, action, resource_json, prev_hash, hash, timestamp)
	VALUES(:tenant_id, :actor_id, :action, :resource_json, :prev_hash, :hash, :timestamp)`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"tenant_id": e.TenantID, "actor_id": e.ActorID, "action": e.Action,
		"resource_json": e.Resource, "prev_hash": e.PrevHash, "hash": e.Hash,
		"timestamp": e.Timestamp,
	})
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (s *SQLLedgerStore) ListEntries(ctx context.Context, tenantID string) ([]*iam.AuditLogEntry, error) {
	q := `SELECT id, tenant_id, actor_id, action, resource_json, prev_hash, hash, timestamp FROM audit_log
	WHERE tenant_id = :tenant_id ORDER BY id ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*iam.AuditLogEntry, 0)
	for r.Next() {
		e, err := scanLedgerEntry(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *SQLLedgerStore) ListTenants(ctx context.Context) ([]string, error) {
	q := `SELECT DISTINCT tenant_id FROM audit_log ORDER BY tenant_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]string, 0)
	for r.Next() {
		var tenant string
		if err := r.Scan(&tenant); err != nil {
			return nil, err
		}
		out = append(out, tenant)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedgerEntry(r rowScanner) (*iam.AuditLogEntry, error) {
	var id int64
	var tenant, actor, action, resourceJSON, prevHash, hash string
	var tsRaw interface{}
	if err := r.Scan(&id, &tenant, &actor, &action, &resourceJSON, &prevHash, &hash, &tsRaw); err != nil {
		return nil, err
	}
	return &iam.AuditLogEntry{
		ID: id, TenantID: tenant, ActorID: actor, Action: action,
		Resource: resourceJSON, PrevHash: prevHash, Hash: hash,
		Timestamp: scanTime(tsRaw),
	}, nil
}
