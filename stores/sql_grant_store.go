package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/iam"
	"github.com/oarkflow/squealx"
)

// SQLGrantStore persists delegated grants and emergency access grants.
type SQLGrantStore struct {
	db *squealx.DB
}

func NewSQLGrantStore(db *squealx.DB) *SQLGrantStore {
	return &SQLGrantStore{db: db}
}

func (s *SQLGrantStore) ListDelegatedGrants(ctx context.Context, tenantID, granteeID, permission string) ([]*iam.DelegatedGrant, error) {
	q := `SELECT id, tenant_id, granter_id, grantee_id, permission, resource_scope, justification, active, created_at, expires_at FROM delegated_grants
	WHERE tenant_id = :tenant_id AND grantee_id = :grantee_id AND permission = :permission`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"tenant_id": tenantID, "grantee_id": granteeID, "permission": permission,
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*iam.DelegatedGrant, 0)
	for r.Next() {
		var id, tenant, granter, grantee, perm, scope, justification string
		var activeInt int
		var createdRaw, expiresRaw interface{}
		if err := r.Scan(&id, &tenant, &granter, &grantee, &perm, &scope, &justification, &activeInt, &createdRaw, &expiresRaw); err != nil {
			return nil, err
		}
		out = append(out, &iam.DelegatedGrant{
			ID: id, TenantID: tenant, GranterID: granter, GranteeID: grantee,
			Permission: perm, ResourceScope: scope, Justification: justification,
			Active: activeInt != 0, CreatedAt: scanTime(createdRaw), ExpiresAt: scanTime(expiresRaw),
		})
	}
	return out, nil
}

func (s *SQLGrantStore) CreateDelegatedGrant(ctx context.Context, g *iam.DelegatedGrant) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	q := `INSERT INTO delegated_grants(id, tenant_id, granter_id, grantee_id, permission, resource_scope, justification, active, created_at, expires_at)
	VALUES(:id, :tenant_id, :granter_id, :grantee_id, :permission, :resource_scope, :justification, :active, :created_at, :expires_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": g.ID, "tenant_id": g.TenantID, "granter_id": g.GranterID, "grantee_id": g.GranteeID,
		"permission": g.Permission, "resource_scope": g.ResourceScope, "justification": g.Justification,
		"active": boolToInt(g.Active), "created_at": g.CreatedAt, "expires_at": g.ExpiresAt,
	})
	return err
}

func (s *SQLGrantStore) DeactivateDelegatedGrant(ctx context.Context, tenantID, grantID string) error {
	q := `UPDATE delegated_grants SET active = 0 WHERE tenant_id = :tenant_id AND id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"tenant_id": tenantID, "id": grantID})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delegated grant not found: %s/%s", tenantID, grantID)
	}
	return nil
}

func (s *SQLGrantStore) ListEmergencyAccess(ctx context.Context, tenantID, requesterID, permission string) ([]*iam.EmergencyAccess, error) {
	q := `SELECT id, tenant_id, requester_id, permission, resource_scope, justification, approved_by, start_at, expires_at, consumed, created_at FROM emergency_access
	WHERE tenant_id = :tenant_id AND requester_id = :requester_id AND permission = :permission`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"tenant_id": tenantID, "requester_id": requesterID, "permission": permission,
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*iam.EmergencyAccess, 0)
	for r.Next() {
		var id, tenant, requester, perm, scope, justification, approvedBy string
		var consumedInt int
		var startRaw, expiresRaw, createdRaw interface{}
		if err := r.Scan(&id, &tenant, &requester, &perm, &scope, &justification, &approvedBy, &startRaw, &expiresRaw, &consumedInt, &createdRaw); err != nil {
			return nil, err
		}
		out = append(out, &iam.EmergencyAccess{
			ID: id, TenantID: tenant, RequesterID: requester, Permission: perm,
			ResourceScope: scope, Justification: justification, ApprovedBy: approvedBy,
			StartAt: scanTime(startRaw), ExpiresAt: scanTime(expiresRaw),
			Consumed: consumedInt != 0, CreatedAt: scanTime(createdRaw),
		})
	}
	return out, nil
}

func (s *SQLGrantStore) CreateEmergencyAccess(ctx context.Context, e *iam.EmergencyAccess) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	q := `INSERT INTO emergency_access(id, tenant_id, requester_id, permission, resource_scope, justification, approved_by, start_at, expires_at, consumed, created_at)
	VALUES(:id, :tenant_id, :requester_id, :permission, :resource_scope, :justification, :approved_by, :start_at, :expires_at, :consumed, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": e.ID, "tenant_id": e.TenantID, "requester_id": e.RequesterID, "permission": e.Permission,
		"resource_scope": e.ResourceScope, "justification": e.Justification, "approved_by": e.ApprovedBy,
		"start_at": e.StartAt, "expires_at": e.ExpiresAt,
		"consumed": boolToInt(e.Consumed), "created_at": e.CreatedAt,
	})
	return err
}

func (s *SQLGrantStore) ConsumeEmergencyAccess(ctx context.Context, tenantID, grantID string) error {
	q := `UPDATE emergency_access SET consumed = 1 WHERE tenant_id = :tenant_id AND id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"tenant_id": tenantID, "id": grantID})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("emergency access not found: %s/%s", tenantID, grantID)
	}
	return nil
}
