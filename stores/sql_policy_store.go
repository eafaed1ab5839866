package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/iam"
	"github.com/oarkflow/squealx"
)

// SQLPolicyStore persists attribute policies and tenant policy documents.
type SQLPolicyStore struct {
	db *squealx.DB
}

func NewSQLPolicyStore(db *squealx.DB) *SQLPolicyStore {
	return &SQLPolicyStore{db: db}
}

func (s *SQLPolicyStore) ListAttributePolicies(ctx context.Context, tenantID string, effect iam.Effect) ([]*iam.AttributePolicy, error) {
	q := `SELECT id, tenant_id, name, policy_type, expression, effect, created_at FROM attribute_policies WHERE tenant_id = :tenant_id AND effect = :effect`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID, "effect": string(effect)})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*iam.AttributePolicy, 0)
	for r.Next() {
		var id, tenant, name, ptype, expression, eff string
		var createdRaw interface{}
		if err := r.Scan(&id, &tenant, &name, &ptype, &expression, &eff, &createdRaw); err != nil {
			return nil, err
		}
		out = append(out, &iam.AttributePolicy{
			ID: id, TenantID: tenant, Name: name,
			PolicyType: iam.PolicyType(ptype), Expression: expression,
			Effect: iam.Effect(eff), CreatedAt: scanTime(createdRaw),
		})
	}
	return out, nil
}

func (s *SQLPolicyStore) UpsertAttributePolicy(ctx context.Context, p *iam.AttributePolicy) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	q := `INSERT INTO attribute_policies(id, tenant_id, name, policy_type, expression, effect, created_at)
	VALUES(:id, :tenant_id, :name, :policy_type, :expression, :effect, :created_at)
	ON CONFLICT(id) DO UPDATE SET name = :name, policy_type = :policy_type, expression = :expression, effect = :effect`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": p.ID, "tenant_id": p.TenantID, "name": p.Name,
		"policy_type": string(p.PolicyType), "expression": p.Expression,
		"effect": string(p.Effect), "created_at": p.CreatedAt,
	})
	return err
}

func (s *SQLPolicyStore) DeleteAttributePolicy(ctx context.Context, tenantID, policyID string) error {
	q := `DELETE FROM attribute_policies WHERE tenant_id = :tenant_id AND id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"tenant_id": tenantID, "id": policyID})
	return err
}

func (s *SQLPolicyStore) GetTenantPolicy(ctx context.Context, tenantID, name string) (*iam.TenantPolicy, error) {
	q := `SELECT id, tenant_id, name, source, version, last_deployed_at, last_deploy_status, created_at FROM tenant_policies WHERE tenant_id = :tenant_id AND name = :name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID, "name": name})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("tenant policy not found: %s/%s", tenantID, name)
	}
	var id, tenant, pname, source, version, status string
	var deployedRaw, createdRaw interface{}
	if err := r.Scan(&id, &tenant, &pname, &source, &version, &deployedRaw, &status, &createdRaw); err != nil {
		return nil, err
	}
	return &iam.TenantPolicy{
		ID: id, TenantID: tenant, Name: pname, Source: source, Version: version,
		LastDeployedAt: scanTime(deployedRaw), LastDeployStatus: status,
		CreatedAt: scanTime(createdRaw),
	}, nil
}

func (s *SQLPolicyStore) UpsertTenantPolicy(ctx context.Context, p *iam.TenantPolicy) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	q := `INSERT INTO tenant_policies(id, tenant_id, name, source, version, last_deployed_at, last_deploy_status, created_at)
	VALUES(:id, :tenant_id, :name, :source, :version, :last_deployed_at, :last_deploy_status, :created_at)
	ON CONFLICT(tenant_id, name) DO UPDATE SET source = :source, version = :version, last_deployed_at = :last_deployed_at, last_deploy_status = :last_deploy_status`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": p.ID, "tenant_id": p.TenantID, "name": p.Name, "source": p.Source,
		"version": p.Version, "last_deployed_at": sqlNullTimeOrNil(p.LastDeployedAt),
		"last_deploy_status": p.LastDeployStatus, "created_at": p.CreatedAt,
	})
	return err
}
