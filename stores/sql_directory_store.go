package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/iam"
	"github.com/oarkflow/squealx"
)

// SQLDirectoryStore persists subjects, roles, role permissions, and role
// bindings in SQL (squealx).
type SQLDirectoryStore struct {
	db *squealx.DB
}

func NewSQLDirectoryStore(db *squealx.DB) *SQLDirectoryStore {
	return &SQLDirectoryStore{db: db}
}

func (s *SQLDirectoryStore) GetSubject(ctx context.Context, tenantID, subjectID string) (*iam.Subject, error) {
	q := `SELECT id, tenant_id, username, attrs_json FROM subjects WHERE tenant_id = :tenant_id AND id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID, "id": subjectID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("subject not found: %s/%s", tenantID, subjectID)
	}
	var id, tenant, username, attrsJSON string
	if err := r.Scan(&id, &tenant, &username, &attrsJSON); err != nil {
		return nil, err
	}
	sub := &iam.Subject{ID: id, TenantID: tenant, Username: username}
	_ = json.Unmarshal([]byte(attrsJSON), &sub.Attrs)
	return sub, nil
}

func (s *SQLDirectoryStore) PutSubject(ctx context.Context, sub *iam.Subject) error {
	attrs, _ := json.Marshal(sub.Attrs)
	q := `INSERT INTO subjects(id, tenant_id, username, attrs_json) VALUES(:id, :tenant_id, :username, :attrs_json)
	ON CONFLICT(tenant_id, id) DO UPDATE SET username = :username, attrs_json = :attrs_json`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": sub.ID, "tenant_id": sub.TenantID, "username": sub.Username, "attrs_json": string(attrs),
	})
	return err
}

func (s *SQLDirectoryStore) PutRole(ctx context.Context, role *iam.Role) error {
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now()
	}
	q := `INSERT INTO roles(id, tenant_id, name, builtin, created_at) VALUES(:id, :tenant_id, :name, :builtin, :created_at)
	ON CONFLICT(id) DO UPDATE SET name = :name, builtin = :builtin`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": role.ID, "tenant_id": role.TenantID, "name": role.Name,
		"builtin": boolToInt(role.Builtin), "created_at": role.CreatedAt,
	})
	return err
}

func (s *SQLDirectoryStore) PutRolePermission(ctx context.Context, rp *iam.RolePermission) error {
	q := `INSERT INTO role_permissions(id, role_id, permission, resource_pattern, effect) VALUES(:id, :role_id, :permission, :resource_pattern, :effect)
	ON CONFLICT(id) DO UPDATE SET resource_pattern = :resource_pattern, effect = :effect`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": rp.ID, "role_id": rp.RoleID, "permission": rp.Permission,
		"resource_pattern": rp.ResourcePattern, "effect": string(rp.Effect),
	})
	return err
}

func (s *SQLDirectoryStore) ListRolePermissions(ctx context.Context, roleID, permission string) ([]*iam.RolePermission, error) {
	q := `SELECT id, role_id, permission, resource_pattern, effect FROM role_permissions WHERE role_id = :role_id AND permission = :permission`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"role_id": roleID, "permission": permission})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*iam.RolePermission, 0)
	for r.Next() {
		var id, role, perm, pattern, effect string
		if err := r.Scan(&id, &role, &perm, &pattern, &effect); err != nil {
			return nil, err
		}
		out = append(out, &iam.RolePermission{
			ID: id, RoleID: role, Permission: perm,
			ResourcePattern: pattern, Effect: iam.Effect(effect),
		})
	}
	return out, nil
}

func (s *SQLDirectoryStore) CreateBinding(ctx context.Context, b *iam.RoleBinding) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	q := `INSERT INTO role_bindings(id, tenant_id, subject_id, role_id, resource_scope, expires_at, created_by, created_at)
	VALUES(:id, :tenant_id, :subject_id, :role_id, :resource_scope, :expires_at, :created_by, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": b.ID, "tenant_id": b.TenantID, "subject_id": b.SubjectID, "role_id": b.RoleID,
		"resource_scope": b.ResourceScope, "expires_at": sqlNullTimeOrNil(b.ExpiresAt),
		"created_by": b.CreatedBy, "created_at": b.CreatedAt,
	})
	return err
}

func (s *SQLDirectoryStore) ListBindings(ctx context.Context, tenantID, subjectID string) ([]*iam.RoleBinding, error) {
	q := `SELECT id, tenant_id, subject_id, role_id, resource_scope, expires_at, created_by, created_at FROM role_bindings WHERE tenant_id = :tenant_id AND subject_id = :subject_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID, "subject_id": subjectID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*iam.RoleBinding, 0)
	for r.Next() {
		var id, tenant, subject, role, scope, createdBy string
		var expiresRaw, createdRaw interface{}
		if err := r.Scan(&id, &tenant, &subject, &role, &scope, &expiresRaw, &createdBy, &createdRaw); err != nil {
			return nil, err
		}
		out = append(out, &iam.RoleBinding{
			ID: id, TenantID: tenant, SubjectID: subject, RoleID: role,
			ResourceScope: scope, ExpiresAt: scanTime(expiresRaw),
			CreatedBy: createdBy, CreatedAt: scanTime(createdRaw),
		})
	}
	return out, nil
}

func (s *SQLDirectoryStore) DeleteBinding(ctx context.Context, tenantID, bindingID string) error {
	q := `DELETE FROM role_bindings WHERE tenant_id = :tenant_id AND id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"tenant_id": tenantID, "id": bindingID})
	return err
}
