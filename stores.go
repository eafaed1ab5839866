package iam

import (
	"context"
	"time"
)

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// DirectoryStore holds subjects, roles and the role wiring (permissions and
// bindings). The resolver only reads; mutations come from the admin surface.
type DirectoryStore interface {
	GetSubject(ctx context.Context, tenantID, subjectID string) (*Subject, error)
	ListBindings(ctx context.Context, tenantID, subjectID string) ([]*RoleBinding, error)
	ListRolePermissions(ctx context.Context, roleID, permission string) ([]*RolePermission, error)

	PutSubject(ctx context.Context, s *Subject) error
	PutRole(ctx context.Context, r *Role) error
	PutRolePermission(ctx context.Context, rp *RolePermission) error
	CreateBinding(ctx context.Context, b *RoleBinding) error
	DeleteBinding(ctx context.Context, tenantID, bindingID string) error
}

// PolicyStore holds attribute policies plus the deployable tenant policy
// documents for the external engine.
type PolicyStore interface {
	ListAttributePolicies(ctx context.Context, tenantID string, effect Effect) ([]*AttributePolicy, error)
	UpsertAttributePolicy(ctx context.Context, p *AttributePolicy) error
	DeleteAttributePolicy(ctx context.Context, tenantID, policyID string) error

	GetTenantPolicy(ctx context.Context, tenantID, name string) (*TenantPolicy, error)
	UpsertTenantPolicy(ctx context.Context, p *TenantPolicy) error
}

// GrantStore holds the out-of-role allow paths: delegated grants and
// break-glass emergency access.
type GrantStore interface {
	ListDelegatedGrants(ctx context.Context, tenantID, granteeID, permission string) ([]*DelegatedGrant, error)
	ListEmergencyAccess(ctx context.Context, tenantID, requesterID, permission string) ([]*EmergencyAccess, error)

	CreateDelegatedGrant(ctx context.Context, g *DelegatedGrant) error
	DeactivateDelegatedGrant(ctx context.Context, tenantID, grantID string) error
	CreateEmergencyAccess(ctx context.Context, e *EmergencyAccess) error
	ConsumeEmergencyAccess(ctx context.Context, tenantID, grantID string) error
}

// LedgerStore persists audit chain rows. Ordering and hash linkage are owned
// by the Ledger; stores only read the tail and append in creation order.
type LedgerStore interface {
	LatestEntry(ctx context.Context, tenantID string) (*AuditLogEntry, error) // nil when chain empty
	AppendEntry(ctx context.Context, e *AuditLogEntry) error
	ListEntries(ctx context.Context, tenantID string) ([]*AuditLogEntry, error)
	ListTenants(ctx context.Context) ([]string, error)
}

// RevocationStore tracks dead token ids. IsRevoked must be O(1)-ish; it sits
// on the token validation hot path.
type RevocationStore interface {
	Revoke(ctx context.Context, t *RevokedToken) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Prune(ctx context.Context, now time.Time) (int, error)
}
