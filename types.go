package iam

import (
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Effect is the outcome a rule contributes to an evaluation
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Tenant is the isolation boundary; every other record is tenant-scoped
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Subject is a tenant's user (or an opaque group id used in bindings)
type Subject struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenant_id"`
	Username string         `json:"username"`
	Attrs    map[string]any `json:"attrs"`
}

// Resource identifies what a decision is about. Attrs feed the attribute
// policy evaluator; ID feeds the scope matcher.
type Resource struct {
	ID    string         `json:"id"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Role is a named, tenant-scoped grouping of permission effects
type Role struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Builtin   bool      `json:"builtin"`
	CreatedAt time.Time `json:"created_at"`
}

// RolePermission binds a role to a permission name with an effect and an
// optional resource scope pattern. Several rows may exist per (role,
// permission) with different patterns or effects.
type RolePermission struct {
	ID              string `json:"id"`
	RoleID          string `json:"role_id"`
	Permission      string `json:"permission"`
	ResourcePattern string `json:"resource_pattern,omitempty"`
	Effect          Effect `json:"effect"`
}

// RoleBinding assigns a role to a subject within a tenant. An expired
// binding (ExpiresAt <= now) is inert; prior decisions are not revisited.
type RoleBinding struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	SubjectID     string    `json:"subject_id"`
	RoleID        string    `json:"role_id"`
	ResourceScope string    `json:"resource_scope,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"` // zero = no expiry
	CreatedBy     string    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ExpiredAt reports whether the binding is inert at the given instant.
// The boundary itself counts as expired.
func (b *RoleBinding) ExpiredAt(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && !b.ExpiresAt.After(now)
}

// PolicyType selects how an AttributePolicy payload is evaluated
type PolicyType string

const (
	PolicySimple   PolicyType = "simple"   // local expression grammar
	PolicyExternal PolicyType = "external" // delegated to the external engine
)

// AttributePolicy is a tenant-scoped ABAC rule. For simple policies the
// Expression is parsed by the local evaluator; for external policies it is
// the policy path passed to the external engine.
type AttributePolicy struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Name       string     `json:"name"`
	PolicyType PolicyType `json:"policy_type"`
	Expression string     `json:"expression"`
	Effect     Effect     `json:"effect"`
	CreatedAt  time.Time  `json:"created_at"`
}

// DelegatedGrant is a time-boxed allow-only transfer of a single permission
// from a granter to a grantee, outside the role system.
type DelegatedGrant struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	GranterID     string    `json:"granter_id"`
	GranteeID     string    `json:"grantee_id"`
	Permission    string    `json:"permission"`
	ResourceScope string    `json:"resource_scope,omitempty"`
	Justification string    `json:"justification,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// LiveAt reports whether the grant can satisfy an allow at the given instant
func (g *DelegatedGrant) LiveAt(now time.Time) bool {
	return g.Active && g.ExpiresAt.After(now)
}

// EmergencyAccess is a break-glass grant: time-boxed, justification-carrying,
// highest-precedence allow. Bounded by [StartAt, ExpiresAt).
type EmergencyAccess struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	RequesterID   string    `json:"requester_id"`
	Permission    string    `json:"permission"`
	ResourceScope string    `json:"resource_scope,omitempty"`
	Justification string    `json:"justification"`
	ApprovedBy    string    `json:"approved_by,omitempty"`
	StartAt       time.Time `json:"start_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Consumed      bool      `json:"consumed"`
	CreatedAt     time.Time `json:"created_at"`
}

// LiveAt reports whether the grant is usable at the given instant
func (e *EmergencyAccess) LiveAt(now time.Time) bool {
	return !e.Consumed && !e.StartAt.After(now) && e.ExpiresAt.After(now)
}

// TenantPolicy is a per-tenant rule document managed locally and deployable
// to the external policy engine. Deploy outcome is recorded on the row.
type TenantPolicy struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	Name             string    `json:"name"`
	Source           string    `json:"source"`
	Version          string    `json:"version,omitempty"`
	LastDeployedAt   time.Time `json:"last_deployed_at,omitempty"`
	LastDeployStatus string    `json:"last_deploy_status,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// AuditLogEntry is one link in a tenant's hash chain. PrevHash of the first
// entry is empty; every later entry carries the preceding entry's Hash.
type AuditLogEntry struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ActorID   string    `json:"actor_id,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"` // canonical JSON detail
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// RevokedToken marks a token id as dead. ExpiresAt mirrors the token's own
// exp so pruning can never drop a revocation for a still-live token.
type RevokedToken struct {
	JTI       string    `json:"jti"`
	RevokedAt time.Time `json:"revoked_at"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}
