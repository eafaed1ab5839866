package iam

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// ADMIN SURFACE
// ============================================================================

// Admin is the mutation surface over the resolver's backing stores. Every
// mutation audits a ledger event, clears the tenant's local cache shard, and
// broadcasts the invalidation so other resolver instances follow.
type Admin struct {
	resolver *Resolver
	tokens   *TokenService
}

// NewAdmin binds the mutation surface to a resolver. tokens may be nil when
// token revocation is not managed here.
func NewAdmin(resolver *Resolver, tokens *TokenService) *Admin {
	return &Admin{resolver: resolver, tokens: tokens}
}

func (a *Admin) mutated(ctx context.Context, tenantID, actorID, action string, resource any) {
	a.resolver.audit(ctx, tenantID, actorID, action, resource)
	a.resolver.InvalidateTenant(ctx, tenantID)
}

// CreateRoleBinding binds a subject to a role. A zero ExpiresAt means the
// binding never expires.
func (a *Admin) CreateRoleBinding(ctx context.Context, actorID string, b *RoleBinding) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.TenantID == "" || b.SubjectID == "" || b.RoleID == "" {
		return fmt.Errorf("role binding requires tenant, subject, and role")
	}
	if err := a.resolver.directory.CreateBinding(ctx, b); err != nil {
		return fmt.Errorf("create role binding: %w", err)
	}
	a.mutated(ctx, b.TenantID, actorID, ActionBindingCreate, map[string]any{
		"binding": b.ID, "subject": b.SubjectID, "role": b.RoleID, "scope": b.ResourceScope,
	})
	return nil
}

// RevokeRoleBinding removes a binding and sweeps cached decisions that may
// have depended on it.
func (a *Admin) RevokeRoleBinding(ctx context.Context, actorID, tenantID, bindingID string) error {
	if err := a.resolver.directory.DeleteBinding(ctx, tenantID, bindingID); err != nil {
		return fmt.Errorf("revoke role binding: %w", err)
	}
	a.mutated(ctx, tenantID, actorID, ActionBindingRevoke, map[string]any{"binding": bindingID})
	return nil
}

// UpsertAttributePolicy creates or replaces a local or external policy rule.
func (a *Admin) UpsertAttributePolicy(ctx context.Context, actorID string, p *AttributePolicy) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.PolicyType == PolicySimple {
		if _, err := CompileExpression(p.Expression); err != nil {
			return fmt.Errorf("policy expression rejected: %w", err)
		}
	}
	if err := a.resolver.policies.UpsertAttributePolicy(ctx, p); err != nil {
		return fmt.Errorf("upsert attribute policy: %w", err)
	}
	a.mutated(ctx, p.TenantID, actorID, ActionPolicyUpdate, map[string]any{
		"policy": p.ID, "name": p.Name, "type": string(p.PolicyType), "effect": string(p.Effect),
	})
	return nil
}

// DeleteAttributePolicy removes a policy rule.
func (a *Admin) DeleteAttributePolicy(ctx context.Context, actorID, tenantID, policyID string) error {
	if err := a.resolver.policies.DeleteAttributePolicy(ctx, tenantID, policyID); err != nil {
		return fmt.Errorf("delete attribute policy: %w", err)
	}
	a.mutated(ctx, tenantID, actorID, ActionPolicyDelete, map[string]any{"policy": policyID})
	return nil
}

// GrantDelegated records a time-boxed permission delegation. Expiry is
// mandatory.
func (a *Admin) GrantDelegated(ctx context.Context, actorID string, g *DelegatedGrant) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.ExpiresAt.IsZero() {
		return fmt.Errorf("delegated grant requires an expiry")
	}
	g.Active = true
	if err := a.resolver.grants.CreateDelegatedGrant(ctx, g); err != nil {
		return fmt.Errorf("create delegated grant: %w", err)
	}
	a.mutated(ctx, g.TenantID, actorID, ActionGrantCreate, map[string]any{
		"grant": g.ID, "granter": g.GranterID, "grantee": g.GranteeID, "permission": g.Permission,
	})
	return nil
}

// RevokeDelegated deactivates a delegation before its natural expiry.
func (a *Admin) RevokeDelegated(ctx context.Context, actorID, tenantID, grantID string) error {
	if err := a.resolver.grants.DeactivateDelegatedGrant(ctx, tenantID, grantID); err != nil {
		return fmt.Errorf("revoke delegated grant: %w", err)
	}
	a.mutated(ctx, tenantID, actorID, ActionGrantRevoke, map[string]any{"grant": grantID})
	return nil
}

// GrantEmergency opens a break-glass window. Justification is mandatory;
// these grants bypass explicit denies and every use is audited.
func (a *Admin) GrantEmergency(ctx context.Context, actorID string, e *EmergencyAccess) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Justification == "" {
		return fmt.Errorf("emergency access requires a justification")
	}
	if e.ExpiresAt.IsZero() || !e.ExpiresAt.After(e.StartAt) {
		return fmt.Errorf("emergency access window is empty")
	}
	if err := a.resolver.grants.CreateEmergencyAccess(ctx, e); err != nil {
		return fmt.Errorf("create emergency access: %w", err)
	}
	a.mutated(ctx, e.TenantID, actorID, ActionEmergGrant, map[string]any{
		"grant": e.ID, "requester": e.RequesterID, "permission": e.Permission,
		"justification": e.Justification,
	})
	return nil
}

// ConsumeEmergency closes a break-glass window after use. The resolver never
// consumes grants itself.
func (a *Admin) ConsumeEmergency(ctx context.Context, actorID, tenantID, grantID string) error {
	if err := a.resolver.grants.ConsumeEmergencyAccess(ctx, tenantID, grantID); err != nil {
		return fmt.Errorf("consume emergency access: %w", err)
	}
	a.mutated(ctx, tenantID, actorID, ActionEmergConsume, map[string]any{"grant": grantID})
	return nil
}

// RevokeToken blacklists a jti and audits the revocation.
func (a *Admin) RevokeToken(ctx context.Context, actorID, tenantID, jti, reason string, expiresAt time.Time) error {
	if a.tokens == nil {
		return fmt.Errorf("token service not configured")
	}
	if err := a.tokens.Revoke(ctx, jti, reason, expiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	a.resolver.audit(ctx, tenantID, actorID, ActionTokenRevoke, map[string]any{
		"jti": jti, "reason": reason,
	})
	return nil
}

// DeployTenantPolicy stores a tenant's policy source, pushes it to the
// external engine, and records the deployment outcome on the record. The
// push error, if any, is returned after the status is persisted.
func (a *Admin) DeployTenantPolicy(ctx context.Context, actorID string, p *TenantPolicy) error {
	if a.resolver.external == nil {
		return fmt.Errorf("external policy client not configured")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	pathKey := p.TenantID + "/" + p.Name
	deployErr := a.resolver.external.PushPolicy(ctx, pathKey, p.Source)

	p.LastDeployedAt = a.resolver.now()
	if deployErr != nil {
		p.LastDeployStatus = deployErr.Error()
	} else {
		p.LastDeployStatus = "success"
	}
	if err := a.resolver.policies.UpsertTenantPolicy(ctx, p); err != nil {
		return fmt.Errorf("record tenant policy: %w", err)
	}
	a.mutated(ctx, p.TenantID, actorID, ActionPolicyDeploy, map[string]any{
		"policy": p.Name, "version": p.Version, "status": p.LastDeployStatus,
	})
	return deployErr
}
