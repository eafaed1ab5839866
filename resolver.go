package iam

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/oarkflow/iam/logger"
)

// ============================================================================
// PERMISSION RESOLVER
// ============================================================================

// Audit actions written by the resolver and the admin surface.
const (
	ActionCheck         = "permission.check"
	ActionAllowEmerg    = "permission.allow.emergency"
	ActionDenyRole      = "permission.deny.role"
	ActionDenyPolicy    = "permission.deny.policy"
	ActionDenyExternal  = "permission.deny.policy.external"
	ActionBindingCreate = "binding.create"
	ActionBindingRevoke = "binding.revoke"
	ActionPolicyUpdate  = "policy.update"
	ActionPolicyDelete  = "policy.delete"
	ActionPolicyDeploy  = "policy.deploy"
	ActionGrantCreate   = "grant.create"
	ActionGrantRevoke   = "grant.revoke"
	ActionEmergGrant    = "emergency.grant"
	ActionEmergConsume  = "emergency.consume"
	ActionTokenRevoke   = "token.revoke"
)

var permissionNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.:-]*$`)

// DefaultCacheTTL bounds how long a decision may be served without
// re-evaluation.
const DefaultCacheTTL = 30 * time.Second

// Resolver composes the stores, cache, external client, and ledger into the
// decision pipeline. Safe for concurrent use.
type Resolver struct {
	directory DirectoryStore
	policies  PolicyStore
	grants    GrantStore
	ledger    *Ledger
	cache     DecisionCache
	bus       InvalidationBus
	external  *ExternalPolicyClient

	log       logger.Logger
	now       func() time.Time
	cacheTTL  time.Duration
	errorSink func(error)

	exprs sync.Map // expression source -> Expr
}

// NewResolver wires the decision pipeline. Directory, policy, and grant
// stores plus the ledger are required; cache, bus, and external client are
// optional and default to inert local implementations.
func NewResolver(directory DirectoryStore, policies PolicyStore, grants GrantStore, ledger *Ledger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		directory: directory,
		policies:  policies,
		grants:    grants,
		ledger:    ledger,
		cache:     NewMemoryDecisionCache(),
		bus:       NewLocalInvalidationBus(),
		log:       logger.NewNullLogger(),
		now:       time.Now,
		cacheTTL:  DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ledger != nil {
		r.ledger.now = r.now
	}
	return r
}

// Decide runs the precedence pipeline for one permission check. It always
// returns a boolean; any internal failure resolves to deny. Side effects are
// one audit append and one cache write per non-cache-hit call.
func (r *Resolver) Decide(ctx context.Context, tenantID, subjectID, permission string, resource *Resource) (decision bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.sinkError(fmt.Errorf("resolver panic: %v", rec))
			decision = false
		}
	}()

	if tenantID == "" || subjectID == "" || !permissionNameRe.MatchString(permission) {
		r.log.Info("permission.check.invalid_input",
			"tenant", tenantID, "subject", subjectID, "permission", permission)
		return false
	}
	subject, err := r.directory.GetSubject(ctx, tenantID, subjectID)
	if err != nil {
		r.log.Info("permission.check.invalid_input",
			"tenant", tenantID, "subject", subjectID, "permission", permission, "error", err.Error())
		return false
	}

	resourceJSON, err := canonicalJSON(resource)
	if err != nil {
		r.sinkError(fmt.Errorf("canonicalize resource: %w", err))
		return false
	}
	fp := Fingerprint(tenantID, subjectID, permission, resourceJSON)
	if cached, ok := r.cache.Get(tenantID, fp); ok {
		r.log.Debug("decision cache hit", "tenant", tenantID, "fingerprint", fp, "result", cached)
		return cached
	}

	allowed, action := r.evaluate(ctx, subject, permission, resource)

	r.audit(ctx, tenantID, subjectID, action, map[string]any{
		"permission": permission,
		"resource":   resource,
		"result":     allowed,
	})
	r.cache.Set(tenantID, fp, allowed, r.cacheTTL)
	r.log.Info("permission decided",
		"tenant", tenantID, "subject", subjectID, "permission", permission,
		"action", action, "result", allowed)
	return allowed
}

// evaluate walks the precedence tiers and reports the decision together with
// the audit action naming its source.
func (r *Resolver) evaluate(ctx context.Context, subject *Subject, permission string, resource *Resource) (bool, string) {
	now := r.now()
	tenantID := subject.TenantID
	resourceID := ""
	if resource != nil {
		resourceID = resource.ID
	}

	// Tier 1: break-glass beats everything, including explicit denies.
	emergencies, err := r.grants.ListEmergencyAccess(ctx, tenantID, subject.ID, permission)
	if err != nil {
		r.sinkError(fmt.Errorf("list emergency access: %w", err))
		return false, ActionCheck
	}
	for _, e := range emergencies {
		if e.LiveAt(now) && MatchScope(e.ResourceScope, resourceID) {
			return true, ActionAllowEmerg
		}
	}

	bindings, err := r.directory.ListBindings(ctx, tenantID, subject.ID)
	if err != nil {
		r.sinkError(fmt.Errorf("list bindings: %w", err))
		return false, ActionCheck
	}
	live := bindings[:0]
	for _, b := range bindings {
		if !b.ExpiredAt(now) {
			live = append(live, b)
		}
	}

	// Tier 2: explicit deny, role rules first, then local policies, then
	// external policies.
	if r.roleMatch(ctx, live, permission, resourceID, EffectDeny) {
		return false, ActionDenyRole
	}
	denyPolicies, err := r.policies.ListAttributePolicies(ctx, tenantID, EffectDeny)
	if err != nil {
		r.sinkError(fmt.Errorf("list deny policies: %w", err))
		return false, ActionCheck
	}
	if r.policyMatch(ctx, denyPolicies, PolicySimple, subject, resource, permission) {
		return false, ActionDenyPolicy
	}
	if r.policyMatch(ctx, denyPolicies, PolicyExternal, subject, resource, permission) {
		return false, ActionDenyExternal
	}

	// Tier 3: explicit allow, role rules, delegated grants, local policies,
	// external policies.
	if r.roleMatch(ctx, live, permission, resourceID, EffectAllow) {
		return true, ActionCheck
	}
	grants, err := r.grants.ListDelegatedGrants(ctx, tenantID, subject.ID, permission)
	if err != nil {
		r.sinkError(fmt.Errorf("list delegated grants: %w", err))
		return false, ActionCheck
	}
	for _, g := range grants {
		if g.LiveAt(now) && MatchScope(g.ResourceScope, resourceID) {
			return true, ActionCheck
		}
	}
	allowPolicies, err := r.policies.ListAttributePolicies(ctx, tenantID, EffectAllow)
	if err != nil {
		r.sinkError(fmt.Errorf("list allow policies: %w", err))
		return false, ActionCheck
	}
	if r.policyMatch(ctx, allowPolicies, PolicySimple, subject, resource, permission) {
		return true, ActionCheck
	}
	if r.policyMatch(ctx, allowPolicies, PolicyExternal, subject, resource, permission) {
		return true, ActionCheck
	}

	// Tier 4: nothing matched.
	return false, ActionCheck
}

// roleMatch reports whether any live binding carries a role permission with
// the wanted effect whose scope covers the resource.
func (r *Resolver) roleMatch(ctx context.Context, bindings []*RoleBinding, permission, resourceID string, effect Effect) bool {
	for _, b := range bindings {
		perms, err := r.directory.ListRolePermissions(ctx, b.RoleID, permission)
		if err != nil {
			r.sinkError(fmt.Errorf("list role permissions: %w", err))
			continue
		}
		for _, rp := range perms {
			if rp.Effect == effect && matchPermissionScope(rp, b, resourceID) {
				return true
			}
		}
	}
	return false
}

// policyMatch evaluates matching policies of one type. Evaluation failures
// count as "did not match", never as errors.
func (r *Resolver) policyMatch(ctx context.Context, policies []*AttributePolicy, kind PolicyType, subject *Subject, resource *Resource, permission string) bool {
	for _, p := range policies {
		if p.PolicyType != kind {
			continue
		}
		switch kind {
		case PolicySimple:
			if r.evalExpression(p, subject, resource) {
				return true
			}
		case PolicyExternal:
			input := map[string]any{
				"tenant":     subject.TenantID,
				"permission": permission,
				"subject":    map[string]any{"id": subject.ID, "attrs": subject.Attrs},
			}
			if resource != nil {
				input["resource"] = map[string]any{"id": resource.ID, "attrs": resource.Attrs}
			}
			if r.external != nil && r.external.Evaluate(ctx, p.Expression, input) {
				return true
			}
		}
	}
	return false
}

// evalExpression compiles (with memoization) and evaluates a simple policy
// expression. Malformed expressions and missing attributes read as false.
func (r *Resolver) evalExpression(p *AttributePolicy, subject *Subject, resource *Resource) bool {
	var compiled Expr
	if v, ok := r.exprs.Load(p.Expression); ok {
		compiled = v.(Expr)
	} else {
		e, err := CompileExpression(p.Expression)
		if err != nil {
			r.log.Debug("policy expression rejected", "policy", p.ID, "error", err.Error())
			return false
		}
		r.exprs.Store(p.Expression, e)
		compiled = e
	}
	ok, err := compiled.Evaluate(&EvalContext{Subject: subject, Resource: resource})
	if err != nil {
		r.log.Debug("policy expression evaluation failed", "policy", p.ID, "error", err.Error())
		return false
	}
	return ok
}

// audit writes one chain entry. Append failure never flips the decision; it
// is surfaced through the error sink and the log instead.
func (r *Resolver) audit(ctx context.Context, tenantID, actorID, action string, resource any) {
	if r.ledger == nil {
		return
	}
	if _, err := r.ledger.Append(ctx, tenantID, actorID, action, resource); err != nil {
		r.sinkError(fmt.Errorf("audit append (%s/%s): %w", tenantID, action, err))
		r.log.Error("audit append failed", "tenant", tenantID, "action", action, "error", err.Error())
	}
}

// InvalidateTenant clears the local cache shard for a tenant and broadcasts
// the invalidation to other resolver instances.
func (r *Resolver) InvalidateTenant(ctx context.Context, tenantID string) {
	r.cache.Invalidate(tenantID)
	if err := r.bus.Publish(ctx, tenantID); err != nil {
		r.sinkError(fmt.Errorf("publish invalidation for %s: %w", tenantID, err))
	}
}

// ListenInvalidation subscribes this resolver to the invalidation bus so
// broadcasts from other instances sweep the local cache.
func (r *Resolver) ListenInvalidation(ctx context.Context) error {
	return r.bus.Subscribe(ctx, func(tenantID string) {
		r.cache.Invalidate(tenantID)
		r.log.Debug("invalidation received", "tenant", tenantID)
	})
}

// Ledger exposes the resolver's audit chain for export and verification.
func (r *Resolver) Ledger() *Ledger { return r.ledger }

func (r *Resolver) sinkError(err error) {
	if r.errorSink != nil {
		r.errorSink(err)
	}
}
