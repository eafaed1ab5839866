package iam

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// IN-MEMORY STORES
// ============================================================================

// MemoryDirectoryStore keeps the directory in maps guarded by an RWMutex.
// Suitable for tests and single-process deployments.
type MemoryDirectoryStore struct {
	mu       sync.RWMutex
	subjects map[string]*Subject          // tenant|id
	roles    map[string]*Role             // id
	perms    map[string][]*RolePermission // roleID
	bindings map[string][]*RoleBinding    // tenant|subject
}

func NewMemoryDirectoryStore() *MemoryDirectoryStore {
	return &MemoryDirectoryStore{
		subjects: make(map[string]*Subject),
		roles:    make(map[string]*Role),
		perms:    make(map[string][]*RolePermission),
		bindings: make(map[string][]*RoleBinding),
	}
}

func tenantKey(tenantID, id string) string { return tenantID + "|" + id }

func (s *MemoryDirectoryStore) GetSubject(ctx context.Context, tenantID, subjectID string) (*Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subjects[tenantKey(tenantID, subjectID)]
	if !ok {
		return nil, fmt.Errorf("subject not found: %s/%s", tenantID, subjectID)
	}
	return sub, nil
}

func (s *MemoryDirectoryStore) ListBindings(ctx context.Context, tenantID, subjectID string) ([]*RoleBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.bindings[tenantKey(tenantID, subjectID)]
	out := make([]*RoleBinding, len(src))
	copy(out, src)
	return out, nil
}

func (s *MemoryDirectoryStore) ListRolePermissions(ctx context.Context, roleID, permission string) ([]*RolePermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RolePermission, 0)
	for _, rp := range s.perms[roleID] {
		if rp.Permission == permission {
			out = append(out, rp)
		}
	}
	return out, nil
}

func (s *MemoryDirectoryStore) PutSubject(ctx context.Context, sub *Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[tenantKey(sub.TenantID, sub.ID)] = sub
	return nil
}

func (s *MemoryDirectoryStore) PutRole(ctx context.Context, r *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.roles[r.ID] = r
	return nil
}

func (s *MemoryDirectoryStore) PutRolePermission(ctx context.Context, rp *RolePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms[rp.RoleID] = append(s.perms[rp.RoleID], rp)
	return nil
}

func (s *MemoryDirectoryStore) CreateBinding(ctx context.Context, b *RoleBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	key := tenantKey(b.TenantID, b.SubjectID)
	s.bindings[key] = append(s.bindings[key], b)
	return nil
}

func (s *MemoryDirectoryStore) DeleteBinding(ctx context.Context, tenantID, bindingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, list := range s.bindings {
		kept := list[:0]
		for _, b := range list {
			if !(b.TenantID == tenantID && b.ID == bindingID) {
				kept = append(kept, b)
			}
		}
		s.bindings[key] = kept
	}
	return nil
}

// MemoryPolicyStore keeps attribute policies and tenant policy documents
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string][]*AttributePolicy // tenantID
	tenant   map[string]*TenantPolicy      // tenant|name
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{
		policies: make(map[string][]*AttributePolicy),
		tenant:   make(map[string]*TenantPolicy),
	}
}

func (s *MemoryPolicyStore) ListAttributePolicies(ctx context.Context, tenantID string, effect Effect) ([]*AttributePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AttributePolicy, 0)
	for _, p := range s.policies[tenantID] {
		if p.Effect == effect {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryPolicyStore) UpsertAttributePolicy(ctx context.Context, p *AttributePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	list := s.policies[p.TenantID]
	for i, existing := range list {
		if existing.ID == p.ID {
			list[i] = p
			return nil
		}
	}
	s.policies[p.TenantID] = append(list, p)
	return nil
}

func (s *MemoryPolicyStore) DeleteAttributePolicy(ctx context.Context, tenantID, policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.policies[tenantID]
	kept := list[:0]
	for _, p := range list {
		if p.ID != policyID {
			kept = append(kept, p)
		}
	}
	s.policies[tenantID] = kept
	return nil
}

func (s *MemoryPolicyStore) GetTenantPolicy(ctx context.Context, tenantID, name string) (*TenantPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.tenant[tenantKey(tenantID, name)]
	if !ok {
		return nil, fmt.Errorf("tenant policy not found: %s/%s", tenantID, name)
	}
	return p, nil
}

func (s *MemoryPolicyStore) UpsertTenantPolicy(ctx context.Context, p *TenantPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.tenant[tenantKey(p.TenantID, p.Name)] = p
	return nil
}

// MemoryGrantStore keeps delegated grants and emergency access grants
type MemoryGrantStore struct {
	mu        sync.RWMutex
	grants    map[string][]*DelegatedGrant  // tenantID
	emergency map[string][]*EmergencyAccess // tenantID
}

func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{
		grants:    make(map[string][]*DelegatedGrant),
		emergency: make(map[string][]*EmergencyAccess),
	}
}

func (s *MemoryGrantStore) ListDelegatedGrants(ctx context.Context, tenantID, granteeID, permission string) ([]*DelegatedGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*DelegatedGrant, 0)
	for _, g := range s.grants[tenantID] {
		if g.GranteeID == granteeID && g.Permission == permission {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *MemoryGrantStore) ListEmergencyAccess(ctx context.Context, tenantID, requesterID, permission string) ([]*EmergencyAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*EmergencyAccess, 0)
	for _, e := range s.emergency[tenantID] {
		if e.RequesterID == requesterID && e.Permission == permission {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryGrantStore) CreateDelegatedGrant(ctx context.Context, g *DelegatedGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	s.grants[g.TenantID] = append(s.grants[g.TenantID], g)
	return nil
}

func (s *MemoryGrantStore) DeactivateDelegatedGrant(ctx context.Context, tenantID, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.grants[tenantID] {
		if g.ID == grantID {
			g.Active = false
			return nil
		}
	}
	return fmt.Errorf("delegated grant not found: %s/%s", tenantID, grantID)
}

func (s *MemoryGrantStore) CreateEmergencyAccess(ctx context.Context, e *EmergencyAccess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.emergency[e.TenantID] = append(s.emergency[e.TenantID], e)
	return nil
}

func (s *MemoryGrantStore) ConsumeEmergencyAccess(ctx context.Context, tenantID, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.emergency[tenantID] {
		if e.ID == grantID {
			e.Consumed = true
			return nil
		}
	}
	return fmt.Errorf("emergency access not found: %s/%s", tenantID, grantID)
}

// MemoryLedgerStore keeps per-tenant entry slices in creation order.
// failAppends forces append errors for failure-path tests.
type MemoryLedgerStore struct {
	mu          sync.RWMutex
	entries     map[string][]*AuditLogEntry
	nextID      int64
	failAppends bool
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{entries: make(map[string][]*AuditLogEntry)}
}

func (s *MemoryLedgerStore) LatestEntry(ctx context.Context, tenantID string) (*AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.entries[tenantID]
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[len(chain)-1], nil
}

func (s *MemoryLedgerStore) AppendEntry(ctx context.Context, e *AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppends {
		return fmt.Errorf("append disabled")
	}
	s.nextID++
	e.ID = s.nextID
	s.entries[e.TenantID] = append(s.entries[e.TenantID], e)
	return nil
}

func (s *MemoryLedgerStore) ListEntries(ctx context.Context, tenantID string) ([]*AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.entries[tenantID]
	out := make([]*AuditLogEntry, len(src))
	copy(out, src)
	return out, nil
}

func (s *MemoryLedgerStore) ListTenants(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for t := range s.entries {
		out = append(out, t)
	}
	return out, nil
}

// MemoryRevocationStore keeps revoked jtis in a map
type MemoryRevocationStore struct {
	mu      sync.RWMutex
	revoked map[string]*RevokedToken
}

func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{revoked: make(map[string]*RevokedToken)}
}

func (s *MemoryRevocationStore) Revoke(ctx context.Context, t *RevokedToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.RevokedAt.IsZero() {
		t.RevokedAt = time.Now()
	}
	s.revoked[t.JTI] = t
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[jti]
	return ok, nil
}

// Prune removes revocations whose token exp has safely passed. Entries
// without a recorded exp are kept forever.
func (s *MemoryRevocationStore) Prune(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for jti, t := range s.revoked {
		if !t.ExpiresAt.IsZero() && t.ExpiresAt.Before(now) {
			delete(s.revoked, jti)
			n++
		}
	}
	return n, nil
}
