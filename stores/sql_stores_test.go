package stores

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/iam"
)

func testDB(t *testing.T) *squealx.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSQLDirectoryStoreBindings(t *testing.T) {
	ctx := context.Background()
	store := NewSQLDirectoryStore(testDB(t))

	err := store.PutSubject(ctx, &iam.Subject{
		ID: "alice", TenantID: "t1", Username: "alice@example.edu",
		Attrs: map[string]any{"department": "registrar"},
	})
	if err != nil {
		t.Fatalf("put subject: %v", err)
	}
	sub, err := store.GetSubject(ctx, "t1", "alice")
	if err != nil {
		t.Fatalf("get subject: %v", err)
	}
	if sub.Attrs["department"] != "registrar" {
		t.Fatalf("attrs not persisted: %+v", sub.Attrs)
	}
	if _, err := store.GetSubject(ctx, "t2", "alice"); err == nil {
		t.Fatalf("subject lookup must be tenant-scoped")
	}

	err = store.PutRolePermission(ctx, &iam.RolePermission{
		ID: "rp1", RoleID: "grader", Permission: "grade.write",
		ResourcePattern: "course:*", Effect: iam.EffectAllow,
	})
	if err != nil {
		t.Fatalf("put role permission: %v", err)
	}
	perms, err := store.ListRolePermissions(ctx, "grader", "grade.write")
	if err != nil {
		t.Fatalf("list role permissions: %v", err)
	}
	if len(perms) != 1 || perms[0].Effect != iam.EffectAllow || perms[0].ResourcePattern != "course:*" {
		t.Fatalf("unexpected permissions: %+v", perms)
	}

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	err = store.CreateBinding(ctx, &iam.RoleBinding{
		ID: "b1", TenantID: "t1", SubjectID: "alice", RoleID: "grader", ExpiresAt: expires,
	})
	if err != nil {
		t.Fatalf("create binding: %v", err)
	}
	err = store.CreateBinding(ctx, &iam.RoleBinding{
		ID: "b2", TenantID: "t1", SubjectID: "alice", RoleID: "auditor",
	})
	if err != nil {
		t.Fatalf("create binding: %v", err)
	}

	bindings, err := store.ListBindings(ctx, "t1", "alice")
	if err != nil {
		t.Fatalf("list bindings: %v", err)
	}
	if len(bindings) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(bindings))
	}
	for _, b := range bindings {
		switch b.ID {
		case "b1":
			if !b.ExpiresAt.Equal(expires) {
				t.Fatalf("expiry lost in roundtrip: %v vs %v", b.ExpiresAt, expires)
			}
		case "b2":
			if !b.ExpiresAt.IsZero() {
				t.Fatalf("NULL expiry must scan as the zero time, got %v", b.ExpiresAt)
			}
		}
	}

	if err := store.DeleteBinding(ctx, "t1", "b1"); err != nil {
		t.Fatalf("delete binding: %v", err)
	}
	bindings, _ = store.ListBindings(ctx, "t1", "alice")
	if len(bindings) != 1 || bindings[0].ID != "b2" {
		t.Fatalf("delete left %+v", bindings)
	}
}

func TestSQLPolicyStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewSQLPolicyStore(testDB(t))

	err := store.UpsertAttributePolicy(ctx, &iam.AttributePolicy{
		ID: "p1", TenantID: "t1", Name: "registrar-only",
		PolicyType: iam.PolicySimple, Expression: "subject.attrs.department == 'registrar'",
		Effect: iam.EffectAllow,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	allows, err := store.ListAttributePolicies(ctx, "t1", iam.EffectAllow)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(allows) != 1 || allows[0].PolicyType != iam.PolicySimple {
		t.Fatalf("unexpected policies: %+v", allows)
	}
	denies, _ := store.ListAttributePolicies(ctx, "t1", iam.EffectDeny)
	if len(denies) != 0 {
		t.Fatalf("effect filter leaked: %+v", denies)
	}

	// Upsert with same id replaces.
	err = store.UpsertAttributePolicy(ctx, &iam.AttributePolicy{
		ID: "p1", TenantID: "t1", Name: "registrar-only",
		PolicyType: iam.PolicySimple, Expression: "subject.attrs.department == 'bursar'",
		Effect: iam.EffectAllow,
	})
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	allows, _ = store.ListAttributePolicies(ctx, "t1", iam.EffectAllow)
	if len(allows) != 1 || allows[0].Expression != "subject.attrs.department == 'bursar'" {
		t.Fatalf("upsert did not replace: %+v", allows)
	}

	if err := store.DeleteAttributePolicy(ctx, "t1", "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	deployed := time.Now().UTC().Truncate(time.Second)
	err = store.UpsertTenantPolicy(ctx, &iam.TenantPolicy{
		ID: "tp1", TenantID: "t1", Name: "grading", Source: "package caex.grading",
		Version: "v2", LastDeployedAt: deployed, LastDeployStatus: "success",
	})
	if err != nil {
		t.Fatalf("upsert tenant policy: %v", err)
	}
	tp, err := store.GetTenantPolicy(ctx, "t1", "grading")
	if err != nil {
		t.Fatalf("get tenant policy: %v", err)
	}
	if tp.LastDeployStatus != "success" || !tp.LastDeployedAt.Equal(deployed) {
		t.Fatalf("deploy status lost: %+v", tp)
	}
}

func TestSQLGrantStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewSQLGrantStore(testDB(t))
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	err := store.CreateDelegatedGrant(ctx, &iam.DelegatedGrant{
		ID: "g1", TenantID: "t1", GranterID: "alice", GranteeID: "bob",
		Permission: "grade.read", ResourceScope: "course:*", Active: true, ExpiresAt: expires,
	})
	if err != nil {
		t.Fatalf("create grant: %v", err)
	}
	grants, err := store.ListDelegatedGrants(ctx, "t1", "bob", "grade.read")
	if err != nil {
		t.Fatalf("list grants: %v", err)
	}
	if len(grants) != 1 || !grants[0].Active || !grants[0].ExpiresAt.Equal(expires) {
		t.Fatalf("grant roundtrip mismatch: %+v", grants)
	}

	if err := store.DeactivateDelegatedGrant(ctx, "t1", "g1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	grants, _ = store.ListDelegatedGrants(ctx, "t1", "bob", "grade.read")
	if grants[0].Active {
		t.Fatalf("deactivation not persisted")
	}
	if err := store.DeactivateDelegatedGrant(ctx, "t1", "missing"); err == nil {
		t.Fatalf("deactivating a missing grant must error")
	}

	start := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	err = store.CreateEmergencyAccess(ctx, &iam.EmergencyAccess{
		ID: "e1", TenantID: "t1", RequesterID: "oncall", Permission: "incident.resolve",
		Justification: "sev1", StartAt: start, ExpiresAt: expires,
	})
	if err != nil {
		t.Fatalf("create emergency: %v", err)
	}
	list, err := store.ListEmergencyAccess(ctx, "t1", "oncall", "incident.resolve")
	if err != nil {
		t.Fatalf("list emergency: %v", err)
	}
	if len(list) != 1 || list[0].Consumed || list[0].Justification != "sev1" {
		t.Fatalf("emergency roundtrip mismatch: %+v", list)
	}

	if err := store.ConsumeEmergencyAccess(ctx, "t1", "e1"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	list, _ = store.ListEmergencyAccess(ctx, "t1", "oncall", "incident.resolve")
	if !list[0].Consumed {
		t.Fatalf("consumption not persisted")
	}
}

func TestSQLLedgerStoreChain(t *testing.T) {
	ctx := context.Background()
	ledger := iam.NewLedger(NewSQLLedgerStore(testDB(t)))

	for i := 0; i < 4; i++ {
		if _, err := ledger.Append(ctx, "t1", "alice", "permission.check", map[string]any{"seq": i}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := ledger.Append(ctx, "t2", "bob", "permission.check", nil); err != nil {
		t.Fatalf("append t2: %v", err)
	}

	idx, err := ledger.VerifyChain(ctx, "t1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if idx != -1 {
		t.Fatalf("chain broken at %d", idx)
	}

	entries, err := ledger.Export(ctx, "t1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].Hash {
			t.Fatalf("linkage broken between %d and %d", i-1, i)
		}
	}

	tenants, err := ledger.Tenants(ctx)
	if err != nil {
		t.Fatalf("tenants: %v", err)
	}
	if len(tenants) != 2 {
		t.Fatalf("expected 2 tenants, got %v", tenants)
	}
}

func TestSQLRevocationStorePrune(t *testing.T) {
	ctx := context.Background()
	store := NewSQLRevocationStore(testDB(t))
	now := time.Now().UTC()

	_ = store.Revoke(ctx, &iam.RevokedToken{JTI: "dead", ExpiresAt: now.Add(-time.Minute)})
	_ = store.Revoke(ctx, &iam.RevokedToken{JTI: "live", ExpiresAt: now.Add(time.Hour)})
	_ = store.Revoke(ctx, &iam.RevokedToken{JTI: "no-exp"})

	if revoked, err := store.IsRevoked(ctx, "dead"); err != nil || !revoked {
		t.Fatalf("IsRevoked(dead) = %v, %v", revoked, err)
	}
	if revoked, _ := store.IsRevoked(ctx, "unknown"); revoked {
		t.Fatalf("unknown jti must not read as revoked")
	}

	n, err := store.Prune(ctx, now)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	if revoked, _ := store.IsRevoked(ctx, "live"); !revoked {
		t.Fatalf("live revocation pruned")
	}
	if revoked, _ := store.IsRevoked(ctx, "no-exp"); !revoked {
		t.Fatalf("revocation without exp pruned")
	}
}
