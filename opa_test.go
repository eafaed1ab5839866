package iam

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestExternalEvaluateResultShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want bool
	}{
		{"bool true", `{"result": true}`, true},
		{"bool false", `{"result": false}`, false},
		{"allow key true", `{"result": {"allow": true}}`, true},
		{"allow key false", `{"result": {"allow": false}}`, false},
		{"object without allow", `{"result": {"violations": []}}`, true},
		{"empty object", `{"result": {}}`, false},
		{"missing result", `{}`, false},
		{"null result", `{"result": null}`, false},
		{"string result", `{"result": "ok"}`, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/v1/data/caex/authz" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				var payload map[string]any
				if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
					t.Errorf("decode body: %v", err)
				}
				if _, ok := payload["input"]; !ok {
					t.Errorf("request body missing input envelope")
				}
				io.WriteString(w, c.body)
			}))
			defer srv.Close()

			client := NewExternalPolicyClient(srv.URL, time.Second)
			got := client.Evaluate(context.Background(), "caex/authz", map[string]any{"subject": "alice"})
			if got != c.want {
				t.Fatalf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestExternalEvaluateFailClosed(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()
		client := NewExternalPolicyClient(srv.URL, time.Second)
		if client.Evaluate(context.Background(), "caex/authz", nil) {
			t.Fatalf("non-2xx must read as deny")
		}
	})

	t.Run("garbage body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "not json")
		}))
		defer srv.Close()
		client := NewExternalPolicyClient(srv.URL, time.Second)
		if client.Evaluate(context.Background(), "caex/authz", nil) {
			t.Fatalf("unparsable body must read as deny")
		}
	})

	t.Run("unreachable engine", func(t *testing.T) {
		client := NewExternalPolicyClient("http://127.0.0.1:1", 200*time.Millisecond)
		if client.Evaluate(context.Background(), "caex/authz", nil) {
			t.Fatalf("network error must read as deny")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
			io.WriteString(w, `{"result": true}`)
		}))
		defer srv.Close()
		client := NewExternalPolicyClient(srv.URL, 50*time.Millisecond)
		if client.Evaluate(context.Background(), "caex/authz", nil) {
			t.Fatalf("timeout must read as deny")
		}
	})
}

func TestPushPolicy(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/v1/policies/t1/grading" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer srv.Close()

	client := NewExternalPolicyClient(srv.URL, time.Second)
	if err := client.PushPolicy(context.Background(), "t1/grading", "package caex.authz"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if gotBody != "package caex.authz" {
		t.Fatalf("raw source not forwarded: %q", gotBody)
	}
}

func TestPushPolicyErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "compile error", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewExternalPolicyClient(srv.URL, time.Second)
	err := client.PushPolicy(context.Background(), "t1/grading", "package broken")
	if err == nil || !strings.Contains(err.Error(), "compile error") {
		t.Fatalf("expected engine error detail, got %v", err)
	}
}

func TestResolverExternalPolicyFailClosed(t *testing.T) {
	f := newFixture(t, WithExternalPolicyClient(
		NewExternalPolicyClient("http://127.0.0.1:1", 100*time.Millisecond)))
	f.addSubject(t, "t1", "alice", nil)
	_ = f.policies.UpsertAttributePolicy(context.Background(), &AttributePolicy{
		ID: "ext", TenantID: "t1", PolicyType: PolicyExternal,
		Expression: "caex/authz", Effect: EffectAllow,
	})

	if f.resolver.Decide(context.Background(), "t1", "alice", "grade.write", nil) {
		t.Fatalf("unreachable external engine must not allow")
	}
}

func TestResolverExternalDeny(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"result": true}`)
	}))
	defer srv.Close()

	f := newFixture(t, WithExternalPolicyClient(NewExternalPolicyClient(srv.URL, time.Second)))
	f.addSubject(t, "t1", "alice", nil)
	f.addRoleRule(t, "grader", "grade.write", "", EffectAllow)
	f.bind(t, "t1", "alice", "grader", "", time.Time{})
	_ = f.policies.UpsertAttributePolicy(context.Background(), &AttributePolicy{
		ID: "ext-deny", TenantID: "t1", PolicyType: PolicyExternal,
		Expression: "caex/deny", Effect: EffectDeny,
	})

	if f.resolver.Decide(context.Background(), "t1", "alice", "grade.write", nil) {
		t.Fatalf("external deny must win over role allow")
	}
	entries, _ := f.ledger.ListEntries(context.Background(), "t1")
	if len(entries) != 1 || entries[0].Action != ActionDenyExternal {
		t.Fatalf("expected %s audit entry, got %+v", ActionDenyExternal, entries)
	}
}
