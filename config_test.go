package iam

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "iam.yaml", `
cache:
  ttl_seconds: 10
  max_entries: 5000
external:
  base_url: http://opa:8181
  timeout_ms: 750
redis:
  addr: localhost:6379
  channel: iam:invalidation
token:
  issuer: caex
  ttl_seconds: 900
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CacheTTL() != 10*time.Second {
		t.Fatalf("cache ttl = %v", cfg.CacheTTL())
	}
	if cfg.ExternalTimeout() != 750*time.Millisecond {
		t.Fatalf("external timeout = %v", cfg.ExternalTimeout())
	}
	if cfg.External.BaseURL != "http://opa:8181" {
		t.Fatalf("base url = %s", cfg.External.BaseURL)
	}
	if cfg.Token.Issuer != "caex" {
		t.Fatalf("issuer = %s", cfg.Token.Issuer)
	}
}

func TestLoadConfigJSONAndDefaults(t *testing.T) {
	path := writeConfig(t, "iam.json", `{"external": {"base_url": "http://opa:8181"}}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cache.TTLSeconds != 30 || cfg.Token.TTLSeconds != 900 {
		t.Fatalf("defaults not layered: %+v", cfg)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	path := writeConfig(t, "iam.yaml", "cache:\n  ttl_seconds: -5\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("negative ttl must be rejected")
	}

	path = writeConfig(t, "iam.toml", "whatever")
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("unknown format must be rejected")
	}
}

func TestConfigResolverOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.External.BaseURL = "http://opa:8181"
	opts, err := cfg.ResolverOptions()
	if err != nil {
		t.Fatalf("options: %v", err)
	}

	f := newFixture(t, opts...)
	if f.resolver.external == nil {
		t.Fatalf("external client not wired from config")
	}
	if _, ok := f.resolver.cache.(*RistrettoDecisionCache); !ok {
		t.Fatalf("ristretto cache not wired from config")
	}
	if f.resolver.cacheTTL != cfg.CacheTTL() {
		t.Fatalf("cache ttl not applied")
	}
}
