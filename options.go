package iam

import (
	"time"

	"github.com/oarkflow/iam/logger"
)

// ============================================================================
// RESOLVER OPTIONS
// ============================================================================

// ResolverOption customizes a Resolver at construction time.
type ResolverOption func(*Resolver)

// WithLogger installs a structured logger.
func WithLogger(l logger.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// WithDecisionCache replaces the default in-memory cache.
func WithDecisionCache(c DecisionCache) ResolverOption {
	return func(r *Resolver) {
		if c != nil {
			r.cache = c
		}
	}
}

// WithInvalidationBus replaces the default in-process bus.
func WithInvalidationBus(b InvalidationBus) ResolverOption {
	return func(r *Resolver) {
		if b != nil {
			r.bus = b
		}
	}
}

// WithExternalPolicyClient attaches the out-of-process policy engine.
// Without it, external policies never match.
func WithExternalPolicyClient(c *ExternalPolicyClient) ResolverOption {
	return func(r *Resolver) { r.external = c }
}

// WithCacheTTL bounds decision staleness. Non-positive values keep the
// default.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

// WithClock overrides the resolver clock, including the ledger's timestamp
// source.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithErrorSink receives every swallowed side-effect failure (audit append,
// invalidation publish, store read errors that resolved to deny). Wire it to
// operational alerting; an unaudited allow is a compliance gap.
func WithErrorSink(sink func(error)) ResolverOption {
	return func(r *Resolver) { r.errorSink = sink }
}
