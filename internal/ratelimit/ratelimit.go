// Package ratelimit enforces sliding-window request limits per identity
// and route scope. Checks are atomic check-and-increment: an allowed
// request is counted in the same operation that admits it, so concurrent
// requests cannot both pass a boundary check.
package ratelimit

import (
	"context"
	"time"
)

// Rule is one (limit, window) pair.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Rules maps route scopes to rules, with per-identity-class defaults for
// scopes that have no explicit rule.
type Rules struct {
	Anonymous Rule
	Authed    Rule
	Scopes    map[string]Rule
}

// Resolve returns the rule for a scope and identity class.
func (r Rules) Resolve(scope string, id Identity) Rule {
	if rule, ok := r.Scopes[scope]; ok {
		return rule
	}
	if id.Authenticated {
		return r.Authed
	}
	return r.Anonymous
}

// Identity is a rate-limit subject: an anonymous client keyed by IP or
// an authenticated one keyed by user identifier. The two classes never
// share counters.
type Identity struct {
	Key           string
	Authenticated bool
}

// Anonymous returns the identity for an unauthenticated client IP.
func Anonymous(ip string) Identity {
	return Identity{Key: "ip:" + ip}
}

// User returns the identity for an authenticated user.
func User(userID string) Identity {
	return Identity{Key: "user:" + userID, Authenticated: true}
}

// Decision is the outcome of one rate-limit check. A denied decision
// carries RetryAfter so the caller can produce a rate-limit rejection
// rather than a generic error.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter checks and counts a request in one atomic step. State is keyed
// by (identity, scope); distinct scopes never share quota.
type Limiter interface {
	Allow(ctx context.Context, id Identity, scope string) (Decision, error)
	Close() error
}

// stateKey builds the counter key for an (identity, scope) pair.
func stateKey(id Identity, scope string) string {
	return scope + ":" + id.Key
}
