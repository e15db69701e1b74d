// Package guard is the abuse-detection layer: per-scope failure counters
// with lockout windows, layered with an always-active fixed-window request
// limiter. Identity verification stays authoritative over guard verdicts,
// so a counter-store outage fails open and is logged as critical rather
// than locking every user out.
package guard

import (
	"context"
	"fmt"
	"time"

	"payvault.org/internal/obs"
)

// Class separates route families with distinct abuse budgets. Login,
// registration and payment creation carry stricter thresholds than general
// traffic.
type Class string

const (
	ClassLogin    Class = "login"
	ClassRegister Class = "register"
	ClassPayment  Class = "payment"
	ClassGeneral  Class = "general"
)

// Policy bounds one route class: Threshold failures inside Window trip a
// lockout lasting Lockout.
type Policy struct {
	Threshold int
	Window    time.Duration
	Lockout   time.Duration
}

// DefaultPolicies returns the stock per-class budgets. Values are
// configuration, not load-bearing constants.
func DefaultPolicies() map[Class]Policy {
	return map[Class]Policy{
		ClassLogin:    {Threshold: 5, Window: 15 * time.Minute, Lockout: 15 * time.Minute},
		ClassRegister: {Threshold: 3, Window: time.Hour, Lockout: time.Hour},
		ClassPayment:  {Threshold: 10, Window: 15 * time.Minute, Lockout: 15 * time.Minute},
		ClassGeneral:  {Threshold: 20, Window: 15 * time.Minute, Lockout: 5 * time.Minute},
	}
}

// Fixed-window request quota defaults, independent of the brute-force
// machine.
const (
	DefaultQuotaWindow = time.Minute
	DefaultQuotaMax    = 100
)

// CounterStore is the swappable counter backend. Increment must be atomic
// per key: two racing failures for the same key must never undercount. TTL
// reports the time left before a key expires, zero for keys that are missing
// or carry no expiry. The in-memory implementation serves a single process;
// the Redis one is shared across instances.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (int, error)
	Get(ctx context.Context, key string) (int, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Reset(ctx context.Context, key string) error
}

// ThrottledError is the deny verdict: the caller is locked out or over
// quota and may retry after RetryAfter.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("too many requests, retry after %s", e.RetryAfter)
}

// Guard runs the per-scope brute-force state machine and the request quota.
type Guard struct {
	store    CounterStore
	policies map[Class]Policy
}

// Option configures a Guard.
type Option func(*Guard)

// WithPolicy overrides the budget for one class.
func WithPolicy(class Class, pol Policy) Option {
	return func(g *Guard) {
		if pol.Threshold > 0 && pol.Window > 0 && pol.Lockout > 0 {
			g.policies[class] = pol
		}
	}
}

// New builds a Guard over the given counter store.
func New(store CounterStore, opts ...Option) *Guard {
	g := &Guard{store: store, policies: DefaultPolicies()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) policy(class Class) Policy {
	if pol, ok := g.policies[class]; ok {
		return pol
	}
	return g.policies[ClassGeneral]
}

func failKey(class Class, scope string) string { return "fail:" + string(class) + ":" + scope }
func lockKey(class Class, scope string) string { return "lock:" + string(class) + ":" + scope }

// Check reports whether scope may attempt an operation of the given class.
// While locked it returns a ThrottledError whose retry hint is the time left
// on the lockout, falling back to the full lockout duration when the store
// cannot report a TTL. A store failure fails open: a missed lockout is a
// logged security gap, not a denial of service.
func (g *Guard) Check(ctx context.Context, class Class, scope string) error {
	n, err := g.store.Get(ctx, lockKey(class, scope))
	if err != nil {
		obs.LogError("guard", err, map[string]any{
			"check": "lockout", "class": string(class), "severity": "critical",
		})
		return nil
	}
	if n > 0 {
		return &ThrottledError{RetryAfter: g.retryAfter(ctx, lockKey(class, scope), g.policy(class).Lockout)}
	}
	return nil
}

// retryAfter resolves the remaining life of key, falling back to the policy
// duration when the store cannot report it.
func (g *Guard) retryAfter(ctx context.Context, key string, fallback time.Duration) time.Duration {
	if ttl, err := g.store.TTL(ctx, key); err == nil && ttl > 0 {
		return ttl
	}
	return fallback
}

// RecordFailure counts one failure for scope. Crossing the class threshold
// sets the lockout, resets the window counter and reports locked=true so
// the caller can emit its lockout event.
func (g *Guard) RecordFailure(ctx context.Context, class Class, scope string) (bool, error) {
	pol := g.policy(class)
	n, err := g.store.Increment(ctx, failKey(class, scope), pol.Window)
	if err != nil {
		obs.LogError("guard", err, map[string]any{"record": "failure", "class": string(class)})
		return false, err
	}
	if n < pol.Threshold {
		return false, nil
	}
	if _, err := g.store.Increment(ctx, lockKey(class, scope), pol.Lockout); err != nil {
		obs.LogError("guard", err, map[string]any{"record": "lockout", "class": string(class)})
		return false, err
	}
	if err := g.store.Reset(ctx, failKey(class, scope)); err != nil {
		obs.LogError("guard", err, map[string]any{"record": "reset", "class": string(class)})
	}
	obs.ObserveLockout(string(class))
	return true, nil
}

// RecordSuccess returns scope to the open state: the window counter and any
// lockout key are cleared.
func (g *Guard) RecordSuccess(ctx context.Context, class Class, scope string) error {
	if err := g.store.Reset(ctx, failKey(class, scope)); err != nil {
		return err
	}
	return g.store.Reset(ctx, lockKey(class, scope))
}

// Failures returns the current window counter for scope.
func (g *Guard) Failures(ctx context.Context, class Class, scope string) (int, error) {
	return g.store.Get(ctx, failKey(class, scope))
}

// RateLimit applies a fixed-window cap to key, independent of the
// brute-force machine. The first max requests inside a window pass, the
// rest are throttled until the window rolls over; denials carry the time
// left in the window as the retry hint.
func (g *Guard) RateLimit(ctx context.Context, key string, window time.Duration, max int) error {
	if window <= 0 {
		window = DefaultQuotaWindow
	}
	if max <= 0 {
		max = DefaultQuotaMax
	}
	n, err := g.store.Increment(ctx, "quota:"+key, window)
	if err != nil {
		obs.LogError("guard", err, map[string]any{"record": "quota", "key": key})
		return nil
	}
	if n > max {
		return &ThrottledError{RetryAfter: g.retryAfter(ctx, "quota:"+key, window)}
	}
	return nil
}
