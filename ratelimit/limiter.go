// Package ratelimit provides a fixed-window request limiter backed by Redis.
//
// The counter for a window lives under one key that expires with the
// window, so every instance of the service shares the same budget.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces limiter keys.
const DefaultPrefix = "tollgate:rate_limit"

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// Rule is a budget of Limit requests per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Result is the outcome of one Allow call.
type Result struct {
	Allowed    bool
	Count      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter consumes from per-scope, per-subject budgets.
type Limiter struct {
	client redis.UniversalClient
	prefix string
}

// New creates a Limiter. An empty prefix means DefaultPrefix.
func New(client redis.UniversalClient, prefix string) *Limiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Limiter{client: client, prefix: prefix}
}

// Allow consumes one request from the budget of (scope, subject). A zero
// rule, an empty scope or an empty subject always allows.
func (l *Limiter) Allow(ctx context.Context, scope, subject string, rule Rule) (Result, error) {
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if l == nil || l.client == nil || rule.Limit <= 0 || rule.Window <= 0 || scope == "" || subject == "" {
		return Result{Allowed: true}, nil
	}

	windowMs := rule.Window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", l.prefix, scope, subject)
	raw, err := fixedWindowScript.Run(ctx, l.client, []string{key}, windowMs).Result()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return Result{}, fmt.Errorf("ratelimit: unexpected response shape %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return Result{}, fmt.Errorf("ratelimit: unexpected count type %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok || ttlMs < 0 {
		ttlMs = windowMs
	}

	res := Result{
		Allowed:   count <= int64(rule.Limit),
		Count:     int(count),
		Remaining: max(rule.Limit-int(count), 0),
	}
	if !res.Allowed {
		secs := math.Ceil(float64(ttlMs) / 1000.0)
		res.RetryAfter = time.Duration(max(secs, 1)) * time.Second
	}
	return res, nil
}
