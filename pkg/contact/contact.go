// Package contact implements the ContactResolver (spec §4.4): resolving a
// message's (target, application, priority) to a (mode, destination),
// with fallback-mode and reprioritization-rule rewriting.
package contact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pagewave/pagewave/internal/store"
	"github.com/pagewave/pagewave/pkg/cache"
)

// ErrUnresolved indicates every mode lookup and the fallback both failed —
// the caller must deactivate the message with a MODE_CHANGE -> invalid audit.
var ErrUnresolved = errors.New("contact: could not resolve a destination")

// Resolution is the outcome of resolving a message's delivery target.
type Resolution struct {
	ModeID      uuid.UUID
	ModeName    string
	Destination string
	// Reprioritized is true if a reprioritization rule rewrote the mode.
	Reprioritized bool
	// PreRewriteModeID is the mode that was tried and failed, or the mode
	// before a reprioritization rewrite — used to build MODE_CHANGE audits.
	PreRewriteModeID uuid.UUID
}

// Resolver resolves contacts using cached reference data, the store for
// contact lookups, and Redis for reprioritization's recent-send counters.
type Resolver struct {
	queries      *store.Queries
	cache        *cache.Cache
	redis        *redis.Client
	fallbackMode string
}

// New creates a Resolver. fallbackMode is the configured
// target_fallback_mode (spec default "email").
func New(queries *store.Queries, c *cache.Cache, rdb *redis.Client, fallbackMode string) *Resolver {
	return &Resolver{queries: queries, cache: c, redis: rdb, fallbackMode: fallbackMode}
}

// Resolve implements the §4.4 resolution order: target_application_mode ->
// target_mode -> priority.default_mode, then target_contact lookup, then
// fallback-mode retry, then reprioritization rewrite of the final mode.
func (r *Resolver) Resolve(ctx context.Context, targetID, applicationID, priorityID uuid.UUID) (Resolution, error) {
	modeID, err := r.preferredMode(ctx, targetID, applicationID, priorityID)
	if err != nil {
		return Resolution{}, fmt.Errorf("determining preferred mode: %w", err)
	}

	destination, resolvedModeID, err := r.lookupOrFallback(ctx, targetID, modeID)
	if err != nil {
		// Carry the mode that was actually tried so the caller can audit
		// MODE_CHANGE with a real "from" value instead of a blank one.
		return Resolution{PreRewriteModeID: modeID}, ErrUnresolved
	}

	res := Resolution{ModeID: resolvedModeID, Destination: destination, PreRewriteModeID: resolvedModeID}
	if mode, ok := r.cache.Mode(resolvedModeID); ok {
		res.ModeName = mode.Name
	}

	if err := r.applyReprioritization(ctx, targetID, &res); err != nil {
		return Resolution{}, fmt.Errorf("applying reprioritization: %w", err)
	}

	if err := r.recordSend(ctx, targetID, res.ModeID); err != nil {
		return Resolution{}, fmt.Errorf("recording send for reprioritization window: %w", err)
	}

	return res, nil
}

// FallbackModeName returns the configured target_fallback_mode, so callers
// driving a manual retry (the Dispatcher's fallback-mode-once path) know
// which mode to force.
func (r *Resolver) FallbackModeName() string {
	return r.fallbackMode
}

// ResolveForMode resolves targetID's contact for a specific mode directly,
// skipping the preferred-mode derivation and the automatic fallback retry —
// used when a caller has already decided which mode to use (the
// Dispatcher's forced-fallback-mode retry after a vendor send failure).
func (r *Resolver) ResolveForMode(ctx context.Context, targetID, modeID uuid.UUID) (Resolution, error) {
	tc, err := r.queries.GetTargetContact(ctx, targetID, modeID)
	if err != nil {
		return Resolution{PreRewriteModeID: modeID}, ErrUnresolved
	}

	res := Resolution{ModeID: modeID, Destination: tc.Destination, PreRewriteModeID: modeID}
	if mode, ok := r.cache.Mode(modeID); ok {
		res.ModeName = mode.Name
	}

	if err := r.applyReprioritization(ctx, targetID, &res); err != nil {
		return Resolution{}, fmt.Errorf("applying reprioritization: %w", err)
	}
	if err := r.recordSend(ctx, targetID, res.ModeID); err != nil {
		return Resolution{}, fmt.Errorf("recording send for reprioritization window: %w", err)
	}
	return res, nil
}

// preferredMode implements the three-level resolution order.
func (r *Resolver) preferredMode(ctx context.Context, targetID, applicationID, priorityID uuid.UUID) (uuid.UUID, error) {
	if tam, err := r.queries.GetTargetApplicationMode(ctx, targetID, applicationID, priorityID); err == nil {
		return tam.ModeID, nil
	}

	if tm, err := r.queries.GetTargetMode(ctx, targetID, priorityID); err == nil {
		return tm.ModeID, nil
	}

	priority, ok := r.cache.Priority(priorityID)
	if !ok {
		return uuid.Nil, fmt.Errorf("priority %s not in cache", priorityID)
	}
	return priority.DefaultModeID, nil
}

// lookupOrFallback resolves a destination for modeID, retrying with the
// configured fallback mode on failure.
func (r *Resolver) lookupOrFallback(ctx context.Context, targetID, modeID uuid.UUID) (destination string, resolvedMode uuid.UUID, err error) {
	if tc, err := r.queries.GetTargetContact(ctx, targetID, modeID); err == nil {
		return tc.Destination, modeID, nil
	}

	fallback, ok := r.cache.ModeByName(r.fallbackMode)
	if !ok {
		return "", uuid.Nil, fmt.Errorf("fallback mode %q not in cache", r.fallbackMode)
	}
	if fallback.ID == modeID {
		return "", uuid.Nil, ErrUnresolved // already tried this mode
	}

	tc, err := r.queries.GetTargetContact(ctx, targetID, fallback.ID)
	if err != nil {
		return "", uuid.Nil, ErrUnresolved
	}
	return tc.Destination, fallback.ID, nil
}

// applyReprioritization rewrites res.ModeID (and re-resolves the
// destination) if a rule for (target, current mode) has been exceeded
// within its window.
func (r *Resolver) applyReprioritization(ctx context.Context, targetID uuid.UUID, res *Resolution) error {
	rule, ok := r.cache.ReprioritizationRule(targetID, res.ModeID)
	if !ok {
		return nil
	}

	count, err := r.recentSendCount(ctx, targetID, res.ModeID, time.Duration(rule.DurationS)*time.Second)
	if err != nil {
		return fmt.Errorf("counting recent sends: %w", err)
	}
	if count < rule.Count {
		return nil
	}

	tc, err := r.queries.GetTargetContact(ctx, targetID, rule.DstModeID)
	if err != nil {
		// The rewritten mode has no contact — keep the original resolution.
		return nil
	}

	res.PreRewriteModeID = res.ModeID
	res.ModeID = rule.DstModeID
	res.Destination = tc.Destination
	res.Reprioritized = true
	if mode, ok := r.cache.Mode(rule.DstModeID); ok {
		res.ModeName = mode.Name
	}
	return nil
}

// sendCountKey is the Redis sorted-set key tracking recent sends to a
// (target, mode) pair for reprioritization.
func sendCountKey(targetID, modeID uuid.UUID) string {
	return fmt.Sprintf("pagewave:reprioritization:%s:%s", targetID, modeID)
}

// recentSendCount counts sends to (target, mode) within window, pruning
// stale entries first — a Redis sorted set scored by send time, grounded
// on the teacher's Redis INCR+EXPIRE rate-limit pattern but windowed via
// ZREMRANGEBYSCORE/ZCARD instead of a single counter, since reprioritization
// needs a true sliding window rather than a fixed bucket.
func (r *Resolver) recentSendCount(ctx context.Context, targetID, modeID uuid.UUID, window time.Duration) (int, error) {
	key := sendCountKey(targetID, modeID)
	cutoff := time.Now().Add(-window).UnixNano()

	if err := r.redis.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff)).Err(); err != nil {
		return 0, fmt.Errorf("pruning send history: %w", err)
	}

	count, err := r.redis.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("counting send history: %w", err)
	}
	return int(count), nil
}

// recordSend appends a send event to the (target, mode) sorted set used by
// reprioritization counting, with a TTL equal to the widest rule window
// pagewave enforces (bounded by spec's 3600s max duration).
func (r *Resolver) recordSend(ctx context.Context, targetID, modeID uuid.UUID) error {
	key := sendCountKey(targetID, modeID)
	now := time.Now()

	if err := r.redis.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()}).Err(); err != nil {
		return fmt.Errorf("recording send: %w", err)
	}
	return r.redis.Expire(ctx, key, time.Hour).Err()
}
