// Package aggregation implements the AggregationEngine (spec §4.2): a
// per-key sliding-window rate limiter that classifies each intaken message
// as "send now" or "buffer for batching", and flushes buffered batches once
// their aggregation window elapses.
//
// The source this was distilled from runs single-process cooperative
// concurrency, where map mutations between suspension points need no lock.
// pagewave runs the same logic from goroutines, so every map family here is
// guarded by one mutex (spec §5: "implementations on a preemptive threaded
// runtime MUST guard these with a single mutex per key family").
package aggregation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pagewave/pagewave/internal/store"
	"github.com/pagewave/pagewave/pkg/cache"
)

// Key identifies a rate-limit/aggregation bucket: (plan, application,
// priority, target).
type Key struct {
	PlanID        uuid.UUID
	ApplicationID uuid.UUID
	PriorityID    uuid.UUID
	TargetID      uuid.UUID
}

func keyOf(m store.Message) (Key, bool) {
	if m.PlanID == nil {
		return Key{}, false // out-of-band: no key, bypasses aggregation entirely
	}
	return Key{PlanID: *m.PlanID, ApplicationID: m.ApplicationID, PriorityID: m.PriorityID, TargetID: m.TargetID}, true
}

// Batch is sent on the batch channel (the Dispatcher's batch queue) when
// ≥2 messages flush together.
type Batch struct {
	BatchID       uuid.UUID
	AggregatedIDs []uuid.UUID
	Representative store.Message
}

// Engine holds the four per-key maps plus the buffered-message payloads.
// All fields are guarded by mu; the engine is safe for concurrent use by
// many intake goroutines and the single MaintenanceLoop flush tick.
type Engine struct {
	queries *store.Queries
	cache   *cache.Cache
	logger  *slog.Logger

	sendQueue chan store.Message
	batchOut  chan Batch

	mu          sync.Mutex
	windows     map[Key]map[int64]int    // bucket unix-second -> count
	aggregation map[Key]time.Time        // last message aggregated under K
	queues      map[Key][]uuid.UUID      // buffered ids awaiting flush
	sent        map[Key]time.Time        // last batch flush time
	messages    map[uuid.UUID]store.Message
}

// New creates an Engine. sendQueue receives plain (non-batched) messages
// ready for the Dispatcher; batchOut receives flushed aggregation batches.
func New(queries *store.Queries, c *cache.Cache, logger *slog.Logger, sendQueue chan store.Message, batchOut chan Batch) *Engine {
	return &Engine{
		queries:     queries,
		cache:       c,
		logger:      logger,
		sendQueue:   sendQueue,
		batchOut:    batchOut,
		windows:     make(map[Key]map[int64]int),
		aggregation: make(map[Key]time.Time),
		queues:      make(map[Key][]uuid.UUID),
		sent:        make(map[Key]time.Time),
		messages:    make(map[uuid.UUID]store.Message),
	}
}

// BufferedIDs returns the ids currently held in messages — poll()'s
// exclusion set, so buffered messages aren't re-intaken from the database.
func (e *Engine) BufferedIDs() []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(e.messages))
	for id := range e.messages {
		ids = append(ids, id)
	}
	return ids
}

// Intake runs fetch_and_prepare_message's classification for one message at
// time now.
func (e *Engine) Intake(ctx context.Context, m store.Message, now time.Time) error {
	key, ok := keyOf(m)
	if !ok {
		e.sendQueue <- m
		return nil
	}

	plan, ok := e.cache.Plan(key.PlanID)
	if !ok {
		return fmt.Errorf("aggregation: plan %s not in cache", key.PlanID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if last, inAggregation := e.aggregation[key]; inAggregation {
		if now.Sub(last) > time.Duration(plan.AggregationReset)*time.Second {
			delete(e.aggregation, key)
			delete(e.sent, key)
			// Falls through to the rate-limit check below, exactly like a
			// message that was never aggregating.
		} else {
			e.aggregation[key] = now
			e.queues[key] = append(e.queues[key], m.ID)
			e.messages[m.ID] = m
			return nil
		}
	}

	window := e.windows[key]
	if window == nil {
		window = make(map[int64]int)
		e.windows[key] = window
	}
	cutoff := now.Add(-time.Duration(plan.ThresholdWindow) * time.Second).Unix()
	for bucket := range window {
		if bucket < cutoff {
			delete(window, bucket)
		}
	}
	window[now.Unix()]++

	total := 0
	for _, c := range window {
		total += c
	}
	if total <= plan.ThresholdCount {
		e.sendQueue <- m
		return nil
	}

	e.queues[key] = []uuid.UUID{m.ID}
	e.messages[m.ID] = m
	e.aggregation[key] = now
	e.sent[key] = now

	if err := e.queries.AppendChangelog(ctx, m.ID, "SENT_CHANGE", nil, nil,
		fmt.Sprintf("Aggregated with key %+v", key)); err != nil {
		e.logger.Warn("failed to audit aggregation entry", "message_id", m.ID, "error", err)
	}
	return nil
}

// Flush runs aggregate(now): for every key whose aggregation window has
// elapsed, re-checks claim-deactivation, forms a batch (or single send),
// and resets the key's queue.
func (e *Engine) Flush(ctx context.Context, now time.Time) error {
	type due struct {
		key Key
		ids []uuid.UUID
	}

	e.mu.Lock()
	var dueKeys []due
	for key, ids := range e.queues {
		plan, ok := e.cache.Plan(key.PlanID)
		if !ok {
			continue
		}
		if now.Sub(e.sent[key]) >= time.Duration(plan.AggregationWindow)*time.Second {
			dueKeys = append(dueKeys, due{key: key, ids: append([]uuid.UUID(nil), ids...)})
		}
	}
	e.mu.Unlock()

	for _, d := range dueKeys {
		if err := e.flushKey(ctx, d.key, d.ids, now); err != nil {
			return fmt.Errorf("flushing aggregation key %+v: %w", d.key, err)
		}
	}
	return nil
}

func (e *Engine) flushKey(ctx context.Context, key Key, ids []uuid.UUID, now time.Time) error {
	active, err := e.queries.ListActiveIDsAmong(ctx, ids)
	if err != nil {
		return fmt.Errorf("checking active ids: %w", err)
	}

	e.mu.Lock()
	for _, id := range ids {
		if !contains(active, id) {
			delete(e.messages, id)
		}
	}
	var payloads []store.Message
	for _, id := range active {
		if m, ok := e.messages[id]; ok {
			payloads = append(payloads, m)
			delete(e.messages, id)
		}
	}
	delete(e.queues, key)
	e.sent[key] = now
	e.mu.Unlock()

	switch len(payloads) {
	case 0:
		return nil
	case 1:
		e.sendQueue <- payloads[0]
	default:
		batchID := uuid.New()
		e.batchOut <- Batch{BatchID: batchID, AggregatedIDs: active, Representative: payloads[0]}
	}
	return nil
}

// Poll runs poll(): loads unsent messages excluding ids currently buffered,
// and intakes each one.
func (e *Engine) Poll(ctx context.Context, now time.Time) error {
	exclude := e.BufferedIDs()
	msgs, err := e.queries.ListUnsentExcluding(ctx, exclude)
	if err != nil {
		return fmt.Errorf("polling unsent messages: %w", err)
	}
	for _, m := range msgs {
		m.Context = injectIrisMetadata(m)
		if err := e.Intake(ctx, m, now); err != nil {
			e.logger.Error("intake failed", "message_id", m.ID, "error", err)
		}
	}
	return nil
}

// injectIrisMetadata merges message identity fields into the deserialized
// context under an "iris" key, so templates can reference e.g.
// {{.iris.message_id}} alongside the caller-supplied context.
func injectIrisMetadata(m store.Message) json.RawMessage {
	vars := map[string]any{}
	if len(m.Context) > 0 {
		if err := json.Unmarshal(m.Context, &vars); err != nil {
			vars = map[string]any{}
		}
	}
	vars["iris"] = map[string]any{
		"message_id":     m.ID.String(),
		"target_id":      m.TargetID.String(),
		"application_id": m.ApplicationID.String(),
		"priority_id":    m.PriorityID.String(),
		"created":        m.Created,
	}
	encoded, err := json.Marshal(vars)
	if err != nil {
		return m.Context
	}
	return encoded
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
