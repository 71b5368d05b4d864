// Package dispatch implements the Dispatcher (spec §4.5): a pool of worker
// goroutines draining the send queue, resolving a contact, rendering the
// message, and delivering it either through a slave RPC round-robin or the
// local vendor registry — grounded on the teacher's escalation.Engine tick
// loop (worker goroutines driven off a ticker/channel, one logger line per
// failure rather than a panic) and slack.Notifier's send-and-report shape.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pagewave/pagewave/internal/store"
	"github.com/pagewave/pagewave/internal/telemetry"
	"github.com/pagewave/pagewave/pkg/aggregation"
	"github.com/pagewave/pagewave/pkg/cache"
	"github.com/pagewave/pagewave/pkg/contact"
	"github.com/pagewave/pagewave/pkg/render"
	"github.com/pagewave/pagewave/pkg/vendor"
)

// Job is what distributedSend actually delivers: a rendered message plus
// the resolved mode/destination, shared verbatim between the local vendor
// path and the wire-framed slave path.
type Job struct {
	ModeName string
	Message  vendor.Message
}

// SlaveClient is the outbound half of the master→slave RPC channel (§4.6).
// Defined here, not in pkg/rpc, so pkg/dispatch has no forward dependency
// on the RPC transport — pkg/rpc implements this interface instead.
type SlaveClient interface {
	Send(ctx context.Context, job Job) (time.Duration, error)
}

// Dispatcher pulls messages off the send/batch queues and delivers them.
type Dispatcher struct {
	queries  *store.Queries
	cache    *cache.Cache
	contacts *contact.Resolver
	renderer *render.Renderer
	vendors  *vendor.Registry
	logger   *slog.Logger

	sendQueue  <-chan store.Message
	batchQueue <-chan aggregation.Batch

	slaves     []SlaveClient
	numSlaves  int // max round-robin attempts before falling back to local vendor
	slaveIndex uint64

	workers             int
	slaveRequestTimeout time.Duration
	vendorSendTimeout   time.Duration
}

// Config collects Dispatcher construction parameters.
type Config struct {
	Workers   int // worker pool size, spec default 100
	Slaves    []SlaveClient
	NumSlaves int // max slave attempts per message; 0 disables the slave path

	// SlaveRequestTimeout bounds a single slave RPC attempt. Zero defaults to 5s.
	SlaveRequestTimeout time.Duration
	// VendorSendTimeout bounds a single local vendor Send call. Zero defaults to 10s.
	VendorSendTimeout time.Duration
}

// New creates a Dispatcher. sendQueue carries plain messages, batchQueue
// carries flushed aggregation batches — both are read-only from here.
func New(queries *store.Queries, c *cache.Cache, contacts *contact.Resolver, renderer *render.Renderer,
	vendors *vendor.Registry, logger *slog.Logger, sendQueue <-chan store.Message, batchQueue <-chan aggregation.Batch, cfg Config) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 100
	}
	slaveRequestTimeout := cfg.SlaveRequestTimeout
	if slaveRequestTimeout <= 0 {
		slaveRequestTimeout = 5 * time.Second
	}
	vendorSendTimeout := cfg.VendorSendTimeout
	if vendorSendTimeout <= 0 {
		vendorSendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		queries: queries, cache: c, contacts: contacts, renderer: renderer, vendors: vendors,
		logger: logger, sendQueue: sendQueue, batchQueue: batchQueue,
		slaves: cfg.Slaves, numSlaves: cfg.NumSlaves, workers: workers,
		slaveRequestTimeout: slaveRequestTimeout, vendorSendTimeout: vendorSendTimeout,
	}
}

// Run starts the worker pool and blocks until every worker has stopped: a
// worker stops when ctx is cancelled or when it reads from a closed queue
// (either one), so items left in the other queue are not drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx)
		}()
	}
	wg.Wait()
}

// worker loops pulling from both queues. A panic in one job is contained
// and logged rather than taking the whole pool down — the worker respawns
// itself and keeps draining (spec §7 edge case 9: "task crash — logged,
// task_failure counter incremented, task respawned").
func (d *Dispatcher) worker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if d.runOnce(ctx) {
			return
		}
	}
}

// runOnce processes a single queue item under a recover, reporting true
// when the worker should stop (context cancelled or a queue closed).
func (d *Dispatcher) runOnce(ctx context.Context) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatcher task crashed, respawning", "panic", r)
			telemetry.TaskFailureTotal.Inc()
		}
	}()

	select {
	case <-ctx.Done():
		return true
	case msg, ok := <-d.sendQueue:
		if !ok {
			return true
		}
		d.dispatchSingle(ctx, msg)
		return false
	case batch, ok := <-d.batchQueue:
		if !ok {
			return true
		}
		d.dispatchBatch(ctx, batch)
		return false
	}
}

// dispatchSingle handles one non-aggregated message: resolve → render →
// distributedSend → mark sent/dead, per §4.5.
func (d *Dispatcher) dispatchSingle(ctx context.Context, msg store.Message) {
	res, err := d.contacts.Resolve(ctx, msg.TargetID, msg.ApplicationID, msg.PriorityID)
	if err != nil {
		d.deactivateUnresolved(ctx, msg.ID, res)
		return
	}

	rendered, err := d.renderer.Render(msg, res.ModeName, nil)
	if err != nil {
		d.logger.Error("render failed", "message_id", msg.ID, "error", err)
		telemetry.TaskFailureTotal.Inc()
		return
	}

	job := Job{ModeName: res.ModeName, Message: vendor.Message{
		Destination: res.Destination, Subject: rendered.Subject, Body: rendered.Body, ExtraHTML: rendered.ExtraHTML,
	}}

	if _, err := d.distributedSend(ctx, job); err != nil {
		d.handleSendFailure(ctx, msg, res, err)
		return
	}

	if err := d.queries.MarkSent(ctx, msg.ID, store.MarkSentParams{
		Destination: res.Destination, ModeID: res.ModeID, TemplateID: rendered.TemplateID,
		Subject: rendered.Subject, Body: rendered.Body,
	}); err != nil {
		d.logger.Error("marking message sent", "message_id", msg.ID, "error", err)
	}
}

// dispatchBatch handles a flushed aggregation batch: one render, one send,
// one UPDATE across every aggregated id (spec: "batch-wide UPDATE for
// aggregated ids"). All ids share the batch representative's contact and
// key family, so one resolution covers the whole batch.
func (d *Dispatcher) dispatchBatch(ctx context.Context, batch aggregation.Batch) {
	rep := batch.Representative
	res, err := d.contacts.Resolve(ctx, rep.TargetID, rep.ApplicationID, rep.PriorityID)
	if err != nil {
		for _, id := range batch.AggregatedIDs {
			d.deactivateUnresolved(ctx, id, res)
		}
		return
	}

	application, _ := d.cache.Application(rep.ApplicationID)
	plan := ""
	if rep.PlanID != nil {
		if p, ok := d.cache.Plan(*rep.PlanID); ok {
			plan = p.Name
		}
	}

	batchInput := &render.BatchInput{
		ApplicationName: application.Name, PlanName: plan, Count: len(batch.AggregatedIDs), BatchID: batch.BatchID,
	}
	rendered, err := d.renderer.Render(rep, res.ModeName, batchInput)
	if err != nil {
		d.logger.Error("render failed for batch", "batch_id", batch.BatchID, "error", err)
		telemetry.TaskFailureTotal.Inc()
		return
	}

	job := Job{ModeName: res.ModeName, Message: vendor.Message{
		Destination: res.Destination, Subject: rendered.Subject, Body: rendered.Body, ExtraHTML: rendered.ExtraHTML,
	}}

	if _, err := d.distributedSend(ctx, job); err != nil {
		d.handleBatchSendFailure(ctx, batch, batchInput, res, err)
		return
	}

	batchID := batch.BatchID
	if err := d.queries.MarkBatchSent(ctx, batch.AggregatedIDs, store.MarkSentParams{
		Destination: res.Destination, ModeID: res.ModeID, TemplateID: rendered.TemplateID,
		Subject: rendered.Subject, Body: rendered.Body, Batch: &batchID,
	}); err != nil {
		d.logger.Error("marking batch sent", "batch_id", batch.BatchID, "error", err)
	}
}

// handleSendFailure implements §4.5's non-email retry: re-resolve forcing
// target_fallback_mode, audit MODE_CHANGE, re-render, retry once. Email
// failures and a failed retry both count as task_failure and leave the
// message active for the next escalation tick to retry.
func (d *Dispatcher) handleSendFailure(ctx context.Context, msg store.Message, res contact.Resolution, sendErr error) {
	d.logger.Warn("vendor send failed", "message_id", msg.ID, "mode", res.ModeName, "error", sendErr)

	if res.ModeName == "email" {
		telemetry.TaskFailureTotal.Inc()
		return
	}

	fallback, ok := d.cache.ModeByName(d.contacts.FallbackModeName())
	if !ok || fallback.ID == res.ModeID {
		telemetry.TaskFailureTotal.Inc()
		return
	}

	if err := d.queries.AppendChangelog(ctx, msg.ID, "MODE_CHANGE", strPtr(res.ModeName), strPtr(fallback.Name),
		fmt.Sprintf("retrying after vendor send failure: %s", sendErr)); err != nil {
		d.logger.Warn("failed to audit mode-change retry", "message_id", msg.ID, "error", err)
	}

	retryRes, err := d.contacts.ResolveForMode(ctx, msg.TargetID, fallback.ID)
	if err != nil {
		telemetry.TaskFailureTotal.Inc()
		return
	}

	rendered, err := d.renderer.Render(msg, retryRes.ModeName, nil)
	if err != nil {
		telemetry.TaskFailureTotal.Inc()
		return
	}

	job := Job{ModeName: retryRes.ModeName, Message: vendor.Message{
		Destination: retryRes.Destination, Subject: rendered.Subject, Body: rendered.Body, ExtraHTML: rendered.ExtraHTML,
	}}
	if _, err := d.distributedSend(ctx, job); err != nil {
		telemetry.TaskFailureTotal.Inc()
		return
	}

	if err := d.queries.MarkSent(ctx, msg.ID, store.MarkSentParams{
		Destination: retryRes.Destination, ModeID: retryRes.ModeID, TemplateID: rendered.TemplateID,
		Subject: rendered.Subject, Body: rendered.Body,
	}); err != nil {
		d.logger.Error("marking retried message sent", "message_id", msg.ID, "error", err)
	}
}

// handleBatchSendFailure applies the same fallback-mode-once retry to every
// member of a batch, since they share one resolution and one render.
func (d *Dispatcher) handleBatchSendFailure(ctx context.Context, batch aggregation.Batch, batchInput *render.BatchInput, res contact.Resolution, sendErr error) {
	rep := batch.Representative
	d.logger.Warn("vendor send failed for batch", "batch_id", batch.BatchID, "mode", res.ModeName, "error", sendErr)

	if res.ModeName == "email" {
		telemetry.TaskFailureTotal.Inc()
		return
	}

	fallback, ok := d.cache.ModeByName(d.contacts.FallbackModeName())
	if !ok || fallback.ID == res.ModeID {
		telemetry.TaskFailureTotal.Inc()
		return
	}

	for _, id := range batch.AggregatedIDs {
		if err := d.queries.AppendChangelog(ctx, id, "MODE_CHANGE", strPtr(res.ModeName), strPtr(fallback.Name),
			fmt.Sprintf("retrying after vendor send failure: %s", sendErr)); err != nil {
			d.logger.Warn("failed to audit mode-change retry", "message_id", id, "error", err)
		}
	}

	retryRes, err := d.contacts.ResolveForMode(ctx, rep.TargetID, fallback.ID)
	if err != nil {
		telemetry.TaskFailureTotal.Inc()
		return
	}

	rendered, err := d.renderer.Render(rep, retryRes.ModeName, batchInput)
	if err != nil {
		telemetry.TaskFailureTotal.Inc()
		return
	}

	job := Job{ModeName: retryRes.ModeName, Message: vendor.Message{
		Destination: retryRes.Destination, Subject: rendered.Subject, Body: rendered.Body, ExtraHTML: rendered.ExtraHTML,
	}}
	if _, err := d.distributedSend(ctx, job); err != nil {
		telemetry.TaskFailureTotal.Inc()
		return
	}

	batchID := batch.BatchID
	if err := d.queries.MarkBatchSent(ctx, batch.AggregatedIDs, store.MarkSentParams{
		Destination: retryRes.Destination, ModeID: retryRes.ModeID, TemplateID: rendered.TemplateID,
		Subject: rendered.Subject, Body: rendered.Body, Batch: &batchID,
	}); err != nil {
		d.logger.Error("marking retried batch sent", "batch_id", batch.BatchID, "error", err)
	}
}

// deactivateUnresolved implements §4.4's failure path: mark the message
// dead and audit MODE_CHANGE with the mode that was actually tried as
// "from" (the corrected, non-inverted direction — see the Open Question
// decision) and "invalid" as "to".
func (d *Dispatcher) deactivateUnresolved(ctx context.Context, messageID uuid.UUID, res contact.Resolution) {
	from := ""
	if mode, ok := d.cache.Mode(res.PreRewriteModeID); ok {
		from = mode.Name
	}
	if err := d.queries.AppendChangelog(ctx, messageID, "MODE_CHANGE", strPtr(from), strPtr("invalid"),
		"contact resolution exhausted including fallback mode"); err != nil {
		d.logger.Warn("failed to audit unresolved contact", "message_id", messageID, "error", err)
	}
	if err := d.queries.MarkDead(ctx, messageID); err != nil {
		d.logger.Error("marking unresolved message dead", "message_id", messageID, "error", err)
	}
	telemetry.TaskFailureTotal.Inc()
}

// distributedSend implements distributed_send_message: round-robin up to
// numSlaves attempts, falling back to the local vendor registry when
// slaves are exhausted or none are configured.
func (d *Dispatcher) distributedSend(ctx context.Context, job Job) (time.Duration, error) {
	attempts := d.numSlaves
	if attempts > len(d.slaves) {
		attempts = len(d.slaves)
	}

	for i := 0; i < attempts; i++ {
		idx := atomic.AddUint64(&d.slaveIndex, 1) % uint64(len(d.slaves))
		slave := d.slaves[idx]

		attemptCtx, cancel := context.WithTimeout(ctx, d.slaveRequestTimeout)
		latency, err := slave.Send(attemptCtx, job)
		cancel()
		if err == nil {
			telemetry.DispatchSendTotal.WithLabelValues(job.ModeName, "sent").Inc()
			telemetry.RPCSlaveAttemptsTotal.WithLabelValues("ok").Inc()
			telemetry.DispatchSendDuration.WithLabelValues(job.ModeName).Observe(latency.Seconds())
			return latency, nil
		}
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		telemetry.RPCSlaveAttemptsTotal.WithLabelValues(outcome).Inc()
		d.logger.Warn("slave send attempt failed", "mode", job.ModeName, "error", err)
	}

	outcome := "sent"
	if attempts > 0 {
		outcome = "fallback"
	}
	return d.sendLocal(ctx, job, outcome)
}

// SendLocal delivers job through the local vendor registry only, with no
// slave fan-out — the handler the RPC server's relay endpoint calls when
// this process is the slave a master forwarded a job to.
func (d *Dispatcher) SendLocal(ctx context.Context, job Job) (time.Duration, error) {
	return d.sendLocal(ctx, job, "sent")
}

func (d *Dispatcher) sendLocal(ctx context.Context, job Job, outcome string) (time.Duration, error) {
	v, err := d.vendors.For(job.ModeName)
	if err != nil {
		telemetry.DispatchSendTotal.WithLabelValues(job.ModeName, "failed").Inc()
		return 0, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.vendorSendTimeout)
	defer cancel()
	latency, err := v.Send(sendCtx, job.Message)
	if err != nil {
		telemetry.DispatchSendTotal.WithLabelValues(job.ModeName, "failed").Inc()
		return 0, fmt.Errorf("local vendor send: %w", err)
	}
	telemetry.DispatchSendTotal.WithLabelValues(job.ModeName, outcome).Inc()
	telemetry.DispatchSendDuration.WithLabelValues(job.ModeName).Observe(latency.Seconds())
	return latency, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
