// Package maintenance implements the MaintenanceLoop (spec §4.7): the
// master-only 60-second serial tick (escalate → deactivate → poll →
// aggregate) plus an independent 4-hour changelog-pruning pass, grounded
// on the teacher's escalation.Engine Run loop — a ticker-driven goroutine
// that logs and continues on a tick's error rather than exiting.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pagewave/pagewave/internal/store"
	"github.com/pagewave/pagewave/pkg/aggregation"
	"github.com/pagewave/pagewave/pkg/escalation"
)

// defaultTickInterval, defaultPruneInterval, and defaultChangelogRetention
// are used whenever Config leaves the corresponding field at zero.
const (
	defaultTickInterval       = 60 * time.Second
	defaultPruneInterval      = 4 * time.Hour
	defaultChangelogRetention = 90 * 24 * time.Hour // spec's "3-month retention"
)

// Config collects Loop's tunables.
type Config struct {
	TickInterval       time.Duration
	PruneInterval      time.Duration
	ChangelogRetention time.Duration
}

// Loop drives both master-only background passes. It must run on exactly
// one process at a time — spec §5 names the MaintenanceLoop as the sole
// writer of incident current_step/active transitions and the in-memory
// aggregation state.
type Loop struct {
	escalation  *escalation.Engine
	aggregation *aggregation.Engine
	queries     *store.Queries
	logger      *slog.Logger

	tickInterval       time.Duration
	pruneInterval      time.Duration
	changelogRetention time.Duration
}

// New creates a Loop.
func New(e *escalation.Engine, a *aggregation.Engine, queries *store.Queries, logger *slog.Logger, cfg Config) *Loop {
	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	pruneInterval := cfg.PruneInterval
	if pruneInterval <= 0 {
		pruneInterval = defaultPruneInterval
	}
	changelogRetention := cfg.ChangelogRetention
	if changelogRetention <= 0 {
		changelogRetention = defaultChangelogRetention
	}
	return &Loop{
		escalation: e, aggregation: a, queries: queries, logger: logger,
		tickInterval: tickInterval, pruneInterval: pruneInterval, changelogRetention: changelogRetention,
	}
}

// Run blocks, driving the tick and prune loops concurrently, until ctx is
// cancelled.
func (l *Loop) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.runTicked(ctx, "tick", l.tickInterval, l.tick)
	}()
	go func() {
		defer wg.Done()
		l.runTicked(ctx, "changelog-prune", l.pruneInterval, l.pruneChangelog)
	}()
	wg.Wait()
}

// runTicked runs fn on every tick of interval, recovering and logging a
// panic instead of letting it kill the loop — the background-pass analogue
// of the Dispatcher's per-task respawn.
func (l *Loop) runTicked(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runOnce(ctx, name, fn)
		}
	}
}

func (l *Loop) runOnce(ctx context.Context, name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("maintenance pass crashed, respawning on next tick", "pass", name, "panic", r)
		}
	}()
	if err := fn(ctx); err != nil {
		l.logger.Error("maintenance pass failed", "pass", name, "error", err)
	}
}

// tick runs escalate -> deactivate -> poll -> aggregate in that fixed
// order, exactly as given by spec §4: escalation before deactivation lets
// a step that completes this tick immediately feed the next poll, and
// poll must run before aggregate so newly-queued messages are classified
// the same tick they're discovered.
func (l *Loop) tick(ctx context.Context) error {
	now := time.Now()

	if err := l.escalation.Escalate(ctx); err != nil {
		return err
	}
	if err := l.escalation.Deactivate(ctx); err != nil {
		return err
	}
	if err := l.aggregation.Poll(ctx, now); err != nil {
		return err
	}
	return l.aggregation.Flush(ctx, now)
}

// pruneChangelog deletes message_changelog rows past the retention window.
func (l *Loop) pruneChangelog(ctx context.Context) error {
	cutoff := time.Now().Add(-l.changelogRetention)
	n, err := l.queries.PruneChangelog(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		l.logger.Info("pruned message changelog", "rows", n, "older_than", cutoff)
	}
	return nil
}
