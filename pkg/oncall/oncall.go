// Package oncall resolves which member of a weekly-rotating roster is
// currently on call. It backs pkg/target's role expansion for the
// `oncall` role, adapted from the teacher's roster handoff-alignment
// logic (weekly rotation, configurable handoff day/time/timezone) but
// simplified to deterministic index lookup rather than a persisted,
// fairness-balanced schedule — pagewave only needs "who is on call right
// now", not a multi-week schedule generator.
package oncall

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pagewave/pagewave/internal/store"
)

// Roster is a team's on-call rotation: an ordered member list that hands
// off weekly at a fixed day/time in a given timezone.
type Roster struct {
	Members    []uuid.UUID
	HandoffDay time.Weekday
	Hour       int
	Minute     int
	Location   *time.Location
	Epoch      time.Time // the instant rotation index 0 began
}

// Resolver loads Roster configuration from the store and answers
// "who is on call at time t" queries.
type Resolver struct {
	queries *store.Queries
}

// New creates a Resolver bound to the store.
func New(queries *store.Queries) *Resolver {
	return &Resolver{queries: queries}
}

// CurrentOnCall returns the target currently on call for teamTargetID at
// time now, or false if the team has no rotation configured (the caller
// should fall back to plain target_roles membership in that case).
func (r *Resolver) CurrentOnCall(ctx context.Context, teamTargetID uuid.UUID, now time.Time) (uuid.UUID, bool, error) {
	roster, err := r.queries.GetOncallRoster(ctx, teamTargetID)
	if err != nil {
		return uuid.Nil, false, nil //nolint:nilerr // no roster configured is not an error condition
	}

	members, err := r.queries.ListOncallRosterMembers(ctx, roster.ID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("listing roster members: %w", err)
	}
	if len(members) == 0 {
		return uuid.Nil, false, nil
	}

	loc, err := time.LoadLocation(roster.Timezone)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("loading timezone %q: %w", roster.Timezone, err)
	}

	ros := Roster{
		Members:    members,
		HandoffDay: time.Weekday(roster.HandoffDay),
		Hour:       roster.HandoffHour,
		Minute:     roster.HandoffMin,
		Location:   loc,
		Epoch:      roster.Epoch,
	}

	idx := ros.currentIndex(now)
	return ros.Members[idx], true, nil
}

// currentIndex computes which rotation slot is on call at t, counting
// completed handoffs since the roster's epoch.
func (ros Roster) currentIndex(t time.Time) int {
	local := t.In(ros.Location)
	handoffsSinceEpoch := ros.countHandoffs(ros.Epoch.In(ros.Location), local)
	n := len(ros.Members)
	idx := handoffsSinceEpoch % n
	if idx < 0 {
		idx += n
	}
	return idx
}

// countHandoffs counts how many weekly handoff instants occur in (from, to].
func (ros Roster) countHandoffs(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}

	firstHandoff := alignToHandoffInstant(from, ros.HandoffDay, ros.Hour, ros.Minute)
	if !firstHandoff.After(from) {
		firstHandoff = firstHandoff.AddDate(0, 0, 7)
	}
	if firstHandoff.After(to) {
		return 0
	}

	count := 1
	next := firstHandoff.AddDate(0, 0, 7)
	for !next.After(to) {
		count++
		next = next.AddDate(0, 0, 7)
	}
	return count
}

// alignToHandoffInstant finds the first handoff weekday on or after t's
// calendar date, at the handoff time of day (which may be earlier than t
// when that weekday is t's own date), adapted from the teacher's alignToHandoffDay but time-of-day aware.
func alignToHandoffInstant(t time.Time, day time.Weekday, hour, minute int) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
	diff := int(day) - int(t.Weekday())
	if diff < 0 {
		diff += 7
	}
	return d.AddDate(0, 0, diff)
}
