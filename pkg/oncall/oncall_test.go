package oncall

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRoster_CurrentIndex_RotatesWeekly(t *testing.T) {
	utc := time.UTC
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()

	epoch := time.Date(2026, 1, 5, 9, 0, 0, 0, utc) // a Monday 09:00
	ros := Roster{
		Members:    []uuid.UUID{alice, bob, carol},
		HandoffDay: time.Monday,
		Hour:       9,
		Minute:     0,
		Location:   utc,
		Epoch:      epoch,
	}

	// Before the first handoff after epoch: still index 0 (alice).
	require.Equal(t, 0, ros.currentIndex(epoch.Add(time.Hour)))

	// One week later, past the Monday 09:00 handoff: index 1 (bob).
	require.Equal(t, 1, ros.currentIndex(epoch.AddDate(0, 0, 7).Add(time.Minute)))

	// Two weeks later: index 2 (carol).
	require.Equal(t, 2, ros.currentIndex(epoch.AddDate(0, 0, 14).Add(time.Minute)))

	// Three weeks later: wraps back to index 0 (alice).
	require.Equal(t, 0, ros.currentIndex(epoch.AddDate(0, 0, 21).Add(time.Minute)))
}

func TestAlignToHandoffInstant_SameDayAfterTime(t *testing.T) {
	utc := time.UTC
	// A Monday at 10:00, handoff is Monday 09:00 — should align to the
	// same day since the handoff time has already passed.
	t0 := time.Date(2026, 1, 5, 10, 0, 0, 0, utc)
	aligned := alignToHandoffInstant(t0, time.Monday, 9, 0)
	require.Equal(t, time.Date(2026, 1, 5, 9, 0, 0, 0, utc), aligned)
}
