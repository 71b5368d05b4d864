package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OncallRoster is a rotation configuration scoped to a team target.
type OncallRoster struct {
	ID           uuid.UUID
	TeamTargetID uuid.UUID
	HandoffDay   int // 0=Sunday
	HandoffHour  int
	HandoffMin   int
	Timezone     string
	Epoch        time.Time
}

// GetOncallRoster loads the rotation configuration for a team target, if any.
func (q *Queries) GetOncallRoster(ctx context.Context, teamTargetID uuid.UUID) (OncallRoster, error) {
	const sql = `
SELECT id, team_target_id, handoff_day, handoff_hour, handoff_minute, timezone, epoch
FROM oncall_rosters WHERE team_target_id = $1`

	var r OncallRoster
	err := q.db.QueryRow(ctx, sql, teamTargetID).Scan(
		&r.ID, &r.TeamTargetID, &r.HandoffDay, &r.HandoffHour, &r.HandoffMin, &r.Timezone, &r.Epoch)
	if err != nil {
		return OncallRoster{}, fmt.Errorf("querying oncall roster for team %s: %w", teamTargetID, err)
	}
	return r, nil
}

// ListOncallRosterMembers returns a roster's ordered rotation membership.
func (q *Queries) ListOncallRosterMembers(ctx context.Context, rosterID uuid.UUID) ([]uuid.UUID, error) {
	const sql = `SELECT member_target_id FROM oncall_roster_members WHERE roster_id = $1 ORDER BY position ASC`

	rows, err := q.db.Query(ctx, sql, rosterID)
	if err != nil {
		return nil, fmt.Errorf("listing oncall roster members for roster %s: %w", rosterID, err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning oncall roster member: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
