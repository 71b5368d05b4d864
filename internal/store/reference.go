package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ListApplications returns every registered application, for Cache refresh.
func (q *Queries) ListApplications(ctx context.Context) ([]Application, error) {
	const sql = `SELECT id, name FROM applications`

	rows, err := q.db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("listing applications: %w", err)
	}
	defer rows.Close()

	var out []Application
	for rows.Next() {
		var a Application
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, fmt.Errorf("scanning application: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListModes returns every delivery mode, for Cache refresh.
func (q *Queries) ListModes(ctx context.Context) ([]Mode, error) {
	const sql = `SELECT id, name FROM modes`

	rows, err := q.db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("listing modes: %w", err)
	}
	defer rows.Close()

	var out []Mode
	for rows.Next() {
		var m Mode
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, fmt.Errorf("scanning mode: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListPriorities returns every priority with its default mode, for Cache refresh.
func (q *Queries) ListPriorities(ctx context.Context) ([]Priority, error) {
	const sql = `SELECT id, name, default_mode_id, weight FROM priorities`

	rows, err := q.db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("listing priorities: %w", err)
	}
	defer rows.Close()

	var out []Priority
	for rows.Next() {
		var p Priority
		if err := rows.Scan(&p.ID, &p.Name, &p.DefaultModeID, &p.Weight); err != nil {
			return nil, fmt.Errorf("scanning priority: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPriorityByName loads a priority by its unique name (used for the
// creator/low-priority fallback in §4.1.1).
func (q *Queries) GetPriorityByName(ctx context.Context, name string) (Priority, error) {
	const sql = `SELECT id, name, default_mode_id, weight FROM priorities WHERE name = $1`
	var p Priority
	if err := q.db.QueryRow(ctx, sql, name).Scan(&p.ID, &p.Name, &p.DefaultModeID, &p.Weight); err != nil {
		return Priority{}, fmt.Errorf("querying priority %q: %w", name, err)
	}
	return p, nil
}

// GetModeByName loads a mode by its unique name (used for target_fallback_mode).
func (q *Queries) GetModeByName(ctx context.Context, name string) (Mode, error) {
	const sql = `SELECT id, name FROM modes WHERE name = $1`
	var m Mode
	if err := q.db.QueryRow(ctx, sql, name).Scan(&m.ID, &m.Name); err != nil {
		return Mode{}, fmt.Errorf("querying mode %q: %w", name, err)
	}
	return m, nil
}

// ListAllPlans returns every plan, for Cache refresh.
func (q *Queries) ListAllPlans(ctx context.Context) ([]Plan, error) {
	const sql = `
SELECT id, name, description, creator, created, step_count,
       threshold_window, threshold_count, aggregation_window,
       aggregation_reset, tracking_type, tracking_key, tracking_template
FROM plans`

	rows, err := q.db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}
	defer rows.Close()

	var out []Plan
	for rows.Next() {
		var p Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Creator, &p.Created, &p.StepCount,
			&p.ThresholdWindow, &p.ThresholdCount, &p.AggregationWindow,
			&p.AggregationReset, &p.TrackingType, &p.TrackingKey, &p.TrackingTemplate); err != nil {
			return nil, fmt.Errorf("scanning plan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateResponse records an inbound vendor callback.
func (q *Queries) CreateResponse(ctx context.Context, messageID uuid.UUID, source string, payload []byte) error {
	const sql = `INSERT INTO responses (id, message_id, source, payload, created) VALUES ($1, $2, $3, $4, now())`
	if _, err := q.db.Exec(ctx, sql, uuid.New(), messageID, source, payload); err != nil {
		return fmt.Errorf("creating response for message %s: %w", messageID, err)
	}
	return nil
}
