package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ListNewIncidents returns every incident at current_step=0, active=true —
// the EscalationEngine's new-incident phase input.
func (q *Queries) ListNewIncidents(ctx context.Context) ([]Incident, error) {
	const sql = `
SELECT id, plan_id, application_id, context, created, updated, current_step, active, owner
FROM incidents WHERE current_step = 0 AND active = true`

	return q.scanIncidents(ctx, sql)
}

// ListActiveIncidents returns every active incident with current_step > 0 —
// the EscalationEngine's in-flight phase input.
func (q *Queries) ListActiveIncidents(ctx context.Context) ([]Incident, error) {
	const sql = `
SELECT id, plan_id, application_id, context, created, updated, current_step, active, owner
FROM incidents WHERE current_step > 0 AND active = true`

	return q.scanIncidents(ctx, sql)
}

func (q *Queries) scanIncidents(ctx context.Context, sql string, args ...any) ([]Incident, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing incidents: %w", err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		var inc Incident
		if err := rows.Scan(&inc.ID, &inc.PlanID, &inc.ApplicationID, &inc.Context,
			&inc.Created, &inc.Updated, &inc.CurrentStep, &inc.Active, &inc.Owner); err != nil {
			return nil, fmt.Errorf("scanning incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// AdvanceIncidentStep sets current_step and bumps updated, provided the
// incident is still active — the only writer of current_step per §5.
func (q *Queries) AdvanceIncidentStep(ctx context.Context, incidentID uuid.UUID, step int) error {
	const sql = `UPDATE incidents SET current_step = $2, updated = now() WHERE id = $1 AND active = true`
	if _, err := q.db.Exec(ctx, sql, incidentID, step); err != nil {
		return fmt.Errorf("advancing incident %s to step %d: %w", incidentID, step, err)
	}
	return nil
}

// DeactivateIncident sets active=false. Idempotent.
func (q *Queries) DeactivateIncident(ctx context.Context, incidentID uuid.UUID) error {
	const sql = `UPDATE incidents SET active = false, updated = now() WHERE id = $1`
	if _, err := q.db.Exec(ctx, sql, incidentID); err != nil {
		return fmt.Errorf("deactivating incident %s: %w", incidentID, err)
	}
	return nil
}

// DeactivateExhaustedIncidents marks inactive every incident whose final
// step's PlanNotifications have all reached repeat+1 sends with the most
// recent send older than wait — EscalationEngine.deactivate(), a single
// atomic UPDATE over a derived set.
func (q *Queries) DeactivateExhaustedIncidents(ctx context.Context) (int64, error) {
	const sql = `
WITH step_status AS (
  SELECT i.id AS incident_id,
         pn.id AS pn_id,
         (SELECT count(m.id) FROM messages m
            WHERE m.plan_notification_id = pn.id AND m.incident_id = i.id) AS send_count,
         (SELECT extract(epoch from now() - max(m.created)) FROM messages m
            WHERE m.plan_notification_id = pn.id AND m.incident_id = i.id) AS age_seconds,
         pn.repeat, pn.wait
  FROM incidents i
  JOIN plans p ON p.id = i.plan_id
  JOIN plan_notifications pn ON pn.plan_id = i.plan_id AND pn.step = i.current_step
  WHERE i.active = true AND i.current_step = p.step_count
),
exhausted AS (
  SELECT incident_id
  FROM step_status
  GROUP BY incident_id
  HAVING bool_and(send_count = repeat + 1 AND age_seconds > wait)
)
UPDATE incidents SET active = false, updated = now()
WHERE id IN (SELECT incident_id FROM exhausted)`

	tag, err := q.db.Exec(ctx, sql)
	if err != nil {
		return 0, fmt.Errorf("deactivating exhausted incidents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetIncident loads a single incident by id.
func (q *Queries) GetIncident(ctx context.Context, incidentID uuid.UUID) (Incident, error) {
	const sql = `
SELECT id, plan_id, application_id, context, created, updated, current_step, active, owner
FROM incidents WHERE id = $1`

	var inc Incident
	err := q.db.QueryRow(ctx, sql, incidentID).Scan(&inc.ID, &inc.PlanID, &inc.ApplicationID,
		&inc.Context, &inc.Created, &inc.Updated, &inc.CurrentStep, &inc.Active, &inc.Owner)
	if err != nil {
		return Incident{}, fmt.Errorf("querying incident %s: %w", incidentID, err)
	}
	return inc, nil
}
