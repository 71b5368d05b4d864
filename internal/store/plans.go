package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GetActivePlan returns the plan with planID if it has a plan_active row,
// or an error wrapping pgx.ErrNoRows if it is not active.
func (q *Queries) GetActivePlan(ctx context.Context, planID uuid.UUID) (Plan, error) {
	const sql = `
SELECT p.id, p.name, p.description, p.creator, p.created, p.step_count,
       p.threshold_window, p.threshold_count, p.aggregation_window,
       p.aggregation_reset, p.tracking_type, p.tracking_key, p.tracking_template
FROM plans p
JOIN plan_active pa ON pa.plan_id = p.id
WHERE p.id = $1`

	var p Plan
	err := q.db.QueryRow(ctx, sql, planID).Scan(
		&p.ID, &p.Name, &p.Description, &p.Creator, &p.Created, &p.StepCount,
		&p.ThresholdWindow, &p.ThresholdCount, &p.AggregationWindow,
		&p.AggregationReset, &p.TrackingType, &p.TrackingKey, &p.TrackingTemplate,
	)
	if err != nil {
		return Plan{}, fmt.Errorf("querying active plan %s: %w", planID, err)
	}
	return p, nil
}

// GetPlan loads a plan by id regardless of activation state.
func (q *Queries) GetPlan(ctx context.Context, planID uuid.UUID) (Plan, error) {
	const sql = `
SELECT id, name, description, creator, created, step_count,
       threshold_window, threshold_count, aggregation_window,
       aggregation_reset, tracking_type, tracking_key, tracking_template
FROM plans WHERE id = $1`

	var p Plan
	err := q.db.QueryRow(ctx, sql, planID).Scan(
		&p.ID, &p.Name, &p.Description, &p.Creator, &p.Created, &p.StepCount,
		&p.ThresholdWindow, &p.ThresholdCount, &p.AggregationWindow,
		&p.AggregationReset, &p.TrackingType, &p.TrackingKey, &p.TrackingTemplate,
	)
	if err != nil {
		return Plan{}, fmt.Errorf("querying plan %s: %w", planID, err)
	}
	return p, nil
}

// ListPlanNotificationsForStep returns every PlanNotification of a plan's step.
func (q *Queries) ListPlanNotificationsForStep(ctx context.Context, planID uuid.UUID, step int) ([]PlanNotification, error) {
	const sql = `
SELECT id, plan_id, step, priority_id, target_id, role_name, template_name, repeat, wait
FROM plan_notifications WHERE plan_id = $1 AND step = $2`

	rows, err := q.db.Query(ctx, sql, planID, step)
	if err != nil {
		return nil, fmt.Errorf("listing plan notifications for plan %s step %d: %w", planID, step, err)
	}
	defer rows.Close()

	var out []PlanNotification
	for rows.Next() {
		var pn PlanNotification
		if err := rows.Scan(&pn.ID, &pn.PlanID, &pn.Step, &pn.PriorityID, &pn.TargetID,
			&pn.RoleName, &pn.TemplateName, &pn.Repeat, &pn.Wait); err != nil {
			return nil, fmt.Errorf("scanning plan notification: %w", err)
		}
		out = append(out, pn)
	}
	return out, rows.Err()
}

// PlanNotificationSendCount reports how many messages have ever been sent
// for a (incident, plan_notification) pair, and the age since the most
// recent send in seconds (null age if none sent yet).
type PlanNotificationSendCount struct {
	PlanNotificationID uuid.UUID
	Count              int
	AgeSeconds         *float64
}

// CountMessagesForIncidentStep returns per-PlanNotification send counts and
// most-recent-send age for every PlanNotification of an incident's current step.
func (q *Queries) CountMessagesForIncidentStep(ctx context.Context, incidentID uuid.UUID, planID uuid.UUID, step int) ([]PlanNotificationSendCount, error) {
	const sql = `
SELECT pn.id,
       count(m.id) FILTER (WHERE m.id IS NOT NULL),
       extract(epoch from now() - max(m.created))
FROM plan_notifications pn
LEFT JOIN messages m ON m.plan_notification_id = pn.id AND m.incident_id = $1
WHERE pn.plan_id = $2 AND pn.step = $3
GROUP BY pn.id`

	rows, err := q.db.Query(ctx, sql, incidentID, planID, step)
	if err != nil {
		return nil, fmt.Errorf("counting messages for incident %s step %d: %w", incidentID, step, err)
	}
	defer rows.Close()

	var out []PlanNotificationSendCount
	for rows.Next() {
		var c PlanNotificationSendCount
		if err := rows.Scan(&c.PlanNotificationID, &c.Count, &c.AgeSeconds); err != nil {
			return nil, fmt.Errorf("scanning send count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
