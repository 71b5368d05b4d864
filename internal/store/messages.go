package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateMessageParams is the insert shape for a newly generated message row.
// body defaults to "" per spec §4.1.1 and is filled in later by the Renderer.
type CreateMessageParams struct {
	IncidentID         *uuid.UUID
	PlanID             *uuid.UUID
	PlanNotificationID *uuid.UUID
	ApplicationID      uuid.UUID
	TargetID           uuid.UUID
	PriorityID         uuid.UUID
	Body               string
	TemplateName       *string
	Context            json.RawMessage
}

// CreateMessage inserts a new active message row and returns its id.
func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageParams) (uuid.UUID, error) {
	const sql = `
INSERT INTO messages (id, incident_id, plan_id, plan_notification_id, application_id,
                       target_id, priority_id, body, template_name, context, created, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), true)`

	id := uuid.New()
	ctxJSON := arg.Context
	if ctxJSON == nil {
		ctxJSON = json.RawMessage("{}")
	}
	_, err := q.db.Exec(ctx, sql, id, arg.IncidentID, arg.PlanID, arg.PlanNotificationID,
		arg.ApplicationID, arg.TargetID, arg.PriorityID, arg.Body, arg.TemplateName, ctxJSON)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating message: %w", err)
	}
	return id, nil
}

// GetMessage loads a single message row by id.
func (q *Queries) GetMessage(ctx context.Context, id uuid.UUID) (Message, error) {
	const sql = `
SELECT id, incident_id, plan_id, plan_notification_id, application_id, target_id,
       priority_id, mode_id, destination, subject, body, template_id, template_name,
       context, created, sent, active, batch
FROM messages WHERE id = $1`

	var m Message
	err := q.db.QueryRow(ctx, sql, id).Scan(&m.ID, &m.IncidentID, &m.PlanID, &m.PlanNotificationID,
		&m.ApplicationID, &m.TargetID, &m.PriorityID, &m.ModeID, &m.Destination, &m.Subject,
		&m.Body, &m.TemplateID, &m.TemplateName, &m.Context, &m.Created, &m.Sent, &m.Active, &m.Batch)
	if err != nil {
		return Message{}, fmt.Errorf("querying message %s: %w", id, err)
	}
	return m, nil
}

// ListActiveIDsAmong filters ids down to those still active=true — used by
// AggregationEngine.aggregate() to re-check a batch against claim deactivation.
func (q *Queries) ListActiveIDsAmong(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	const sql = `SELECT id FROM messages WHERE id = ANY($1) AND active = true`

	rows, err := q.db.Query(ctx, sql, ids)
	if err != nil {
		return nil, fmt.Errorf("filtering active message ids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning message id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListUnsentExcluding returns active=true messages whose id is not in
// exclude — poll()'s input, preventing re-intake of buffered messages.
func (q *Queries) ListUnsentExcluding(ctx context.Context, exclude []uuid.UUID) ([]Message, error) {
	const sql = `
SELECT id, incident_id, plan_id, plan_notification_id, application_id, target_id,
       priority_id, mode_id, destination, subject, body, template_id, template_name,
       context, created, sent, active, batch
FROM messages WHERE active = true AND sent IS NULL AND NOT (id = ANY($1))`

	rows, err := q.db.Query(ctx, sql, exclude)
	if err != nil {
		return nil, fmt.Errorf("listing unsent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.IncidentID, &m.PlanID, &m.PlanNotificationID,
			&m.ApplicationID, &m.TargetID, &m.PriorityID, &m.ModeID, &m.Destination, &m.Subject,
			&m.Body, &m.TemplateID, &m.TemplateName, &m.Context, &m.Created, &m.Sent, &m.Active, &m.Batch); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkSentParams is the post-send update shape (§4.5 success path).
type MarkSentParams struct {
	Destination string
	ModeID      uuid.UUID
	TemplateID  *uuid.UUID
	Subject     string // truncated to 255 chars by the caller
	Body        string
	Batch       *uuid.UUID
}

// MarkSent updates a single message row as successfully dispatched.
func (q *Queries) MarkSent(ctx context.Context, id uuid.UUID, arg MarkSentParams) error {
	const sql = `
UPDATE messages
SET destination = $2, mode_id = $3, template_id = $4, subject = $5, body = $6,
    sent = now(), active = false, batch = $7
WHERE id = $1`

	if _, err := q.db.Exec(ctx, sql, id, arg.Destination, arg.ModeID, arg.TemplateID,
		arg.Subject, arg.Body, arg.Batch); err != nil {
		return fmt.Errorf("marking message %s sent: %w", id, err)
	}
	return nil
}

// MarkBatchSent applies MarkSent's update across every id in a flushed
// batch in one statement, all sharing the same batch UUID and payload.
func (q *Queries) MarkBatchSent(ctx context.Context, ids []uuid.UUID, arg MarkSentParams) error {
	const sql = `
UPDATE messages
SET destination = $2, mode_id = $3, template_id = $4, subject = $5, body = $6,
    sent = now(), active = false, batch = $7
WHERE id = ANY($1)`

	if _, err := q.db.Exec(ctx, sql, ids, arg.Destination, arg.ModeID, arg.TemplateID,
		arg.Subject, arg.Body, arg.Batch); err != nil {
		return fmt.Errorf("marking batch sent: %w", err)
	}
	return nil
}

// MarkDead deactivates a message without marking it sent — used when
// contact resolution fails permanently (§4.4/§7 kind 5).
func (q *Queries) MarkDead(ctx context.Context, id uuid.UUID) error {
	const sql = `UPDATE messages SET active = false WHERE id = $1`
	if _, err := q.db.Exec(ctx, sql, id); err != nil {
		return fmt.Errorf("marking message %s dead: %w", id, err)
	}
	return nil
}

// AppendChangelog writes one append-only audit row (TARGET_CHANGE,
// MODE_CHANGE, or SENT_CHANGE).
func (q *Queries) AppendChangelog(ctx context.Context, messageID uuid.UUID, changeType string, from, to *string, detail string) error {
	const sql = `
INSERT INTO message_changelog (id, message_id, change_type, from_value, to_value, detail, created)
VALUES ($1, $2, $3, $4, $5, $6, now())`

	if _, err := q.db.Exec(ctx, sql, uuid.New(), messageID, changeType, from, to, detail); err != nil {
		return fmt.Errorf("appending changelog for message %s: %w", messageID, err)
	}
	return nil
}

// ListChangelog returns every audit row for a message, oldest first.
func (q *Queries) ListChangelog(ctx context.Context, messageID uuid.UUID) ([]MessageChangelog, error) {
	const sql = `
SELECT id, message_id, change_type, from_value, to_value, detail, created
FROM message_changelog WHERE message_id = $1 ORDER BY created ASC`

	rows, err := q.db.Query(ctx, sql, messageID)
	if err != nil {
		return nil, fmt.Errorf("listing changelog for message %s: %w", messageID, err)
	}
	defer rows.Close()

	var out []MessageChangelog
	for rows.Next() {
		var c MessageChangelog
		if err := rows.Scan(&c.ID, &c.MessageID, &c.ChangeType, &c.FromValue, &c.ToValue,
			&c.Detail, &c.Created); err != nil {
			return nil, fmt.Errorf("scanning changelog row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PruneChangelog deletes audit rows older than olderThan — the
// MaintenanceLoop's independent 4-hour, 3-month-retention pass.
func (q *Queries) PruneChangelog(ctx context.Context, olderThan time.Time) (int64, error) {
	const sql = `DELETE FROM message_changelog WHERE created < $1`
	tag, err := q.db.Exec(ctx, sql, olderThan)
	if err != nil {
		return 0, fmt.Errorf("pruning message_changelog: %w", err)
	}
	return tag.RowsAffected(), nil
}
