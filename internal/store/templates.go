package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GetTemplateContent loads a (template, application, mode) rendering triple
// by name — the Renderer's template[name][application][mode] lookup.
func (q *Queries) GetTemplateContent(ctx context.Context, templateName string, applicationID, modeID uuid.UUID) (TemplateContent, error) {
	const sql = `
SELECT tc.template_id, tc.application_id, tc.mode_id, tc.subject, tc.body
FROM template_content tc
JOIN templates t ON t.id = tc.template_id
WHERE t.name = $1 AND tc.application_id = $2 AND tc.mode_id = $3`

	var tc TemplateContent
	err := q.db.QueryRow(ctx, sql, templateName, applicationID, modeID).
		Scan(&tc.TemplateID, &tc.ApplicationID, &tc.ModeID, &tc.Subject, &tc.Body)
	if err != nil {
		return TemplateContent{}, fmt.Errorf("querying template content %q/%s/%s: %w", templateName, applicationID, modeID, err)
	}
	return tc, nil
}

// ListTemplateContent returns every template_content row, for Cache refresh.
func (q *Queries) ListTemplateContent(ctx context.Context) ([]TemplateContent, error) {
	const sql = `SELECT template_id, application_id, mode_id, subject, body FROM template_content`

	rows, err := q.db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("listing template content: %w", err)
	}
	defer rows.Close()

	var out []TemplateContent
	for rows.Next() {
		var tc TemplateContent
		if err := rows.Scan(&tc.TemplateID, &tc.ApplicationID, &tc.ModeID, &tc.Subject, &tc.Body); err != nil {
			return nil, fmt.Errorf("scanning template content: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// ListTemplates returns every template's id/name, for Cache refresh.
func (q *Queries) ListTemplates(ctx context.Context) ([]Template, error) {
	const sql = `SELECT id, name FROM templates`

	rows, err := q.db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
