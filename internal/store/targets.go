package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GetTarget loads a target by id.
func (q *Queries) GetTarget(ctx context.Context, id uuid.UUID) (Target, error) {
	const sql = `SELECT id, name, type FROM targets WHERE id = $1`
	var t Target
	if err := q.db.QueryRow(ctx, sql, id).Scan(&t.ID, &t.Name, &t.Type); err != nil {
		return Target{}, fmt.Errorf("querying target %s: %w", id, err)
	}
	return t, nil
}

// GetTargetByName loads a target by its unique name (used for creator/
// fallback resolution in §4.1.1).
func (q *Queries) GetTargetByName(ctx context.Context, name string) (Target, error) {
	const sql = `SELECT id, name, type FROM targets WHERE name = $1`
	var t Target
	if err := q.db.QueryRow(ctx, sql, name).Scan(&t.ID, &t.Name, &t.Type); err != nil {
		return Target{}, fmt.Errorf("querying target by name %q: %w", name, err)
	}
	return t, nil
}

// ListRoleMembers returns the member targets of a role scoped to a team/
// rotation target — the SQL half of targets_for_role; oncall rotation
// ordering is resolved in pkg/oncall on top of this raw membership list.
func (q *Queries) ListRoleMembers(ctx context.Context, roleName string, scopeTargetID uuid.UUID) ([]TargetRole, error) {
	const sql = `
SELECT id, role_name, target_id, member_target_id, is_oncall
FROM target_roles WHERE role_name = $1 AND target_id = $2`

	rows, err := q.db.Query(ctx, sql, roleName, scopeTargetID)
	if err != nil {
		return nil, fmt.Errorf("listing role members for role %q target %s: %w", roleName, scopeTargetID, err)
	}
	defer rows.Close()

	var out []TargetRole
	for rows.Next() {
		var tr TargetRole
		if err := rows.Scan(&tr.ID, &tr.RoleName, &tr.TargetID, &tr.MemberTargetID, &tr.IsOncall); err != nil {
			return nil, fmt.Errorf("scanning target role: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// GetTargetContact resolves a (target, mode) pair to a destination.
func (q *Queries) GetTargetContact(ctx context.Context, targetID, modeID uuid.UUID) (TargetContact, error) {
	const sql = `SELECT target_id, mode_id, destination FROM target_contacts WHERE target_id = $1 AND mode_id = $2`
	var tc TargetContact
	if err := q.db.QueryRow(ctx, sql, targetID, modeID).Scan(&tc.TargetID, &tc.ModeID, &tc.Destination); err != nil {
		return TargetContact{}, fmt.Errorf("querying target contact %s/%s: %w", targetID, modeID, err)
	}
	return tc, nil
}

// GetTargetApplicationMode resolves the most specific per-application mode
// preference, if one exists.
func (q *Queries) GetTargetApplicationMode(ctx context.Context, targetID, applicationID, priorityID uuid.UUID) (TargetApplicationMode, error) {
	const sql = `
SELECT target_id, application_id, priority_id, mode_id
FROM target_application_modes WHERE target_id = $1 AND application_id = $2 AND priority_id = $3`

	var tam TargetApplicationMode
	err := q.db.QueryRow(ctx, sql, targetID, applicationID, priorityID).
		Scan(&tam.TargetID, &tam.ApplicationID, &tam.PriorityID, &tam.ModeID)
	if err != nil {
		return TargetApplicationMode{}, fmt.Errorf("querying target application mode: %w", err)
	}
	return tam, nil
}

// GetTargetMode resolves a target's global per-priority mode preference.
func (q *Queries) GetTargetMode(ctx context.Context, targetID, priorityID uuid.UUID) (TargetMode, error) {
	const sql = `SELECT target_id, priority_id, mode_id FROM target_modes WHERE target_id = $1 AND priority_id = $2`
	var tm TargetMode
	if err := q.db.QueryRow(ctx, sql, targetID, priorityID).Scan(&tm.TargetID, &tm.PriorityID, &tm.ModeID); err != nil {
		return TargetMode{}, fmt.Errorf("querying target mode: %w", err)
	}
	return tm, nil
}

// GetReprioritizationRule returns the rule for (target, src_mode), if any.
func (q *Queries) GetReprioritizationRule(ctx context.Context, targetID, srcModeID uuid.UUID) (TargetReprioritizationRule, error) {
	const sql = `
SELECT id, target_id, src_mode_id, dst_mode_id, count, duration_seconds
FROM target_reprioritization_rules WHERE target_id = $1 AND src_mode_id = $2`

	var r TargetReprioritizationRule
	err := q.db.QueryRow(ctx, sql, targetID, srcModeID).
		Scan(&r.ID, &r.TargetID, &r.SrcModeID, &r.DstModeID, &r.Count, &r.DurationS)
	if err != nil {
		return TargetReprioritizationRule{}, fmt.Errorf("querying reprioritization rule: %w", err)
	}
	return r, nil
}

// ListReprioritizationRules returns every configured rule, for Cache refresh.
func (q *Queries) ListReprioritizationRules(ctx context.Context) ([]TargetReprioritizationRule, error) {
	const sql = `SELECT id, target_id, src_mode_id, dst_mode_id, count, duration_seconds FROM target_reprioritization_rules`

	rows, err := q.db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("listing reprioritization rules: %w", err)
	}
	defer rows.Close()

	var out []TargetReprioritizationRule
	for rows.Next() {
		var r TargetReprioritizationRule
		if err := rows.Scan(&r.ID, &r.TargetID, &r.SrcModeID, &r.DstModeID, &r.Count, &r.DurationS); err != nil {
			return nil, fmt.Errorf("scanning reprioritization rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
