// Package target implements targets_for_role (spec §4.1.1): resolving a
// PlanNotification's (role, target) pair to a concrete list of target
// names, e.g. "oncall of team X" to the team's currently on-call user.
package target

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pagewave/pagewave/internal/store"
	"github.com/pagewave/pagewave/pkg/oncall"
)

// oncallRoleName is the one role the spec calls out explicitly
// ("oncall of team X -> current on-call user").
const oncallRoleName = "oncall"

// Resolver expands (role, target) pairs to concrete targets.
type Resolver struct {
	queries *store.Queries
	oncall  *oncall.Resolver
}

// New creates a Resolver over the store and an oncall rotation resolver.
func New(queries *store.Queries) *Resolver {
	return &Resolver{
		queries: queries,
		oncall:  oncall.New(queries),
	}
}

// TargetsForRole resolves a PlanNotification's role/target pair to the
// concrete member targets it expands to. roleName may be empty, in which case
// the PlanNotification's target is used directly (no role expansion).
func (r *Resolver) TargetsForRole(ctx context.Context, roleName string, scopeTargetID uuid.UUID) ([]store.Target, error) {
	if roleName == "" {
		t, err := r.queries.GetTarget(ctx, scopeTargetID)
		if err != nil {
			return nil, fmt.Errorf("loading direct target %s: %w", scopeTargetID, err)
		}
		return []store.Target{t}, nil
	}

	if roleName == oncallRoleName {
		memberID, ok, err := r.oncall.CurrentOnCall(ctx, scopeTargetID, time.Now())
		if err != nil {
			return nil, fmt.Errorf("resolving current on-call for team %s: %w", scopeTargetID, err)
		}
		if ok {
			member, err := r.queries.GetTarget(ctx, memberID)
			if err != nil {
				return nil, fmt.Errorf("loading on-call member %s: %w", memberID, err)
			}
			return []store.Target{member}, nil
		}
		// No rotation configured for this team — fall through to plain
		// target_roles membership below.
	}

	rows, err := r.queries.ListRoleMembers(ctx, roleName, scopeTargetID)
	if err != nil {
		return nil, fmt.Errorf("listing role members for role %q target %s: %w", roleName, scopeTargetID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	out := make([]store.Target, 0, len(rows))
	for _, row := range rows {
		member, err := r.queries.GetTarget(ctx, row.MemberTargetID)
		if err != nil {
			return nil, fmt.Errorf("loading role member %s: %w", row.MemberTargetID, err)
		}
		out = append(out, member)
	}
	return out, nil
}
