// Package escalation implements the EscalationEngine (spec §4.1): driving
// incidents through their plan's steps, emitting message rows for each
// step's PlanNotifications, and deactivating incidents once their final
// step is exhausted.
package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pagewave/pagewave/internal/store"
	"github.com/pagewave/pagewave/pkg/cache"
	"github.com/pagewave/pagewave/pkg/target"
)

const lowPriorityName = "low"

// Engine runs exclusively on the master, per §5 ("the MaintenanceLoop is
// the sole writer for incident current_step and active=0 transitions").
type Engine struct {
	queries  *store.Queries
	cache    *cache.Cache
	targets  *target.Resolver
	logger   *slog.Logger
}

// New creates an Engine.
func New(queries *store.Queries, c *cache.Cache, targets *target.Resolver, logger *slog.Logger) *Engine {
	return &Engine{queries: queries, cache: c, targets: targets, logger: logger}
}

// Deactivate runs deactivate(): a single atomic UPDATE marking inactive
// every incident whose final step's PlanNotifications have all reached
// repeat+1 sends, with the most recent send older than wait.
func (e *Engine) Deactivate(ctx context.Context) error {
	n, err := e.queries.DeactivateExhaustedIncidents(ctx)
	if err != nil {
		return fmt.Errorf("deactivating exhausted incidents: %w", err)
	}
	if n > 0 {
		e.logger.Info("deactivated exhausted incidents", "count", n)
	}
	return nil
}

// Escalate runs escalate()'s two sub-phases: new incidents first, then
// in-flight escalation of existing incidents.
func (e *Engine) Escalate(ctx context.Context) error {
	if err := e.escalateNew(ctx); err != nil {
		return fmt.Errorf("escalating new incidents: %w", err)
	}
	if err := e.escalateInFlight(ctx); err != nil {
		return fmt.Errorf("escalating in-flight incidents: %w", err)
	}
	return nil
}

// escalateNew advances every current_step=0 incident to step 1 and emits
// its step-1 messages, plus an out-of-band tracking message if configured.
func (e *Engine) escalateNew(ctx context.Context) error {
	incidents, err := e.queries.ListNewIncidents(ctx)
	if err != nil {
		return fmt.Errorf("listing new incidents: %w", err)
	}

	for _, inc := range incidents {
		if err := e.advanceToStep(ctx, inc, 1); err != nil {
			e.logger.Error("advancing new incident to step 1", "incident_id", inc.ID, "error", err)
		}
	}
	return nil
}

// escalateInFlight evaluates every active incident past step 0 against its
// current step's send counts and ages, repeating or advancing as needed.
func (e *Engine) escalateInFlight(ctx context.Context) error {
	incidents, err := e.queries.ListActiveIncidents(ctx)
	if err != nil {
		return fmt.Errorf("listing active incidents: %w", err)
	}

	for _, inc := range incidents {
		if err := e.escalateOne(ctx, inc); err != nil {
			e.logger.Error("escalating incident", "incident_id", inc.ID, "error", err)
		}
	}
	return nil
}

func (e *Engine) escalateOne(ctx context.Context, inc store.Incident) error {
	plan, ok := e.cache.Plan(inc.PlanID)
	if !ok {
		return fmt.Errorf("plan %s not in cache", inc.PlanID)
	}

	counts, err := e.queries.CountMessagesForIncidentStep(ctx, inc.ID, inc.PlanID, inc.CurrentStep)
	if err != nil {
		return fmt.Errorf("counting step sends: %w", err)
	}

	notifications, err := e.queries.ListPlanNotificationsForStep(ctx, inc.PlanID, inc.CurrentStep)
	if err != nil {
		return fmt.Errorf("listing step plan notifications: %w", err)
	}
	byID := make(map[uuid.UUID]store.PlanNotification, len(notifications))
	for _, pn := range notifications {
		byID[pn.ID] = pn
	}

	stepExhausted := len(counts) > 0
	for _, c := range counts {
		pn, ok := byID[c.PlanNotificationID]
		if !ok {
			continue
		}
		max := pn.Repeat + 1
		if c.AgeSeconds == nil {
			// Nothing emitted yet for this PlanNotification (every earlier
			// target resolution failed): retry the emission on this tick.
			stepExhausted = false
			if _, err := e.emitForNotification(ctx, inc, pn); err != nil {
				e.logger.Error("retrying step message", "incident_id", inc.ID,
					"plan_notification_id", pn.ID, "error", err)
			}
			continue
		}
		age := 0.0
		if c.AgeSeconds != nil {
			age = *c.AgeSeconds
		}
		if age <= float64(pn.Wait) {
			stepExhausted = false
			continue
		}
		switch {
		case c.Count < max:
			stepExhausted = false
			if _, err := e.emitForNotification(ctx, inc, pn); err != nil {
				e.logger.Error("emitting repeat message", "incident_id", inc.ID,
					"plan_notification_id", pn.ID, "error", err)
			}
		case c.Count == max:
			// this PlanNotification's share of the step is done; leave
			// stepExhausted as-is for the others in this step
		default:
			stepExhausted = false
		}
	}

	if stepExhausted && inc.CurrentStep < plan.StepCount {
		return e.advanceToStep(ctx, inc, inc.CurrentStep+1)
	}
	return nil
}

// advanceToStep sets the incident's current_step and emits messages for
// every PlanNotification of that step, per §4.1.1. If zero messages result
// from a full step of role-resolution failures, step 1 resets current_step
// to 0 for a retry; later steps (the Open Question resolution, recorded in
// DESIGN.md) retry in place at the advanced step instead.
func (e *Engine) advanceToStep(ctx context.Context, inc store.Incident, step int) error {
	notifications, err := e.queries.ListPlanNotificationsForStep(ctx, inc.PlanID, step)
	if err != nil {
		return fmt.Errorf("listing plan notifications for step %d: %w", step, err)
	}
	if len(notifications) == 0 {
		// Plan corruption: an advanced step with no PlanNotifications.
		return e.queries.DeactivateIncident(ctx, inc.ID)
	}

	if err := e.queries.AdvanceIncidentStep(ctx, inc.ID, step); err != nil {
		return fmt.Errorf("advancing incident to step %d: %w", step, err)
	}

	emitted := 0
	for _, pn := range notifications {
		ids, err := e.emitForNotification(ctx, inc, pn)
		if err != nil {
			e.logger.Error("emitting step message", "incident_id", inc.ID,
				"plan_notification_id", pn.ID, "error", err)
			continue
		}
		emitted += len(ids)
	}

	if emitted == 0 {
		if step == 1 {
			if err := e.queries.AdvanceIncidentStep(ctx, inc.ID, 0); err != nil {
				return fmt.Errorf("resetting incident to step 0: %w", err)
			}
		}
		// Steps beyond 1: left at the advanced step, retried next tick.
		return nil
	}

	if step == 1 {
		return e.emitTracking(ctx, inc)
	}
	return nil
}

// emitForNotification resolves a PlanNotification's target (applying
// creator/low-priority fallback on empty role expansion) and inserts one
// message per resolved target.
func (e *Engine) emitForNotification(ctx context.Context, inc store.Incident, pn store.PlanNotification) ([]uuid.UUID, error) {
	roleName := ""
	if pn.RoleName != nil {
		roleName = *pn.RoleName
	}

	targets, err := e.targets.TargetsForRole(ctx, roleName, pn.TargetID)
	if err != nil {
		return nil, fmt.Errorf("resolving targets for role: %w", err)
	}

	if len(targets) == 0 {
		return e.emitCreatorFallback(ctx, inc, pn)
	}

	var ids []uuid.UUID
	for _, tgt := range targets {
		id, err := e.queries.CreateMessage(ctx, store.CreateMessageParams{
			IncidentID:         &inc.ID,
			PlanID:             &inc.PlanID,
			PlanNotificationID: &pn.ID,
			ApplicationID:      inc.ApplicationID,
			TargetID:           tgt.ID,
			PriorityID:         pn.PriorityID,
			TemplateName:       nonEmptyPtr(pn.TemplateName),
			Context:            inc.Context,
		})
		if err != nil {
			return nil, fmt.Errorf("creating message for target %s: %w", tgt.ID, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// emitCreatorFallback implements §4.1.1's fallback: when role expansion
// yields nothing, address the plan's creator at low priority, with an
// explanatory body and a TARGET_CHANGE audit row.
func (e *Engine) emitCreatorFallback(ctx context.Context, inc store.Incident, pn store.PlanNotification) ([]uuid.UUID, error) {
	plan, ok := e.cache.Plan(inc.PlanID)
	if !ok {
		return nil, fmt.Errorf("plan %s not in cache for creator fallback", inc.PlanID)
	}

	creator, err := e.queries.GetTargetByName(ctx, plan.Creator)
	if err != nil {
		return nil, fmt.Errorf("plan creator %q unresolvable, notification yields no message: %w", plan.Creator, err)
	}

	low, ok := e.cache.PriorityByName(lowPriorityName)
	if !ok {
		return nil, fmt.Errorf("priority %q missing, notification yields no message", lowPriorityName)
	}

	body := fmt.Sprintf("Role expansion for plan notification %s returned no targets; falling back to creator %s.", pn.ID, plan.Creator)
	id, err := e.queries.CreateMessage(ctx, store.CreateMessageParams{
		IncidentID:         &inc.ID,
		PlanID:             &inc.PlanID,
		PlanNotificationID: &pn.ID,
		ApplicationID:      inc.ApplicationID,
		TargetID:           creator.ID,
		PriorityID:         low.ID,
		Body:               body,
		TemplateName:       nonEmptyPtr(pn.TemplateName),
		Context:            inc.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("creating creator fallback message: %w", err)
	}

	toCreator := creator.Name
	if err := e.queries.AppendChangelog(ctx, id, "TARGET_CHANGE", nil, &toCreator, body); err != nil {
		e.logger.Warn("failed to audit target-change fallback", "message_id", id, "error", err)
	}
	return []uuid.UUID{id}, nil
}

// emitTracking emits the plan's out-of-band tracking message for a newly
// escalated incident, when tracking_type and tracking_template are
// configured and the application has a rendering for the tracking template
// (tracking_key is not consulted). Only type="email" is supported.
func (e *Engine) emitTracking(ctx context.Context, inc store.Incident) error {
	plan, ok := e.cache.Plan(inc.PlanID)
	if !ok || plan.TrackingTemplate == nil || plan.TrackingType == nil {
		return nil
	}
	if *plan.TrackingType != "email" {
		return nil
	}

	emailMode, ok := e.cache.ModeByName("email")
	if !ok {
		return nil
	}
	if _, ok := e.cache.TemplateContent(*plan.TrackingTemplate, inc.ApplicationID, emailMode.ID); !ok {
		return nil
	}

	augmented, err := augmentContext(inc.Context, map[string]any{
		"incident_id": inc.ID.String(),
		"plan":        plan.Name,
		"plan_id":     plan.ID.String(),
		"application": inc.ApplicationID.String(),
	})
	if err != nil {
		return fmt.Errorf("augmenting tracking context: %w", err)
	}

	priority, ok := e.cache.PriorityByName(lowPriorityName)
	if !ok {
		return fmt.Errorf("priority %q missing for tracking message", lowPriorityName)
	}

	// Tracking messages are addressed to the plan's creator target row
	// (the table's target_id is NOT NULL); tracking_key is not used to
	// pick the destination.
	creator, err := e.queries.GetTargetByName(ctx, plan.Creator)
	if err != nil {
		return fmt.Errorf("resolving tracking message target (plan creator %q): %w", plan.Creator, err)
	}

	_, err = e.queries.CreateMessage(ctx, store.CreateMessageParams{
		PlanID:        &inc.PlanID,
		ApplicationID: inc.ApplicationID,
		TargetID:      creator.ID,
		PriorityID:    priority.ID,
		TemplateName:  plan.TrackingTemplate,
		Context:       augmented,
	})
	if err != nil {
		return fmt.Errorf("creating tracking message: %w", err)
	}
	return nil
}

// augmentContext merges extra fields into a JSON context object, per
// §4.1's "incident context augmented with {incident_id, plan, plan_id,
// application}" for tracking messages.
func augmentContext(raw json.RawMessage, extra map[string]any) (json.RawMessage, error) {
	vars := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &vars); err != nil {
			return nil, fmt.Errorf("unmarshalling context: %w", err)
		}
	}
	for k, v := range extra {
		vars[k] = v
	}
	encoded, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("marshalling augmented context: %w", err)
	}
	return encoded, nil
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
