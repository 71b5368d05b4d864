// Package cache is pagewave's in-memory mirror of slow-changing reference
// data: plans, applications, modes, priorities, template content, and
// target reprioritization rules. EscalationEngine, Renderer, and
// ContactResolver read these through it instead of hitting Postgres per
// message. Target-role expansion is not cached: pkg/target queries the
// store for role members on every resolution.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pagewave/pagewave/internal/store"
)

// templateKey identifies one (template, application, mode) rendering.
type templateKey struct {
	templateName string
	applicationID uuid.UUID
	modeID        uuid.UUID
}

// roleKey identifies a role scoped to a team/rotation target.
type roleKey struct {
	role     string
	targetID uuid.UUID
}

// Cache holds reference data refreshed on a ticker. All access is guarded
// by a single RWMutex since refresh swaps the whole snapshot atomically.
type Cache struct {
	queries *store.Queries
	logger  *slog.Logger

	mu sync.RWMutex

	plans             map[uuid.UUID]store.Plan
	applications      map[uuid.UUID]store.Application
	modes             map[uuid.UUID]store.Mode
	modesByName       map[string]store.Mode
	priorities        map[uuid.UUID]store.Priority
	prioritiesByName  map[string]store.Priority
	templateContent   map[templateKey]store.TemplateContent
	roleMembers       map[roleKey][]store.TargetRole
	reprioritization  map[[2]uuid.UUID]store.TargetReprioritizationRule // [target,src_mode] -> rule
}

// New creates an empty Cache; call Refresh before serving traffic.
func New(queries *store.Queries, logger *slog.Logger) *Cache {
	return &Cache{
		queries: queries,
		logger:  logger,
	}
}

// Refresh reloads every reference table from Postgres and atomically swaps
// the cache's snapshot.
func (c *Cache) Refresh(ctx context.Context) error {
	plans, err := c.queries.ListAllPlans(ctx)
	if err != nil {
		return fmt.Errorf("refreshing plans: %w", err)
	}
	apps, err := c.queries.ListApplications(ctx)
	if err != nil {
		return fmt.Errorf("refreshing applications: %w", err)
	}
	modes, err := c.queries.ListModes(ctx)
	if err != nil {
		return fmt.Errorf("refreshing modes: %w", err)
	}
	priorities, err := c.queries.ListPriorities(ctx)
	if err != nil {
		return fmt.Errorf("refreshing priorities: %w", err)
	}
	templateContent, err := c.queries.ListTemplateContent(ctx)
	if err != nil {
		return fmt.Errorf("refreshing template content: %w", err)
	}
	rules, err := c.queries.ListReprioritizationRules(ctx)
	if err != nil {
		return fmt.Errorf("refreshing reprioritization rules: %w", err)
	}

	plansByID := make(map[uuid.UUID]store.Plan, len(plans))
	for _, p := range plans {
		plansByID[p.ID] = p
	}

	appsByID := make(map[uuid.UUID]store.Application, len(apps))
	for _, a := range apps {
		appsByID[a.ID] = a
	}

	modesByID := make(map[uuid.UUID]store.Mode, len(modes))
	modesByName := make(map[string]store.Mode, len(modes))
	for _, m := range modes {
		modesByID[m.ID] = m
		modesByName[m.Name] = m
	}

	prioritiesByID := make(map[uuid.UUID]store.Priority, len(priorities))
	prioritiesByName := make(map[string]store.Priority, len(priorities))
	for _, p := range priorities {
		prioritiesByID[p.ID] = p
		prioritiesByName[p.Name] = p
	}

	// template_content rows are keyed by template_id in storage, but the
	// Renderer looks templates up by name — resolve template_id -> name
	// once here so TemplateContent() can index directly by name.
	templates, err := c.queries.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("refreshing templates: %w", err)
	}
	nameByID := make(map[uuid.UUID]string, len(templates))
	for _, t := range templates {
		nameByID[t.ID] = t.Name
	}
	tcByName := make(map[templateKey]store.TemplateContent, len(templateContent))
	for _, t := range templateContent {
		name, ok := nameByID[t.TemplateID]
		if !ok {
			continue
		}
		tcByName[templateKey{templateName: name, applicationID: t.ApplicationID, modeID: t.ModeID}] = t
	}

	reprioritization := make(map[[2]uuid.UUID]store.TargetReprioritizationRule, len(rules))
	for _, r := range rules {
		reprioritization[[2]uuid.UUID{r.TargetID, r.SrcModeID}] = r
	}

	c.mu.Lock()
	c.plans = plansByID
	c.applications = appsByID
	c.modes = modesByID
	c.modesByName = modesByName
	c.priorities = prioritiesByID
	c.prioritiesByName = prioritiesByName
	c.templateContent = tcByName
	c.reprioritization = reprioritization
	c.mu.Unlock()

	c.logger.Debug("cache refreshed",
		"plans", len(plansByID), "applications", len(appsByID),
		"modes", len(modesByID), "priorities", len(prioritiesByID),
		"template_content", len(tcByName), "reprioritization_rules", len(reprioritization))

	return nil
}

// RunRefreshLoop refreshes the cache on interval until ctx is cancelled.
func (c *Cache) RunRefreshLoop(ctx context.Context, interval time.Duration) {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Error("initial cache refresh failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Error("cache refresh failed", "error", err)
			}
		}
	}
}

// Plan returns a cached plan by id.
func (c *Cache) Plan(id uuid.UUID) (store.Plan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plans[id]
	return p, ok
}

// Application returns a cached application by id.
func (c *Cache) Application(id uuid.UUID) (store.Application, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.applications[id]
	return a, ok
}

// Mode returns a cached mode by id.
func (c *Cache) Mode(id uuid.UUID) (store.Mode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modes[id]
	return m, ok
}

// ModeByName returns a cached mode by its unique name.
func (c *Cache) ModeByName(name string) (store.Mode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modesByName[name]
	return m, ok
}

// Priority returns a cached priority by id.
func (c *Cache) Priority(id uuid.UUID) (store.Priority, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.priorities[id]
	return p, ok
}

// PriorityByName returns a cached priority by its unique name.
func (c *Cache) PriorityByName(name string) (store.Priority, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prioritiesByName[name]
	return p, ok
}

// TemplateContent looks up template[name][application][mode].
func (c *Cache) TemplateContent(name string, applicationID, modeID uuid.UUID) (store.TemplateContent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tc, ok := c.templateContent[templateKey{templateName: name, applicationID: applicationID, modeID: modeID}]
	return tc, ok
}

// ReprioritizationRule returns the rule for (target, src_mode), if any.
func (c *Cache) ReprioritizationRule(targetID, srcModeID uuid.UUID) (store.TargetReprioritizationRule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.reprioritization[[2]uuid.UUID{targetID, srcModeID}]
	return r, ok
}
