package cache

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pagewave/pagewave/internal/store"
)

func TestCache_LookupsMissBeforeRefresh(t *testing.T) {
	c := New(nil, nil)
	_, ok := c.Plan(uuid.New())
	require.False(t, ok)
}

func TestCache_DirectSnapshotLookups(t *testing.T) {
	c := &Cache{
		plans:            map[uuid.UUID]store.Plan{},
		applications:     map[uuid.UUID]store.Application{},
		modes:            map[uuid.UUID]store.Mode{},
		modesByName:      map[string]store.Mode{},
		priorities:       map[uuid.UUID]store.Priority{},
		prioritiesByName: map[string]store.Priority{},
		templateContent:  map[templateKey]store.TemplateContent{},
		reprioritization: map[[2]uuid.UUID]store.TargetReprioritizationRule{},
	}

	emailID := uuid.New()
	c.modes[emailID] = store.Mode{ID: emailID, Name: "email"}
	c.modesByName["email"] = store.Mode{ID: emailID, Name: "email"}

	m, ok := c.ModeByName("email")
	require.True(t, ok)
	require.Equal(t, emailID, m.ID)

	_, ok = c.ModeByName("sms")
	require.False(t, ok)

	targetID := uuid.New()
	rule := store.TargetReprioritizationRule{TargetID: targetID, SrcModeID: emailID, Count: 3, DurationS: 600}
	c.reprioritization[[2]uuid.UUID{targetID, emailID}] = rule

	got, ok := c.ReprioritizationRule(targetID, emailID)
	require.True(t, ok)
	require.Equal(t, rule, got)
}
