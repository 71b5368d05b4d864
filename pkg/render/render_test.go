package render

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pagewave/pagewave/internal/store"
	"github.com/pagewave/pagewave/pkg/cache"
)

func TestRender_SynthesizesFailureWhenTemplateMissing(t *testing.T) {
	c := cache.New(nil, slog.Default())
	r := New(c, OneclickConfig{})

	name := "welcome"
	msg := store.Message{
		ID:            uuid.New(),
		ApplicationID: uuid.New(),
		TemplateName:  &name,
		Context:       json.RawMessage(`{"user":"alice"}`),
	}

	rendered, err := r.Render(msg, "email", nil)
	require.NoError(t, err)
	require.Contains(t, rendered.Subject, "Iris failed to render your message")
	require.Nil(t, rendered.TemplateID)
}

func TestRender_BatchSynthesizesSubjectAndBody(t *testing.T) {
	c := cache.New(nil, slog.Default())
	r := New(c, OneclickConfig{})

	msg := store.Message{ID: uuid.New()}
	batchID := uuid.New()
	rendered, err := r.Render(msg, "email", &BatchInput{
		ApplicationName: "billing",
		PlanName:        "default",
		Count:           3,
		BatchID:         batchID,
	})
	require.NoError(t, err)
	require.Equal(t, "[billing] 3 messages from plan default", rendered.Subject)
	require.Contains(t, rendered.Body, batchID.String())
}

func TestRender_OutOfBandSkipsTemplateLookup(t *testing.T) {
	c := cache.New(nil, slog.Default())
	r := New(c, OneclickConfig{})

	subject := "already rendered"
	msg := store.Message{ID: uuid.New(), Subject: &subject, Body: "hello"}

	rendered, err := r.Render(msg, "sms", nil)
	require.NoError(t, err)
	require.Equal(t, subject, rendered.Subject)
	require.Equal(t, "hello", rendered.Body)
}
