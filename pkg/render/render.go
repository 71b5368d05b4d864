// Package render implements the Renderer (spec §4.3): looking up
// template[name][application][mode] in the cache and rendering subject/body
// under a sandboxed, auto-escaping template environment.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"

	"github.com/google/uuid"

	"github.com/pagewave/pagewave/internal/hmacauth"
	"github.com/pagewave/pagewave/internal/store"
	"github.com/pagewave/pagewave/pkg/cache"
)

const subjectMaxLen = 255

// Rendered is a fully-rendered message ready for dispatch.
type Rendered struct {
	Subject    string
	Body       string
	TemplateID *uuid.UUID
	ExtraHTML  string // oneclick claim URL, attached only for email
}

// OneclickConfig controls §6's oneclick-email claim URL attachment.
type OneclickConfig struct {
	Enabled bool
	Signer  *hmacauth.Signer
	BaseURL string
	Cmd     string // claim command, e.g. "ack"
}

// Renderer renders a message's subject/body from its cached template
// content, or synthesizes fallback text on any lookup/render failure.
type Renderer struct {
	cache    *cache.Cache
	oneclick OneclickConfig
}

// New creates a Renderer over the shared reference-data cache.
func New(c *cache.Cache, oneclick OneclickConfig) *Renderer {
	return &Renderer{cache: c, oneclick: oneclick}
}

// BatchInput describes an aggregation flush's representative message.
type BatchInput struct {
	ApplicationName string
	PlanName        string
	Count           int
	BatchID         uuid.UUID
}

// Render produces the final subject/body for msg. batch is non-nil for
// aggregated flushes; a msg that already carries a stored subject is sent
// with its stored subject/body and only gains the oneclick attachment.
func (r *Renderer) Render(msg store.Message, modeName string, batch *BatchInput) (Rendered, error) {
	switch {
	case batch != nil:
		return r.attachOneclick(msg, r.renderBatch(*batch), modeName), nil
	case msg.Subject != nil:
		// Out-of-band message with pre-populated subject, or an iris
		// response echo already carrying its stored subject/body.
		return r.attachOneclick(msg, Rendered{Subject: truncateSubject(*msg.Subject), Body: msg.Body, TemplateID: msg.TemplateID}, modeName), nil
	case msg.TemplateName == nil:
		// No template and no stored subject — load the message's own body
		// as-is (response-echo path with only a body on the row).
		return r.attachOneclick(msg, Rendered{Subject: "", Body: msg.Body}, modeName), nil
	}

	modeID, ok := r.cache.ModeByName(modeName)
	if !ok {
		return r.synthesizeFailure(msg, fmt.Errorf("mode %q not known to cache", modeName)), nil
	}

	tc, ok := r.cache.TemplateContent(*msg.TemplateName, msg.ApplicationID, modeID.ID)
	if !ok {
		return r.synthesizeFailure(msg, fmt.Errorf("no template content for %q/%s/%s", *msg.TemplateName, msg.ApplicationID, modeName)), nil
	}

	vars, err := flattenContext(msg.Context)
	if err != nil {
		return r.synthesizeFailure(msg, fmt.Errorf("decoding message context: %w", err)), nil
	}

	subject, err := execute("subject", tc.Subject, vars)
	if err != nil {
		return r.synthesizeFailure(msg, fmt.Errorf("rendering subject: %w", err)), nil
	}
	body, err := execute("body", tc.Body, vars)
	if err != nil {
		return r.synthesizeFailure(msg, fmt.Errorf("rendering body: %w", err)), nil
	}

	templateID := tc.TemplateID
	return r.attachOneclick(msg, Rendered{
		Subject:    truncateSubject(subject),
		Body:       body,
		TemplateID: &templateID,
	}, modeName), nil
}

func (r *Renderer) renderBatch(b BatchInput) Rendered {
	return Rendered{
		Subject: truncateSubject(fmt.Sprintf("[%s] %d messages from plan %s", b.ApplicationName, b.Count, b.PlanName)),
		Body:    fmt.Sprintf("Batch ID: %s", b.BatchID),
	}
}

// synthesizeFailure builds the spec's fixed-format render-failure message.
func (r *Renderer) synthesizeFailure(msg store.Message, cause error) Rendered {
	return Rendered{
		Subject: truncateSubject(fmt.Sprintf("%s Iris failed to render your message", msg.ID)),
		Body:    fmt.Sprintf("Failed rendering message.\n\nContext: %s\n\nError: %s", string(msg.Context), cause),
	}
}

// attachOneclick adds the signed claim URL for email sends of an incident
// message, when oneclick is enabled.
func (r *Renderer) attachOneclick(msg store.Message, rendered Rendered, modeName string) Rendered {
	if !r.oneclick.Enabled || modeName != "email" || msg.IncidentID == nil {
		return rendered
	}

	var email string
	if msg.Destination != nil {
		email = *msg.Destination
	}
	claim := hmacauth.OneclickClaim{
		MessageID: msg.ID.String(),
		Email:     email,
		Cmd:       r.oneclick.Cmd,
	}
	url, err := r.oneclick.Signer.BuildOneclickURL(r.oneclick.BaseURL, claim)
	if err != nil {
		return rendered // degrade silently: the claim link is an enhancement, not the send itself
	}
	rendered.ExtraHTML = url
	return rendered
}

// execute runs a named template against a sandboxed, auto-escaping
// html/template environment — stdlib's own answer to "sandboxed template
// environment with HTML auto-escape" (spec §4.3/§9).
func execute(name, source string, vars map[string]any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(source)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}
	return buf.String(), nil
}

// flattenContext decodes message.context into a map[string]any. JSON
// objects nested in the context stay nested maps (so {{.iris.message_id}}
// resolves); html/template can only dot-traverse maps and exported struct
// fields, and decoded JSON holds no structs, so template authors can't
// chase arbitrary attributes through pointer-linked structs (spec §9's
// "forbid arbitrary attribute traversal").
func flattenContext(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var vars map[string]any
	if err := json.Unmarshal(raw, &vars); err != nil {
		return nil, fmt.Errorf("unmarshalling context: %w", err)
	}
	return vars, nil
}

func truncateSubject(s string) string {
	if len(s) <= subjectMaxLen {
		return s
	}
	return s[:subjectMaxLen]
}
