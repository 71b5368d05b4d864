package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Application is a notification-producing system (e.g. "billing", "auth").
type Application struct {
	ID   uuid.UUID
	Name string
}

// Mode is a delivery channel: email, sms, call, chat.
type Mode struct {
	ID   uuid.UUID
	Name string
}

// Priority carries a default delivery mode and an ordering weight.
type Priority struct {
	ID            uuid.UUID
	Name          string
	DefaultModeID uuid.UUID
	Weight        int
}

// Plan is an ordered multi-step escalation policy. Immutable after
// creation; activation is tracked separately in plan_active.
type Plan struct {
	ID                uuid.UUID
	Name              string
	Description       string
	Creator           string
	Created           time.Time
	StepCount         int
	ThresholdWindow   int // seconds
	ThresholdCount    int
	AggregationWindow int // seconds
	AggregationReset  int // seconds
	TrackingType      *string
	TrackingKey       *string
	TrackingTemplate  *string
}

// PlanNotification is one (priority, role, target, template, repeat, wait)
// tuple within a plan step.
type PlanNotification struct {
	ID           uuid.UUID
	PlanID       uuid.UUID
	Step         int
	PriorityID   uuid.UUID
	TargetID     uuid.UUID
	RoleName     *string
	TemplateName string
	Repeat       int
	Wait         int // seconds
}

// Incident is a single triggering event for a plan.
type Incident struct {
	ID            uuid.UUID
	PlanID        uuid.UUID
	ApplicationID uuid.UUID
	Context       json.RawMessage
	Created       time.Time
	Updated       time.Time
	CurrentStep   int
	Active        bool
	Owner         *string
}

// Message is a concrete notification row directed at one destination.
type Message struct {
	ID                 uuid.UUID
	IncidentID         *uuid.UUID
	PlanID             *uuid.UUID
	PlanNotificationID *uuid.UUID
	ApplicationID      uuid.UUID
	TargetID           uuid.UUID
	PriorityID         uuid.UUID
	ModeID             *uuid.UUID
	Destination        *string
	Subject            *string
	Body               string
	TemplateID         *uuid.UUID
	TemplateName       *string
	Context            json.RawMessage
	Created            time.Time
	Sent               *time.Time
	Active             bool
	Batch              *uuid.UUID
}

// MessageChangelog is an append-only audit row on a message.
type MessageChangelog struct {
	ID        uuid.UUID
	MessageID uuid.UUID
	ChangeType string // TARGET_CHANGE, MODE_CHANGE, SENT_CHANGE
	FromValue *string
	ToValue   *string
	Detail    string
	Created   time.Time
}

// Target is a user or a role-expansion source (team, rotation).
type Target struct {
	ID   uuid.UUID
	Name string
	Type string
}

// TargetRole expands a role scoped to a team target to member targets.
type TargetRole struct {
	ID             uuid.UUID
	RoleName       string
	TargetID       uuid.UUID // the team/rotation target the role is scoped to
	MemberTargetID uuid.UUID
	IsOncall       bool
}

// TargetContact is a (target, mode) -> destination mapping.
type TargetContact struct {
	TargetID    uuid.UUID
	ModeID      uuid.UUID
	Destination string
}

// TargetMode is a target's global, per-priority mode preference.
type TargetMode struct {
	TargetID   uuid.UUID
	PriorityID uuid.UUID
	ModeID     uuid.UUID
}

// TargetApplicationMode is a target's per-application, per-priority mode
// preference — consulted before TargetMode.
type TargetApplicationMode struct {
	TargetID      uuid.UUID
	ApplicationID uuid.UUID
	PriorityID    uuid.UUID
	ModeID        uuid.UUID
}

// TargetReprioritizationRule rewrites src_mode to dst_mode after count sends
// within duration to a target.
type TargetReprioritizationRule struct {
	ID         uuid.UUID
	TargetID   uuid.UUID
	SrcModeID  uuid.UUID
	DstModeID  uuid.UUID
	Count      int
	DurationS  int
}

// Template groups content by (application, mode).
type Template struct {
	ID   uuid.UUID
	Name string
}

// TemplateContent is rendered subject/body source for one (template,
// application, mode) triple.
type TemplateContent struct {
	TemplateID    uuid.UUID
	ApplicationID uuid.UUID
	ModeID        uuid.UUID
	Subject       string
	Body          string
}

// Response records an inbound vendor callback (ack, oneclick claim, etc.).
type Response struct {
	ID        uuid.UUID
	MessageID uuid.UUID
	Source    string
	Payload   json.RawMessage
	Created   time.Time
}
