package service

import (
	"context"
	"time"
)

// AuthorizationGate answers whether an actor holds a role within a company.
// The engine asks it before honoring a decision and never caches the answer.
type AuthorizationGate interface {
	HasRole(ctx context.Context, actorID, roleID, companyID string) (bool, error)
}

// EventPublisher delivers engine events after the state change committed.
// Publishing is best effort: implementations log failures and never block
// the decision that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// Event types emitted by the workflow engine.
const (
	EventTaskOpened                = "task.opened"
	EventTaskClosed                = "task.closed"
	EventDocumentPublished         = "document.published"
	EventDocumentRevisionRequested = "document.revision_requested"
	EventDocumentCanceled          = "document.canceled"
)

// Event describes a committed workflow transition.
type Event struct {
	Type       string         `json:"event_type"`
	CompanyID  string         `json:"company_id"`
	ActorID    string         `json:"actor_id"`
	DocumentID string         `json:"document_id"`
	VersionID  string         `json:"version_id,omitempty"`
	TaskID     string         `json:"task_id,omitempty"`
	StepNumber int            `json:"step_number,omitempty"`
	Recipients []string       `json:"recipients,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}
