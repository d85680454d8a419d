// Package events defines event types and structures for run lifecycle
// notifications.
package events

import (
	"time"

	"github.com/dukex/devflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries all engine events.
const Topic = "devflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Inbound command events published by the API/CLI layers.
	RunCreatedEvent               EventType = "run.created"
	ApprovalResolvedEvent         EventType = "run.approval.resolved"
	RunCancellationRequestedEvent EventType = "run.cancellation.requested"

	// Run lifecycle events published by the engine.
	PhaseStartedEvent      EventType = "run.phase.started"
	PhaseFinishedEvent     EventType = "run.phase.finished"
	ApprovalRequestedEvent EventType = "run.approval.requested"
	RunCompletedEvent      EventType = "run.completed"
	RunFailedEvent         EventType = "run.failed"
	RunCancelledEvent      EventType = "run.cancelled"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	EngineID  string         `json:"engine_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent creates the shared envelope for an event about a run.
func NewBaseEvent(eventType EventType, runID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
	}
}

// RunCreated announces a new run accepted by the API layer. The engine picks
// it up and starts the first phase.
type RunCreated struct {
	BaseEvent

	Slug string `json:"slug"`
}

func (e RunCreated) GetType() EventType {
	return RunCreatedEvent
}

// ApprovalResolved carries a human decision for a pending gate.
type ApprovalResolved struct {
	BaseEvent

	Phase     models.Phase    `json:"phase"`
	Decision  models.Decision `json:"decision"`
	Feedback  string          `json:"feedback,omitempty"`
	DecidedBy string          `json:"decided_by,omitempty"`
}

func (e ApprovalResolved) GetType() EventType {
	return ApprovalResolvedEvent
}

// RunCancellationRequested asks the engine to cancel a run.
type RunCancellationRequested struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e RunCancellationRequested) GetType() EventType {
	return RunCancellationRequestedEvent
}

type PhaseStarted struct {
	BaseEvent

	Phase   models.Phase `json:"phase"`
	Attempt int          `json:"attempt"`
}

func (e PhaseStarted) GetType() EventType {
	return PhaseStartedEvent
}

type PhaseFinished struct {
	BaseEvent

	Phase    models.Phase        `json:"phase"`
	Attempt  int                 `json:"attempt"`
	Outcome  models.PhaseOutcome `json:"outcome"`
	Duration time.Duration       `json:"duration"`
	Error    string              `json:"error,omitempty"`
}

func (e PhaseFinished) GetType() EventType {
	return PhaseFinishedEvent
}

// ApprovalRequested announces a run suspended on a gate.
type ApprovalRequested struct {
	BaseEvent

	Phase models.Phase `json:"phase"`
}

func (e ApprovalRequested) GetType() EventType {
	return ApprovalRequestedEvent
}

type RunCompleted struct {
	BaseEvent

	Duration time.Duration `json:"duration"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	Phase models.Phase `json:"phase"`
	Error string       `json:"error"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

type RunCancelled struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e RunCancelled) GetType() EventType {
	return RunCancelledEvent
}
