// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Events are published after the transaction that
// produced them commits.
const (
	// Program tree events
	EventLinkAttached EventType = "programtree.link_attached"
	EventLinkDetached EventType = "programtree.link_detached"
	EventLinkMoved    EventType = "programtree.link_moved"
	EventLinkUpdated  EventType = "programtree.link_updated"

	// Prerequisite events
	EventPrerequisiteUpdated EventType = "prerequisite.updated"

	// Tree version events
	EventTreeVersionCreated   EventType = "treeversion.created"
	EventTreeVersionPostponed EventType = "treeversion.postponed"
	EventTreeVersionDeleted   EventType = "treeversion.deleted"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventID returns the unique identifier of this occurrence.
	EventID() string

	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventID implements Event interface.
func (e BaseEvent) EventID() string {
	return e.ID
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// TreeAggregateID formats the aggregate id of a program tree.
func TreeAggregateID(code string, year int) string {
	return fmt.Sprintf("%s/%d", code, year)
}

// ═══════════════════════════════════════════════════════════════════════════
// Program Tree Events
// ═══════════════════════════════════════════════════════════════════════════

// LinkAttachedEvent is emitted when a child is attached somewhere in a tree.
type LinkAttachedEvent struct {
	BaseEvent
	ParentPath string `json:"parent_path"`
	ParentID   int64  `json:"parent_id"`
	ChildID    int64  `json:"child_id"`
	ChildCode  string `json:"child_code"`
	LinkType   string `json:"link_type"`
}

// Payload implements Event interface.
func (e LinkAttachedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"parent_path": e.ParentPath,
		"parent_id":   e.ParentID,
		"child_id":    e.ChildID,
		"child_code":  e.ChildCode,
		"link_type":   e.LinkType,
	}
}

// NewLinkAttachedEvent creates a new LinkAttachedEvent.
func NewLinkAttachedEvent(treeID, parentPath string, parentID, childID int64, childCode, linkType string) LinkAttachedEvent {
	return LinkAttachedEvent{
		BaseEvent:  NewBaseEvent(EventLinkAttached, treeID),
		ParentPath: parentPath,
		ParentID:   parentID,
		ChildID:    childID,
		ChildCode:  childCode,
		LinkType:   linkType,
	}
}

// LinkDetachedEvent is emitted when a link is removed from a tree.
type LinkDetachedEvent struct {
	BaseEvent
	Path     string `json:"path"`
	ParentID int64  `json:"parent_id"`
	ChildID  int64  `json:"child_id"`
}

// Payload implements Event interface.
func (e LinkDetachedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"path":      e.Path,
		"parent_id": e.ParentID,
		"child_id":  e.ChildID,
	}
}

// NewLinkDetachedEvent creates a new LinkDetachedEvent.
func NewLinkDetachedEvent(treeID, path string, parentID, childID int64) LinkDetachedEvent {
	return LinkDetachedEvent{
		BaseEvent: NewBaseEvent(EventLinkDetached, treeID),
		Path:      path,
		ParentID:  parentID,
		ChildID:   childID,
	}
}

// LinkMovedEvent is emitted when a link is moved between two parents.
type LinkMovedEvent struct {
	BaseEvent
	FromPath string `json:"from_path"`
	ToPath   string `json:"to_path"`
	ChildID  int64  `json:"child_id"`
}

// Payload implements Event interface.
func (e LinkMovedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"from_path": e.FromPath,
		"to_path":   e.ToPath,
		"child_id":  e.ChildID,
	}
}

// NewLinkMovedEvent creates a new LinkMovedEvent.
func NewLinkMovedEvent(treeID, fromPath, toPath string, childID int64) LinkMovedEvent {
	return LinkMovedEvent{
		BaseEvent: NewBaseEvent(EventLinkMoved, treeID),
		FromPath:  fromPath,
		ToPath:    toPath,
		ChildID:   childID,
	}
}

// LinkUpdatedEvent is emitted when the attributes of a link change.
type LinkUpdatedEvent struct {
	BaseEvent
	Path    string `json:"path"`
	ChildID int64  `json:"child_id"`
}

// Payload implements Event interface.
func (e LinkUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"path":     e.Path,
		"child_id": e.ChildID,
	}
}

// NewLinkUpdatedEvent creates a new LinkUpdatedEvent.
func NewLinkUpdatedEvent(treeID, path string, childID int64) LinkUpdatedEvent {
	return LinkUpdatedEvent{
		BaseEvent: NewBaseEvent(EventLinkUpdated, treeID),
		Path:      path,
		ChildID:   childID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Prerequisite Events
// ═══════════════════════════════════════════════════════════════════════════

// PrerequisiteUpdatedEvent is emitted when the prerequisite of a leaf changes.
type PrerequisiteUpdatedEvent struct {
	BaseEvent
	LearningUnitCode string `json:"learning_unit_code"`
	LearningUnitYear int    `json:"learning_unit_year"`
	Expression       string `json:"expression"`
}

// Payload implements Event interface.
func (e PrerequisiteUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learning_unit_code": e.LearningUnitCode,
		"learning_unit_year": e.LearningUnitYear,
		"expression":         e.Expression,
	}
}

// NewPrerequisiteUpdatedEvent creates a new PrerequisiteUpdatedEvent.
func NewPrerequisiteUpdatedEvent(treeID, code string, year int, expression string) PrerequisiteUpdatedEvent {
	return PrerequisiteUpdatedEvent{
		BaseEvent:        NewBaseEvent(EventPrerequisiteUpdated, treeID),
		LearningUnitCode: code,
		LearningUnitYear: year,
		Expression:       expression,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Tree Version Events
// ═══════════════════════════════════════════════════════════════════════════

// TreeVersionCreatedEvent is emitted when a version is created.
type TreeVersionCreatedEvent struct {
	BaseEvent
	OfferAcronym string `json:"offer_acronym"`
	Year         int    `json:"year"`
	VersionName  string `json:"version_name"`
	IsTransition bool   `json:"is_transition"`
}

// Payload implements Event interface.
func (e TreeVersionCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"offer_acronym": e.OfferAcronym,
		"year":          e.Year,
		"version_name":  e.VersionName,
		"is_transition": e.IsTransition,
	}
}

// NewTreeVersionCreatedEvent creates a new TreeVersionCreatedEvent.
func NewTreeVersionCreatedEvent(acronym string, year int, versionName string, transition bool) TreeVersionCreatedEvent {
	return TreeVersionCreatedEvent{
		BaseEvent:    NewBaseEvent(EventTreeVersionCreated, TreeAggregateID(acronym, year)),
		OfferAcronym: acronym,
		Year:         year,
		VersionName:  versionName,
		IsTransition: transition,
	}
}

// TreeVersionPostponedEvent is emitted once per postponement run.
type TreeVersionPostponedEvent struct {
	BaseEvent
	OfferAcronym string `json:"offer_acronym"`
	FromYear     int    `json:"from_year"`
	CreatedYears []int  `json:"created_years"`
}

// Payload implements Event interface.
func (e TreeVersionPostponedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"offer_acronym": e.OfferAcronym,
		"from_year":     e.FromYear,
		"created_years": e.CreatedYears,
	}
}

// NewTreeVersionPostponedEvent creates a new TreeVersionPostponedEvent.
func NewTreeVersionPostponedEvent(acronym string, fromYear int, createdYears []int) TreeVersionPostponedEvent {
	return TreeVersionPostponedEvent{
		BaseEvent:    NewBaseEvent(EventTreeVersionPostponed, TreeAggregateID(acronym, fromYear)),
		OfferAcronym: acronym,
		FromYear:     fromYear,
		CreatedYears: createdYears,
	}
}

// TreeVersionDeletedEvent is emitted when a version is deleted.
type TreeVersionDeletedEvent struct {
	BaseEvent
	OfferAcronym string `json:"offer_acronym"`
	Year         int    `json:"year"`
	VersionName  string `json:"version_name"`
	RootNodeID   int64  `json:"root_node_id"`
}

// Payload implements Event interface.
func (e TreeVersionDeletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"offer_acronym": e.OfferAcronym,
		"year":          e.Year,
		"version_name":  e.VersionName,
		"root_node_id":  e.RootNodeID,
	}
}

// NewTreeVersionDeletedEvent creates a new TreeVersionDeletedEvent.
func NewTreeVersionDeletedEvent(acronym string, year int, versionName string, rootNodeID int64) TreeVersionDeletedEvent {
	return TreeVersionDeletedEvent{
		BaseEvent:    NewBaseEvent(EventTreeVersionDeleted, TreeAggregateID(acronym, year)),
		OfferAcronym: acronym,
		Year:         year,
		VersionName:  versionName,
		RootNodeID:   rootNodeID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEventEnvelope serializes the payload of an event into an envelope.
func NewEventEnvelope(event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal event payload: %w", err)
	}
	return EventEnvelope{
		ID:          event.EventID(),
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}, nil
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
