// Package domain holds the event-sourced model of the memory core: immutable
// source events, attention overlays, understanding annotations, and the
// KnowledgeNode projection computed from them.
package domain

import (
	"time"

	appErrors "mnemo-backend/pkg/errors"
)

// EventKind identifies how a source event entered the system.
type EventKind string

const (
	EventKindMessage         EventKind = "message"
	EventKindDocument        EventKind = "document"
	EventKindExternalMessage EventKind = "external_message"
	EventKindExternalUpdate  EventKind = "external_update"
	EventKindExplicit        EventKind = "explicit"
)

// ValidEventKind reports whether k is a known source event kind.
func ValidEventKind(k EventKind) bool {
	switch k {
	case EventKindMessage, EventKindDocument, EventKindExternalMessage,
		EventKindExternalUpdate, EventKindExplicit:
		return true
	}
	return false
}

// AttentionKind identifies a curation instruction targeting a source event.
type AttentionKind string

const (
	AttentionQuieted           AttentionKind = "quieted"
	AttentionActivated         AttentionKind = "activated"
	AttentionPinned            AttentionKind = "pinned"
	AttentionUnpinned          AttentionKind = "unpinned"
	AttentionImportanceChanged AttentionKind = "importance_changed"
)

// ValidAttentionKind reports whether k is a known attention event kind.
func ValidAttentionKind(k AttentionKind) bool {
	switch k {
	case AttentionQuieted, AttentionActivated, AttentionPinned,
		AttentionUnpinned, AttentionImportanceChanged:
		return true
	}
	return false
}

// ActorKind identifies who produced an event.
type ActorKind string

const (
	ActorUser      ActorKind = "user"
	ActorAssistant ActorKind = "assistant"
	ActorSystem    ActorKind = "system"
	ActorPipeline  ActorKind = "pipeline"
)

// Actor is the producer of an event.
type Actor struct {
	ID   string    `json:"id"`
	Kind ActorKind `json:"kind"`
}

// Metadata carries the opaque annotations attached upstream by the extractor.
// The memory core never generates these; it only stores and filters on them.
type Metadata struct {
	Classifications []string `json:"classifications,omitempty"`
	Entities        []string `json:"entities,omitempty"`
	Topics          []string `json:"topics,omitempty"`
	OriginSessionID string   `json:"originSessionId,omitempty"`
}

// SourceEvent is an immutable fact: verbatim content entering the knowledge
// system. It is created once and never mutated or deleted. The embedding is
// attached asynchronously after creation and is the only field written later.
type SourceEvent struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"eventKind"`
	Content   string    `json:"content"`
	Scope     string    `json:"scope"`
	Metadata  Metadata  `json:"metadata"`
	Embedding []float32 `json:"embedding,omitempty"`
	Actor     Actor     `json:"actor"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks the invariants required before a source event may be
// appended to the log.
func (e *SourceEvent) Validate() error {
	if e.Content == "" {
		return appErrors.NewValidation("content cannot be empty")
	}
	if e.Scope == "" {
		return appErrors.NewValidation("scope cannot be empty")
	}
	if !ValidEventKind(e.Kind) {
		return appErrors.NewValidation("unknown event kind: " + string(e.Kind))
	}
	return nil
}

// AttentionEvent is an overlay instruction changing the visibility or
// importance of a source event without altering its content. Never mutated.
//
// Seq is assigned by the store at append time and is strictly monotonic per
// target. It breaks ties between attention events carrying identical
// timestamps, making the projection fold deterministic for any arrival order.
type AttentionEvent struct {
	ID            string        `json:"id"`
	Kind          AttentionKind `json:"eventKind"`
	TargetEventID string        `json:"targetEventId"`
	Reason        string        `json:"reason,omitempty"`
	NewImportance *float64      `json:"newImportance,omitempty"`
	Actor         Actor         `json:"actor"`
	CreatedAt     time.Time     `json:"createdAt"`
	Seq           int64         `json:"seq"`
}

// Validate checks the invariants required before an attention event may be
// appended to the log.
func (e *AttentionEvent) Validate() error {
	if e.TargetEventID == "" {
		return appErrors.NewValidation("targetEventId cannot be empty")
	}
	if !ValidAttentionKind(e.Kind) {
		return appErrors.NewValidation("unknown attention kind: " + string(e.Kind))
	}
	if e.Kind == AttentionImportanceChanged {
		if e.NewImportance == nil {
			return appErrors.NewValidation("importance_changed requires newImportance")
		}
		if *e.NewImportance < 0 || *e.NewImportance > 1 {
			return appErrors.NewValidation("newImportance must be within [0, 1]")
		}
	}
	return nil
}

// UnderstandingKind identifies a derived annotation type.
type UnderstandingKind string

const (
	UnderstandingSummary        UnderstandingKind = "summary"
	UnderstandingCrossReference UnderstandingKind = "cross_reference"
	UnderstandingSupersession   UnderstandingKind = "supersession"
)

// UnderstandingEvent is a derived annotation referencing one or more source
// events. It enriches the events it points to; it never replaces them.
type UnderstandingEvent struct {
	ID             string            `json:"id"`
	Kind           UnderstandingKind `json:"eventKind"`
	Content        string            `json:"content"`
	SourceEventIDs []string          `json:"sourceEventIds"`
	Actor          Actor             `json:"actor"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Validate checks the invariants required before an understanding event may
// be appended to the log.
func (e *UnderstandingEvent) Validate() error {
	if e.Content == "" {
		return appErrors.NewValidation("content cannot be empty")
	}
	if len(e.SourceEventIDs) == 0 {
		return appErrors.NewValidation("understanding event must reference at least one source event")
	}
	switch e.Kind {
	case UnderstandingSummary, UnderstandingCrossReference, UnderstandingSupersession:
	default:
		return appErrors.NewValidation("unknown understanding kind: " + string(e.Kind))
	}
	return nil
}

// ConversationMessage is one turn of dialogue, produced by the chat loop and
// consumed read-only by the window and continuity logic.
type ConversationMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}
