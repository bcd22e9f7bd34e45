// Package repository defines the data access contract between the memory
// core and its backing stores.
//
// The core is store-agnostic: services depend only on KnowledgeStore, and
// each backing store (in-memory, DynamoDB, SQLite+sqlite-vec) provides one
// concrete adapter. This keeps the projection and retrieval logic testable
// against the in-memory fake.
package repository

import (
	"context"

	"mnemo-backend/internal/domain"
)

// NodeFilter narrows a projection query.
//
// Threshold filtering is deliberately absent: the retrieval service applies
// the similarity threshold itself so that raising it can only ever shrink a
// result set, independent of adapter behavior.
type NodeFilter struct {
	// Classifications, when non-empty, keeps only nodes whose classification
	// set intersects this list.
	Classifications []string
	// IncludeQuiet keeps nodes whose isActive flag is false.
	IncludeQuiet bool
	// MinImportance excludes nodes below this importance.
	MinImportance float64
	// Limit bounds the number of rows returned. Zero means adapter default.
	Limit int
}

// ScoredNode is a projection row with its similarity to the query vector.
type ScoredNode struct {
	Node       *domain.KnowledgeNode
	Similarity float64
}

// EventStore is the append-only side of the ledger.
type EventStore interface {
	// SaveSourceEvent appends an immutable source event.
	SaveSourceEvent(ctx context.Context, ev *domain.SourceEvent) error

	// SaveAttentionEvent appends an attention event, assigning its monotonic
	// sequence number. The event's Seq field is populated on return.
	SaveAttentionEvent(ctx context.Context, ev *domain.AttentionEvent) error

	// SaveUnderstandingEvent appends a derived annotation.
	SaveUnderstandingEvent(ctx context.Context, ev *domain.UnderstandingEvent) error

	// FindSourceEvent returns the source event with the given id, or nil.
	FindSourceEvent(ctx context.Context, id string) (*domain.SourceEvent, error)

	// ListAttentionEvents returns all attention events targeting the given
	// source event, in no particular order. The projection fold sorts.
	ListAttentionEvents(ctx context.Context, targetEventID string) ([]*domain.AttentionEvent, error)

	// AttachEmbedding writes the asynchronously computed embedding onto a
	// previously appended source event and its projection row.
	AttachEmbedding(ctx context.Context, eventID string, embedding []float32) error
}

// ProjectionStore holds the queryable KnowledgeNode rows derived from the
// event log.
type ProjectionStore interface {
	// UpsertProjection stores the recomputed node for an event id.
	UpsertProjection(ctx context.Context, node *domain.KnowledgeNode) error

	// FindNode returns the projection for an event id, or nil.
	FindNode(ctx context.Context, eventID string) (*domain.KnowledgeNode, error)

	// UpdateConnections replaces the connection list on a projection row.
	UpdateConnections(ctx context.Context, eventID string, connectedTo []string) error

	// VectorSearch returns projection rows in scope ranked by cosine
	// similarity to the query vector, filtered per NodeFilter.
	VectorSearch(ctx context.Context, scope string, query []float32, filter NodeFilter) ([]ScoredNode, error)

	// SubstringSearch returns projection rows in scope whose content
	// contains pattern. Ordering is left to the caller.
	SubstringSearch(ctx context.Context, scope, pattern string, caseSensitive bool, limit int) ([]*domain.KnowledgeNode, error)

	// FindNodesByEntities returns active projection rows in scope whose
	// entity set intersects entities, up to limit.
	FindNodesByEntities(ctx context.Context, scope string, entities []string, limit int) ([]*domain.KnowledgeNode, error)
}

// KnowledgeStore is the full persistence contract consumed by the services.
type KnowledgeStore interface {
	EventStore
	ProjectionStore
}
