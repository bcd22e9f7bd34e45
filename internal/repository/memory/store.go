// Package memory provides an in-memory KnowledgeStore used by unit tests and
// local development. Similarity is computed with plain cosine over the stored
// embeddings.
package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"mnemo-backend/internal/domain"
	"mnemo-backend/internal/repository"
	appErrors "mnemo-backend/pkg/errors"
)

// Store is a mutex-guarded map-backed KnowledgeStore.
type Store struct {
	mu sync.RWMutex

	sourceEvents        map[string]*domain.SourceEvent
	attentionEvents     map[string][]*domain.AttentionEvent // targetEventID -> events
	understandingEvents map[string]*domain.UnderstandingEvent
	nodes               map[string]*domain.KnowledgeNode // eventID -> projection
	nextSeq             int64

	// For testing error scenarios
	shouldFailOn map[string]error
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		sourceEvents:        make(map[string]*domain.SourceEvent),
		attentionEvents:     make(map[string][]*domain.AttentionEvent),
		understandingEvents: make(map[string]*domain.UnderstandingEvent),
		nodes:               make(map[string]*domain.KnowledgeNode),
		shouldFailOn:        make(map[string]error),
	}
}

// SetError configures the store to return an error for a specific method.
// Useful for testing degradation and isolation behavior in services.
func (s *Store) SetError(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shouldFailOn[method] = err
}

// ClearErrors removes all configured errors.
func (s *Store) ClearErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shouldFailOn = make(map[string]error)
}

func (s *Store) checkError(method string) error {
	if err, exists := s.shouldFailOn[method]; exists {
		return err
	}
	return nil
}

// SaveSourceEvent appends an immutable source event.
func (s *Store) SaveSourceEvent(_ context.Context, ev *domain.SourceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError("SaveSourceEvent"); err != nil {
		return err
	}
	if _, exists := s.sourceEvents[ev.ID]; exists {
		return appErrors.NewValidation("source event already exists: " + ev.ID)
	}
	copied := *ev
	s.sourceEvents[ev.ID] = &copied
	return nil
}

// SaveAttentionEvent appends an attention event and assigns its sequence number.
func (s *Store) SaveAttentionEvent(_ context.Context, ev *domain.AttentionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError("SaveAttentionEvent"); err != nil {
		return err
	}
	s.nextSeq++
	ev.Seq = s.nextSeq
	copied := *ev
	s.attentionEvents[ev.TargetEventID] = append(s.attentionEvents[ev.TargetEventID], &copied)
	return nil
}

// SaveUnderstandingEvent appends a derived annotation.
func (s *Store) SaveUnderstandingEvent(_ context.Context, ev *domain.UnderstandingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError("SaveUnderstandingEvent"); err != nil {
		return err
	}
	copied := *ev
	s.understandingEvents[ev.ID] = &copied
	return nil
}

// FindSourceEvent returns the stored source event, or nil.
func (s *Store) FindSourceEvent(_ context.Context, id string) (*domain.SourceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError("FindSourceEvent"); err != nil {
		return nil, err
	}
	ev, ok := s.sourceEvents[id]
	if !ok {
		return nil, nil
	}
	copied := *ev
	return &copied, nil
}

// ListAttentionEvents returns all attention events for a target.
func (s *Store) ListAttentionEvents(_ context.Context, targetEventID string) ([]*domain.AttentionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError("ListAttentionEvents"); err != nil {
		return nil, err
	}
	events := s.attentionEvents[targetEventID]
	out := make([]*domain.AttentionEvent, 0, len(events))
	for _, ev := range events {
		copied := *ev
		out = append(out, &copied)
	}
	return out, nil
}

// AttachEmbedding writes the embedding onto the event and its projection row.
func (s *Store) AttachEmbedding(_ context.Context, eventID string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError("AttachEmbedding"); err != nil {
		return err
	}
	ev, ok := s.sourceEvents[eventID]
	if !ok {
		return appErrors.NewNotFound("source event not found: " + eventID)
	}
	ev.Embedding = embedding
	return nil
}

// UpsertProjection stores the recomputed node for an event id, preserving any
// existing connection list when the incoming node carries none.
func (s *Store) UpsertProjection(_ context.Context, node *domain.KnowledgeNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError("UpsertProjection"); err != nil {
		return err
	}
	copied := *node
	if existing, ok := s.nodes[node.EventID]; ok && len(copied.ConnectedTo) == 0 {
		copied.ConnectedTo = existing.ConnectedTo
	}
	s.nodes[node.EventID] = &copied
	return nil
}

// FindNode returns the projection for an event id, or nil.
func (s *Store) FindNode(_ context.Context, eventID string) (*domain.KnowledgeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError("FindNode"); err != nil {
		return nil, err
	}
	node, ok := s.nodes[eventID]
	if !ok {
		return nil, nil
	}
	copied := *node
	return &copied, nil
}

// UpdateConnections replaces the connection list on a projection row.
func (s *Store) UpdateConnections(_ context.Context, eventID string, connectedTo []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError("UpdateConnections"); err != nil {
		return err
	}
	node, ok := s.nodes[eventID]
	if !ok {
		return appErrors.NewNotFound("node not found: " + eventID)
	}
	node.ConnectedTo = append([]string(nil), connectedTo...)
	return nil
}

// VectorSearch ranks in-scope projection rows by cosine similarity.
func (s *Store) VectorSearch(_ context.Context, scope string, query []float32, filter repository.NodeFilter) ([]repository.ScoredNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError("VectorSearch"); err != nil {
		return nil, err
	}

	scored := make([]repository.ScoredNode, 0)
	for id, node := range s.nodes {
		if !matchesFilter(node, scope, filter) {
			continue
		}
		ev, ok := s.sourceEvents[id]
		if !ok || len(ev.Embedding) == 0 {
			continue
		}
		copied := *node
		scored = append(scored, repository.ScoredNode{
			Node:       &copied,
			Similarity: cosine(query, ev.Embedding),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if filter.Limit > 0 && len(scored) > filter.Limit {
		scored = scored[:filter.Limit]
	}
	return scored, nil
}

// SubstringSearch returns in-scope rows whose content contains pattern.
func (s *Store) SubstringSearch(_ context.Context, scope, pattern string, caseSensitive bool, limit int) ([]*domain.KnowledgeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError("SubstringSearch"); err != nil {
		return nil, err
	}

	needle := pattern
	if !caseSensitive {
		needle = strings.ToLower(pattern)
	}

	out := make([]*domain.KnowledgeNode, 0)
	for _, node := range s.nodes {
		if node.Scope != scope {
			continue
		}
		haystack := node.Content
		if !caseSensitive {
			haystack = strings.ToLower(haystack)
		}
		if strings.Contains(haystack, needle) {
			copied := *node
			out = append(out, &copied)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// FindNodesByEntities returns active in-scope rows sharing at least one entity.
func (s *Store) FindNodesByEntities(_ context.Context, scope string, entities []string, limit int) ([]*domain.KnowledgeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError("FindNodesByEntities"); err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(entities))
	for _, e := range entities {
		wanted[e] = true
	}

	matched := make([]*domain.KnowledgeNode, 0)
	for _, node := range s.nodes {
		if node.Scope != scope || !node.IsActive {
			continue
		}
		for _, e := range node.Entities {
			if wanted[e] {
				copied := *node
				matched = append(matched, &copied)
				break
			}
		}
	}

	// Oldest first so linking order is stable across runs.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func matchesFilter(node *domain.KnowledgeNode, scope string, filter repository.NodeFilter) bool {
	if node.Scope != scope {
		return false
	}
	if !node.IsActive && !filter.IncludeQuiet {
		return false
	}
	if node.Importance < filter.MinImportance {
		return false
	}
	if len(filter.Classifications) > 0 {
		found := false
		for _, want := range filter.Classifications {
			for _, have := range node.Classifications {
				if want == have {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
