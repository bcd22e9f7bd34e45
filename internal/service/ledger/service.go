// Package ledger implements the knowledge event log and its projection: an
// append-only ledger of source, attention, and understanding events, folded
// into queryable KnowledgeNodes. History is never mutated; the projection is
// recomputed from it.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mnemo-backend/internal/domain"
	"mnemo-backend/internal/embedding"
	"mnemo-backend/internal/observability"
	"mnemo-backend/internal/repository"
	"mnemo-backend/internal/worker"
	appErrors "mnemo-backend/pkg/errors"
)

// Linker records graph connections for a freshly appended event. Implemented
// by the graph service; declared here so the ledger stays decoupled from it.
type Linker interface {
	LinkByEntities(ctx context.Context, newEventID string, entities []string, scope string) error
}

// Service is the append and projection API over the knowledge store.
//
// Appending a source event triggers two isolated, best-effort side effects on
// the background pool: embedding attachment, then entity linking. Their
// failure never fails the append.
type Service struct {
	store    repository.KnowledgeStore
	provider embedding.Provider
	linker   Linker
	pool     *worker.Pool
	logger   *zap.Logger
	metrics  *observability.Collector
}

// NewService creates the ledger service. linker may be nil to disable graph
// linking (e.g. in tooling that only replays history).
func NewService(
	store repository.KnowledgeStore,
	provider embedding.Provider,
	linker Linker,
	pool *worker.Pool,
	logger *zap.Logger,
	metrics *observability.Collector,
) *Service {
	return &Service{
		store:    store,
		provider: provider,
		linker:   linker,
		pool:     pool,
		logger:   logger,
		metrics:  metrics,
	}
}

// AppendSourceEvent appends an immutable source event and returns its id.
//
// The primary insert is the only fatal step: a store failure surfaces as a
// persistence error. Embedding and linking run afterwards on the worker pool
// and are absorbed on failure.
func (s *Service) AppendSourceEvent(
	ctx context.Context,
	kind domain.EventKind,
	content, scope string,
	metadata domain.Metadata,
	actor domain.Actor,
) (string, error) {
	ctx, span := observability.Tracer().Start(ctx, "ledger.AppendSourceEvent")
	defer span.End()

	ev := &domain.SourceEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		Content:   content,
		Scope:     scope,
		Metadata:  metadata,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	}
	if err := ev.Validate(); err != nil {
		return "", err
	}

	if err := s.store.SaveSourceEvent(ctx, ev); err != nil {
		return "", appErrors.NewPersistence("failed to append source event", err)
	}
	if s.metrics != nil {
		s.metrics.EventsAppended.WithLabelValues(string(ev.Kind)).Inc()
	}

	// The projection row makes the event queryable. The log is the source of
	// truth, so a failed upsert is absorbed; the next fold heals the row.
	if err := s.store.UpsertProjection(ctx, domain.ProjectNode(ev, nil)); err != nil {
		s.absorb("projection_upsert", ev.ID, err)
	}

	s.scheduleSideEffects(ev)

	return ev.ID, nil
}

// AppendAttentionEvent appends a curation instruction targeting an existing
// source event, then re-folds and stores its projection.
func (s *Service) AppendAttentionEvent(
	ctx context.Context,
	kind domain.AttentionKind,
	targetEventID, reason string,
	newImportance *float64,
	actor domain.Actor,
) error {
	ctx, span := observability.Tracer().Start(ctx, "ledger.AppendAttentionEvent")
	defer span.End()

	ev := &domain.AttentionEvent{
		ID:            uuid.New().String(),
		Kind:          kind,
		TargetEventID: targetEventID,
		Reason:        reason,
		NewImportance: newImportance,
		Actor:         actor,
		CreatedAt:     time.Now().UTC(),
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	target, err := s.store.FindSourceEvent(ctx, targetEventID)
	if err != nil {
		return appErrors.NewPersistence("failed to look up target event", err)
	}
	if target == nil {
		return appErrors.NewNotFound("target event not found: " + targetEventID)
	}

	if err := s.store.SaveAttentionEvent(ctx, ev); err != nil {
		return appErrors.NewPersistence("failed to append attention event", err)
	}
	if s.metrics != nil {
		s.metrics.EventsAppended.WithLabelValues(string(ev.Kind)).Inc()
	}

	node, err := s.Project(ctx, targetEventID)
	if err != nil {
		s.absorb("projection_refold", targetEventID, err)
		return nil
	}
	if err := s.store.UpsertProjection(ctx, node); err != nil {
		s.absorb("projection_upsert", targetEventID, err)
	}
	return nil
}

// AppendUnderstandingEvent appends a derived annotation referencing one or
// more source events. Annotations enrich; they never replace.
func (s *Service) AppendUnderstandingEvent(
	ctx context.Context,
	kind domain.UnderstandingKind,
	content string,
	sourceEventIDs []string,
	actor domain.Actor,
) (string, error) {
	ev := &domain.UnderstandingEvent{
		ID:             uuid.New().String(),
		Kind:           kind,
		Content:        content,
		SourceEventIDs: sourceEventIDs,
		Actor:          actor,
		CreatedAt:      time.Now().UTC(),
	}
	if err := ev.Validate(); err != nil {
		return "", err
	}
	if err := s.store.SaveUnderstandingEvent(ctx, ev); err != nil {
		return "", appErrors.NewPersistence("failed to append understanding event", err)
	}
	if s.metrics != nil {
		s.metrics.EventsAppended.WithLabelValues(string(ev.Kind)).Inc()
	}
	return ev.ID, nil
}

// Project computes the current KnowledgeNode for an event id by folding its
// attention history, merging in the stored connection list.
func (s *Service) Project(ctx context.Context, eventID string) (*domain.KnowledgeNode, error) {
	src, err := s.store.FindSourceEvent(ctx, eventID)
	if err != nil {
		return nil, appErrors.NewPersistence("failed to load source event", err)
	}
	if src == nil {
		return nil, appErrors.NewNotFound("source event not found: " + eventID)
	}

	attention, err := s.store.ListAttentionEvents(ctx, eventID)
	if err != nil {
		return nil, appErrors.NewPersistence("failed to load attention events", err)
	}

	node := domain.ProjectNode(src, attention)
	if s.metrics != nil {
		s.metrics.ProjectionFolds.Inc()
	}

	// Connections are recorded by the linker on the projection row, not in
	// the attention history; carry them over.
	stored, err := s.store.FindNode(ctx, eventID)
	if err == nil && stored != nil {
		node.ConnectedTo = stored.ConnectedTo
	}
	return node, nil
}

// Emit records one conversation turn as a source event, fire-and-forget. The
// caller gets no error: failures are logged and counted, and a full queue
// drops the emission rather than blocking the response path.
func (s *Service) Emit(conversationID, role, content, scope string) {
	actorKind := domain.ActorAssistant
	if role == "user" {
		actorKind = domain.ActorUser
	}

	submitted := s.pool.Submit(worker.Task{
		Name: "emit",
		Run: func(ctx context.Context) error {
			_, err := s.AppendSourceEvent(ctx, domain.EventKindMessage, content, scope,
				domain.Metadata{OriginSessionID: conversationID},
				domain.Actor{ID: role, Kind: actorKind},
			)
			return err
		},
	})
	if !submitted {
		s.logger.Warn("conversation emission dropped",
			zap.String("conversationId", conversationID),
			zap.String("scope", scope))
	}
}

// scheduleSideEffects queues embedding attachment and entity linking for a
// new source event. Linking runs after the embedding step; each failure is
// isolated and the steps stay individually retryable.
func (s *Service) scheduleSideEffects(ev *domain.SourceEvent) {
	if s.pool == nil {
		return
	}
	eventID := ev.ID
	content := ev.Content
	scope := ev.Scope
	entities := append([]string(nil), ev.Metadata.Entities...)

	s.pool.Submit(worker.Task{
		Name: "embed_and_link",
		Run: func(ctx context.Context) error {
			if s.provider != nil {
				if vec, err := s.provider.Embed(ctx, content); err != nil {
					s.absorb("embedding", eventID, err)
				} else if err := s.store.AttachEmbedding(ctx, eventID, vec); err != nil {
					s.absorb("embedding_attach", eventID, err)
				}
			}

			if s.linker != nil && len(entities) > 0 {
				if err := s.linker.LinkByEntities(ctx, eventID, entities, scope); err != nil {
					s.absorb("graph_link", eventID, err)
				}
			}
			return nil
		},
	})
}

func (s *Service) absorb(effect, eventID string, err error) {
	s.logger.Warn("side effect failed",
		zap.String("effect", effect),
		zap.String("eventId", eventID),
		zap.Error(err))
	if s.metrics != nil {
		s.metrics.SideEffectFailures.WithLabelValues(effect).Inc()
	}
}
