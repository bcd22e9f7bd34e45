// Package graph links knowledge nodes that mention the same entities,
// forming the connection graph over the projection.
package graph

import (
	"context"

	"go.uber.org/zap"

	"mnemo-backend/internal/repository"
	appErrors "mnemo-backend/pkg/errors"
)

// MaxLinksPerNewNode caps the connections recorded on a freshly appended
// node. The cap is one-sided: reverse links onto existing nodes are always
// appended, so entity-rich nodes accumulate inbound connections without
// bound. That asymmetry is deliberate and kept as the documented policy.
const MaxLinksPerNewNode = 5

// Linker discovers and records entity-overlap connections.
type Linker struct {
	store  repository.KnowledgeStore
	logger *zap.Logger
}

// NewLinker creates a graph linker over the given store.
func NewLinker(store repository.KnowledgeStore, logger *zap.Logger) *Linker {
	return &Linker{store: store, logger: logger}
}

// LinkByEntities finds up to MaxLinksPerNewNode active nodes in scope whose
// entity sets intersect the new event's entities, records them on the new
// node, and appends the new event id to each found node's connection list.
//
// Invoked as an isolated side effect after a source event append; a failure
// here never affects the originating append.
func (l *Linker) LinkByEntities(ctx context.Context, newEventID string, entities []string, scope string) error {
	if len(entities) == 0 {
		return nil
	}

	// Over-fetch by one: the candidate set may contain the new node itself.
	candidates, err := l.store.FindNodesByEntities(ctx, scope, entities, MaxLinksPerNewNode+1)
	if err != nil {
		return appErrors.Wrap(err, "failed to find link candidates")
	}

	related := candidates[:0]
	for _, candidate := range candidates {
		if candidate.EventID == newEventID {
			continue
		}
		related = append(related, candidate)
		if len(related) == MaxLinksPerNewNode {
			break
		}
	}
	if len(related) == 0 {
		return nil
	}

	connectedTo := make([]string, 0, len(related))
	for _, candidate := range related {
		connectedTo = append(connectedTo, candidate.EventID)
	}
	if err := l.store.UpdateConnections(ctx, newEventID, connectedTo); err != nil {
		return appErrors.Wrap(err, "failed to record connections on new node")
	}

	for _, candidate := range related {
		if !candidate.Connect(newEventID) {
			continue
		}
		if err := l.store.UpdateConnections(ctx, candidate.EventID, candidate.ConnectedTo); err != nil {
			// Partial reverse links are tolerated; the remaining candidates
			// still get theirs.
			l.logger.Warn("failed to record reverse link",
				zap.String("eventId", candidate.EventID),
				zap.String("newEventId", newEventID),
				zap.Error(err))
		}
	}

	l.logger.Debug("linked node by entities",
		zap.String("eventId", newEventID),
		zap.Int("connections", len(connectedTo)))
	return nil
}
