package graph

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mnemo-backend/internal/domain"
	memstore "mnemo-backend/internal/repository/memory"
)

func seedNode(t *testing.T, store *memstore.Store, id, scope string, entities []string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, store.UpsertProjection(context.Background(), &domain.KnowledgeNode{
		EventID:    id,
		Content:    "content of " + id,
		Scope:      scope,
		Entities:   entities,
		IsActive:   true,
		Importance: domain.DefaultImportance,
		CreatedAt:  createdAt,
	}))
}

func TestLinkByEntities(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("caps connections on the new node", func(t *testing.T) {
		store := memstore.NewStore()
		for i := 0; i < 8; i++ {
			seedNode(t, store, fmt.Sprintf("old-%d", i), "team:core",
				[]string{"kubernetes"}, base.Add(time.Duration(i)*time.Minute))
		}
		seedNode(t, store, "new", "team:core", []string{"kubernetes"}, base.Add(time.Hour))

		linker := NewLinker(store, zap.NewNop())
		require.NoError(t, linker.LinkByEntities(context.Background(), "new", []string{"kubernetes"}, "team:core"))

		node, err := store.FindNode(context.Background(), "new")
		require.NoError(t, err)
		assert.Len(t, node.ConnectedTo, MaxLinksPerNewNode)

		// Candidates come oldest first.
		assert.Equal(t, []string{"old-0", "old-1", "old-2", "old-3", "old-4"}, node.ConnectedTo)
	})

	t.Run("reverse links are unbounded", func(t *testing.T) {
		store := memstore.NewStore()
		seedNode(t, store, "hub", "team:core", []string{"redis"}, base)
		linker := NewLinker(store, zap.NewNop())

		for i := 0; i < 7; i++ {
			id := fmt.Sprintf("spoke-%d", i)
			seedNode(t, store, id, "team:core", []string{"redis"}, base.Add(time.Duration(i+1)*time.Minute))
			require.NoError(t, linker.LinkByEntities(context.Background(), id, []string{"redis"}, "team:core"))
		}

		hub, err := store.FindNode(context.Background(), "hub")
		require.NoError(t, err)
		assert.Len(t, hub.ConnectedTo, 7)
	})

	t.Run("excludes the new node from its own candidates", func(t *testing.T) {
		store := memstore.NewStore()
		seedNode(t, store, "solo", "team:core", []string{"grafana"}, base)

		linker := NewLinker(store, zap.NewNop())
		require.NoError(t, linker.LinkByEntities(context.Background(), "solo", []string{"grafana"}, "team:core"))

		node, err := store.FindNode(context.Background(), "solo")
		require.NoError(t, err)
		assert.Empty(t, node.ConnectedTo)
	})

	t.Run("no entities is a no-op", func(t *testing.T) {
		store := memstore.NewStore()
		linker := NewLinker(store, zap.NewNop())
		require.NoError(t, linker.LinkByEntities(context.Background(), "new", nil, "team:core"))
	})

	t.Run("ignores quieted and out-of-scope nodes", func(t *testing.T) {
		store := memstore.NewStore()
		seedNode(t, store, "other-scope", "team:infra", []string{"vault"}, base)
		require.NoError(t, store.UpsertProjection(context.Background(), &domain.KnowledgeNode{
			EventID: "quiet", Content: "quieted", Scope: "team:core",
			Entities: []string{"vault"}, IsActive: false,
			Importance: domain.DefaultImportance, CreatedAt: base,
		}))
		seedNode(t, store, "new", "team:core", []string{"vault"}, base.Add(time.Hour))

		linker := NewLinker(store, zap.NewNop())
		require.NoError(t, linker.LinkByEntities(context.Background(), "new", []string{"vault"}, "team:core"))

		node, err := store.FindNode(context.Background(), "new")
		require.NoError(t, err)
		assert.Empty(t, node.ConnectedTo)
	})
}
