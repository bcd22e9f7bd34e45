package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo-backend/internal/domain"
	"mnemo-backend/internal/repository"
)

func TestSaveAttentionEventAssignsSequence(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	var seqs []int64
	for i := 0; i < 3; i++ {
		ev := &domain.AttentionEvent{
			ID: "attn", Kind: domain.AttentionPinned, TargetEventID: "ev-1",
			Actor: domain.Actor{Kind: domain.ActorUser}, CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, store.SaveAttentionEvent(ctx, ev))
		seqs = append(seqs, ev.Seq)
	}

	assert.Less(t, seqs[0], seqs[1])
	assert.Less(t, seqs[1], seqs[2])

	events, err := store.ListAttentionEvents(ctx, "ev-1")
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestUpsertProjectionPreservesConnections(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	node := &domain.KnowledgeNode{
		EventID: "ev-1", Content: "content", Scope: "s",
		IsActive: true, Importance: 0.5, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.UpsertProjection(ctx, node))
	require.NoError(t, store.UpdateConnections(ctx, "ev-1", []string{"ev-2"}))

	// A re-fold carries no connections; the stored list must survive.
	require.NoError(t, store.UpsertProjection(ctx, &domain.KnowledgeNode{
		EventID: "ev-1", Content: "content", Scope: "s",
		IsActive: true, IsPinned: true, Importance: 0.5, CreatedAt: node.CreatedAt,
	}))

	stored, err := store.FindNode(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, stored.IsPinned)
	assert.Equal(t, []string{"ev-2"}, stored.ConnectedTo)
}

func TestVectorSearch(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	seed := func(id string, vec []float32, active bool, importance float64) {
		require.NoError(t, store.SaveSourceEvent(ctx, &domain.SourceEvent{
			ID: id, Kind: domain.EventKindMessage, Content: id, Scope: "s",
			Actor: domain.Actor{Kind: domain.ActorUser}, Embedding: vec,
			CreatedAt: time.Now().UTC(),
		}))
		require.NoError(t, store.UpsertProjection(ctx, &domain.KnowledgeNode{
			EventID: id, Content: id, Scope: "s",
			IsActive: active, Importance: importance, CreatedAt: time.Now().UTC(),
		}))
	}
	seed("close", []float32{1, 0}, true, 0.5)
	seed("far", []float32{0, 1}, true, 0.5)
	seed("quiet", []float32{1, 0}, false, 0.5)
	seed("trivial", []float32{1, 0}, true, 0.1)

	t.Run("ranks by similarity", func(t *testing.T) {
		scored, err := store.VectorSearch(ctx, "s", []float32{1, 0}, repository.NodeFilter{})
		require.NoError(t, err)
		require.NotEmpty(t, scored)
		assert.InDelta(t, 1.0, scored[0].Similarity, 1e-6)
		assert.Greater(t, scored[0].Similarity, scored[len(scored)-1].Similarity)
	})

	t.Run("excludes quiet nodes by default", func(t *testing.T) {
		scored, err := store.VectorSearch(ctx, "s", []float32{1, 0}, repository.NodeFilter{})
		require.NoError(t, err)
		for _, row := range scored {
			assert.NotEqual(t, "quiet", row.Node.EventID)
		}
	})

	t.Run("includes quiet nodes on request", func(t *testing.T) {
		scored, err := store.VectorSearch(ctx, "s", []float32{1, 0}, repository.NodeFilter{IncludeQuiet: true})
		require.NoError(t, err)
		ids := map[string]bool{}
		for _, row := range scored {
			ids[row.Node.EventID] = true
		}
		assert.True(t, ids["quiet"])
	})

	t.Run("minimum importance filter", func(t *testing.T) {
		scored, err := store.VectorSearch(ctx, "s", []float32{1, 0}, repository.NodeFilter{MinImportance: 0.3})
		require.NoError(t, err)
		for _, row := range scored {
			assert.NotEqual(t, "trivial", row.Node.EventID)
		}
	})

	t.Run("limit truncates the ranked list", func(t *testing.T) {
		scored, err := store.VectorSearch(ctx, "s", []float32{1, 0}, repository.NodeFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, scored, 1)
		assert.Equal(t, "close", scored[0].Node.EventID)
	})
}

func TestSubstringSearch(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertProjection(ctx, &domain.KnowledgeNode{
		EventID: "ev-1", Content: "Deploy Pipeline broke", Scope: "s",
		IsActive: true, Importance: 0.5, CreatedAt: time.Now().UTC(),
	}))

	got, err := store.SubstringSearch(ctx, "s", "pipeline", false, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = store.SubstringSearch(ctx, "s", "pipeline", true, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = store.SubstringSearch(ctx, "other-scope", "pipeline", false, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindNodesByEntitiesOldestFirst(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"newest", "middle", "oldest"} {
		require.NoError(t, store.UpsertProjection(ctx, &domain.KnowledgeNode{
			EventID: id, Content: id, Scope: "s", Entities: []string{"redis"},
			IsActive: true, Importance: 0.5,
			CreatedAt: base.Add(-time.Duration(i) * time.Hour),
		}))
	}

	got, err := store.FindNodesByEntities(ctx, "s", []string{"redis"}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "oldest", got[0].EventID)
	assert.Equal(t, "middle", got[1].EventID)
}

func TestSetError(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")
	store.SetError("SaveSourceEvent", boom)

	err := store.SaveSourceEvent(ctx, &domain.SourceEvent{ID: "x"})
	assert.ErrorIs(t, err, boom)

	store.ClearErrors()
	err = store.SaveSourceEvent(ctx, &domain.SourceEvent{
		ID: "x", Kind: domain.EventKindMessage, Content: "c", Scope: "s",
		Actor: domain.Actor{Kind: domain.ActorUser}, CreatedAt: time.Now().UTC(),
	})
	assert.NoError(t, err)
}
