package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mnemo-backend/internal/domain"
	"mnemo-backend/internal/embedding"
	memstore "mnemo-backend/internal/repository/memory"
)

// seedScored stores a source event plus projection whose cosine similarity
// against the query vector (1, 0) is exactly sim.
func seedScored(t *testing.T, store *memstore.Store, id string, sim float64) {
	t.Helper()
	vec := []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
	require.NoError(t, store.SaveSourceEvent(context.Background(), &domain.SourceEvent{
		ID: id, Kind: domain.EventKindMessage,
		Content: "content of " + id, Scope: "team:core",
		Actor: domain.Actor{Kind: domain.ActorUser}, Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.UpsertProjection(context.Background(), &domain.KnowledgeNode{
		EventID: id, Content: "content of " + id, Scope: "team:core",
		IsActive: true, Importance: domain.DefaultImportance,
		CreatedAt: time.Now().UTC(),
	}))
}

func newSearchFixture(t *testing.T) (*Engine, *memstore.Store, *embedding.StaticProvider) {
	t.Helper()
	store := memstore.NewStore()
	provider := embedding.NewStaticProvider(2)
	provider.Register("the query", []float32{1, 0})
	engine := NewEngine(store, provider, zap.NewNop(), nil)

	seedScored(t, store, "hit-090", 0.90)
	seedScored(t, store, "hit-075", 0.75)
	seedScored(t, store, "hit-065", 0.65)
	seedScored(t, store, "hit-050", 0.50)
	return engine, store, provider
}

func TestSearchThreshold(t *testing.T) {
	engine, _, _ := newSearchFixture(t)
	ctx := context.Background()

	cases := []struct {
		threshold float64
		want      int
	}{
		{0.0, 4},
		{0.6, 3},
		{0.7, 2},
		{0.8, 1},
		{0.95, 0},
	}
	prev := len(engine.Search(ctx, "team:core", "the query", SearchOptions{}.WithThreshold(0)))
	for _, tc := range cases {
		t.Run(fmt.Sprintf("threshold=%.2f", tc.threshold), func(t *testing.T) {
			got := engine.Search(ctx, "team:core", "the query",
				SearchOptions{}.WithThreshold(tc.threshold))
			assert.Len(t, got, tc.want)
			// Raising the threshold can only shrink the result set.
			assert.LessOrEqual(t, len(got), prev)
			prev = len(got)
		})
	}
}

func TestSearchRankingAndLimit(t *testing.T) {
	engine, _, _ := newSearchFixture(t)

	got := engine.Search(context.Background(), "team:core", "the query",
		SearchOptions{Limit: 2}.WithThreshold(0.6))
	require.Len(t, got, 2)
	assert.Equal(t, "hit-090", got[0].EventID)
	assert.Equal(t, "hit-075", got[1].EventID)
}

func TestSearchDegradesToEmpty(t *testing.T) {
	t.Run("embedding provider failure", func(t *testing.T) {
		engine, _, provider := newSearchFixture(t)
		provider.SetError(errors.New("provider down"))
		got := engine.Search(context.Background(), "team:core", "the query", DefaultSearchOptions())
		assert.Empty(t, got)
	})

	t.Run("store failure", func(t *testing.T) {
		engine, store, _ := newSearchFixture(t)
		store.SetError("VectorSearch", errors.New("table offline"))
		got := engine.Search(context.Background(), "team:core", "the query", DefaultSearchOptions())
		assert.Empty(t, got)
	})

	t.Run("empty query", func(t *testing.T) {
		engine, _, _ := newSearchFixture(t)
		got := engine.Search(context.Background(), "team:core", "", DefaultSearchOptions())
		assert.Empty(t, got)
	})
}

func seedGrep(t *testing.T, store *memstore.Store, id, content string, importance float64, createdAt time.Time) {
	t.Helper()
	require.NoError(t, store.UpsertProjection(context.Background(), &domain.KnowledgeNode{
		EventID: id, Content: content, Scope: "team:core",
		IsActive: true, Importance: importance, CreatedAt: createdAt,
	}))
}

func TestGrep(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("orders by importance then recency", func(t *testing.T) {
		store := memstore.NewStore()
		engine := NewEngine(store, embedding.NewStaticProvider(2), zap.NewNop(), nil)
		seedGrep(t, store, "low-old", "deploy notes alpha", 0.3, base)
		seedGrep(t, store, "high", "deploy notes beta", 0.9, base)
		seedGrep(t, store, "low-new", "deploy notes gamma", 0.3, base.Add(time.Hour))

		got := engine.Grep(context.Background(), "team:core", "deploy", GrepOptions{})
		require.Len(t, got, 3)
		assert.Equal(t, "high", got[0].Node.EventID)
		assert.Equal(t, "low-new", got[1].Node.EventID)
		assert.Equal(t, "low-old", got[2].Node.EventID)
	})

	t.Run("highlight window surrounds the first match", func(t *testing.T) {
		store := memstore.NewStore()
		engine := NewEngine(store, embedding.NewStaticProvider(2), zap.NewNop(), nil)
		content := strings.Repeat("x", 200) + "NEEDLE" + strings.Repeat("y", 200)
		seedGrep(t, store, "long", content, 0.5, base)

		got := engine.Grep(context.Background(), "team:core", "needle", GrepOptions{})
		require.Len(t, got, 1)
		assert.Equal(t, 200, got[0].Offset)
		assert.Len(t, got[0].Highlight, HighlightRadius+len("NEEDLE")+HighlightRadius)
		assert.Contains(t, got[0].Highlight, "NEEDLE")
	})

	t.Run("case sensitivity", func(t *testing.T) {
		store := memstore.NewStore()
		engine := NewEngine(store, embedding.NewStaticProvider(2), zap.NewNop(), nil)
		seedGrep(t, store, "upper", "Contains MixedCase token", 0.5, base)

		insensitive := engine.Grep(context.Background(), "team:core", "mixedcase", GrepOptions{})
		assert.Len(t, insensitive, 1)

		sensitive := engine.Grep(context.Background(), "team:core", "mixedcase", GrepOptions{CaseSensitive: true})
		assert.Empty(t, sensitive)
	})

	t.Run("store failure degrades to empty", func(t *testing.T) {
		store := memstore.NewStore()
		engine := NewEngine(store, embedding.NewStaticProvider(2), zap.NewNop(), nil)
		store.SetError("SubstringSearch", errors.New("offline"))
		got := engine.Grep(context.Background(), "team:core", "anything", GrepOptions{})
		assert.Empty(t, got)
	})
}
