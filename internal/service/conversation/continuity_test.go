package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mnemo-backend/internal/domain"
	"mnemo-backend/internal/embedding"
	memstore "mnemo-backend/internal/repository/memory"
	"mnemo-backend/internal/service/retrieval"
)

const continuityQuery = "remember when we discussed the billing migration last week"

func newContinuityFixture(t *testing.T) (*ContinuityRetriever, *memstore.Store, *embedding.StaticProvider) {
	t.Helper()
	store := memstore.NewStore()
	provider := embedding.NewStaticProvider(2)
	provider.Register(continuityQuery, []float32{1, 0})

	engine := retrieval.NewEngine(store, provider, zap.NewNop(), nil)
	return NewContinuityRetriever(engine, zap.NewNop()), store, provider
}

func seedPriorSession(t *testing.T, store *memstore.Store, id, content string, vec []float32) {
	t.Helper()
	require.NoError(t, store.SaveSourceEvent(context.Background(), &domain.SourceEvent{
		ID: id, Kind: domain.EventKindMessage, Content: content, Scope: "user:alice",
		Actor: domain.Actor{Kind: domain.ActorUser}, Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.UpsertProjection(context.Background(), &domain.KnowledgeNode{
		EventID: id, Content: content, Scope: "user:alice",
		IsActive: true, Importance: domain.DefaultImportance,
		CreatedAt: time.Now().UTC(),
	}))
}

func TestContinuityRetrieve(t *testing.T) {
	dropped := []domain.ConversationMessage{
		{Role: "user", Content: "the billing migration needs a cutover plan"},
		{Role: "assistant", Content: "lunch at noon tomorrow"},
	}

	t.Run("cross-session signal reaches prior conversations", func(t *testing.T) {
		r, store, _ := newContinuityFixture(t)
		seedPriorSession(t, store, "prior", "we agreed to migrate billing in Q2", []float32{0.8, 0.6})

		out := r.Retrieve(context.Background(),
			DetectSignals(continuityQuery), continuityQuery, nil, "user:alice")
		assert.Contains(t, out, "[from previous conversations]")
		assert.Contains(t, out, "we agreed to migrate billing in Q2")
	})

	t.Run("local signal recovers dropped messages by keyword overlap", func(t *testing.T) {
		r, _, _ := newContinuityFixture(t)

		out := r.Retrieve(context.Background(),
			[]Signal{{Kind: SignalImplicit, Trigger: "we talked about", Confidence: 0.7}},
			continuityQuery, dropped, "user:alice")
		assert.Contains(t, out, "[earlier in this conversation]")
		assert.Contains(t, out, "cutover plan")
		assert.NotContains(t, out, "lunch at noon")
	})

	t.Run("both paths combine", func(t *testing.T) {
		r, store, _ := newContinuityFixture(t)
		seedPriorSession(t, store, "prior", "we agreed to migrate billing in Q2", []float32{0.8, 0.6})

		signals := append(DetectSignals(continuityQuery),
			Signal{Kind: SignalImplicit, Trigger: "we talked about", Confidence: 0.7})
		out := r.Retrieve(context.Background(), signals, continuityQuery, dropped, "user:alice")
		assert.Contains(t, out, "[earlier in this conversation]")
		assert.Contains(t, out, "[from previous conversations]")
	})

	t.Run("no signals yields empty", func(t *testing.T) {
		r, _, _ := newContinuityFixture(t)
		out := r.Retrieve(context.Background(), nil, continuityQuery, dropped, "user:alice")
		assert.Equal(t, "", out)
	})

	t.Run("retrieval failure degrades to empty without error", func(t *testing.T) {
		r, store, _ := newContinuityFixture(t)
		store.SetError("VectorSearch", errors.New("store offline"))

		out := r.Retrieve(context.Background(),
			DetectSignals(continuityQuery), continuityQuery, nil, "user:alice")
		assert.Equal(t, "", out)
	})

	t.Run("weak overlap is not recovered", func(t *testing.T) {
		r, _, _ := newContinuityFixture(t)
		irrelevant := []domain.ConversationMessage{
			{Role: "user", Content: "completely unrelated chatter about weather"},
		}
		out := r.Retrieve(context.Background(),
			[]Signal{{Kind: SignalTemporal, Trigger: "yesterday", Confidence: 0.7}},
			continuityQuery, irrelevant, "user:alice")
		assert.Equal(t, "", out)
	})
}
