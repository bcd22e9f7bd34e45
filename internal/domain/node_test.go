package domain

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSourceEvent() *SourceEvent {
	return &SourceEvent{
		ID:      uuid.New().String(),
		Kind:    EventKindMessage,
		Content: "The deployment pipeline uses blue-green rollouts",
		Scope:   "user-1",
		Metadata: Metadata{
			Classifications: []string{"fact"},
			Entities:        []string{"pipeline"},
		},
		Actor:     Actor{ID: "user-1", Kind: ActorUser},
		CreatedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func attention(target string, kind AttentionKind, at time.Time, seq int64) *AttentionEvent {
	return &AttentionEvent{
		ID:            uuid.New().String(),
		Kind:          kind,
		TargetEventID: target,
		Actor:         Actor{ID: "user-1", Kind: ActorUser},
		CreatedAt:     at,
		Seq:           seq,
	}
}

func TestProjectNodeDefaults(t *testing.T) {
	src := testSourceEvent()

	node := ProjectNode(src, nil)

	assert.Equal(t, src.ID, node.EventID)
	assert.Equal(t, src.Content, node.Content)
	assert.True(t, node.IsActive)
	assert.False(t, node.IsPinned)
	assert.Equal(t, DefaultImportance, node.Importance)
	assert.Equal(t, src.CreatedAt, node.CreatedAt)
}

func TestProjectNodeLastWriteWinsPerFlag(t *testing.T) {
	src := testSourceEvent()
	base := src.CreatedAt

	events := []*AttentionEvent{
		attention(src.ID, AttentionPinned, base.Add(1*time.Minute), 1),
		attention(src.ID, AttentionUnpinned, base.Add(2*time.Minute), 2),
		attention(src.ID, AttentionPinned, base.Add(3*time.Minute), 3),
	}

	node := ProjectNode(src, events)
	assert.True(t, node.IsPinned)
}

func TestProjectNodeDeterministicUnderPermutation(t *testing.T) {
	src := testSourceEvent()
	base := src.CreatedAt
	importance := 0.9

	events := []*AttentionEvent{
		attention(src.ID, AttentionQuieted, base.Add(1*time.Minute), 1),
		attention(src.ID, AttentionActivated, base.Add(2*time.Minute), 2),
		attention(src.ID, AttentionPinned, base.Add(3*time.Minute), 3),
		{
			ID:            uuid.New().String(),
			Kind:          AttentionImportanceChanged,
			TargetEventID: src.ID,
			NewImportance: &importance,
			CreatedAt:     base.Add(4 * time.Minute),
			Seq:           4,
		},
		attention(src.ID, AttentionUnpinned, base.Add(5*time.Minute), 5),
	}

	reference := ProjectNode(src, events)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]*AttentionEvent, len(events))
		copy(shuffled, events)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		node := ProjectNode(src, shuffled)
		assert.Equal(t, reference, node, "permutation %d diverged", i)
	}
}

func TestProjectNodeSeqBreaksTimestampTies(t *testing.T) {
	src := testSourceEvent()
	at := src.CreatedAt.Add(time.Minute)

	// Identical timestamps: the later append (higher seq) wins.
	events := []*AttentionEvent{
		attention(src.ID, AttentionQuieted, at, 2),
		attention(src.ID, AttentionActivated, at, 1),
	}

	node := ProjectNode(src, events)
	assert.False(t, node.IsActive)
}

func TestProjectNodeIgnoresOtherTargets(t *testing.T) {
	src := testSourceEvent()
	other := attention(uuid.New().String(), AttentionQuieted, src.CreatedAt.Add(time.Minute), 1)

	node := ProjectNode(src, []*AttentionEvent{other})
	assert.True(t, node.IsActive)
}

func TestConnect(t *testing.T) {
	node := &KnowledgeNode{EventID: "a"}

	assert.True(t, node.Connect("b"))
	assert.False(t, node.Connect("b"))
	assert.True(t, node.Connect("c"))
	assert.Equal(t, []string{"b", "c"}, node.ConnectedTo)
}

func TestPrimaryClassification(t *testing.T) {
	node := &KnowledgeNode{Classifications: []string{"decision", "fact"}}
	assert.Equal(t, "decision", node.PrimaryClassification())

	empty := &KnowledgeNode{}
	assert.Equal(t, "other", empty.PrimaryClassification())
}

func TestSourceEventValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		require.NoError(t, testSourceEvent().Validate())
	})

	t.Run("EmptyContent", func(t *testing.T) {
		ev := testSourceEvent()
		ev.Content = ""
		require.Error(t, ev.Validate())
	})

	t.Run("EmptyScope", func(t *testing.T) {
		ev := testSourceEvent()
		ev.Scope = ""
		require.Error(t, ev.Validate())
	})

	t.Run("UnknownKind", func(t *testing.T) {
		ev := testSourceEvent()
		ev.Kind = "telepathy"
		require.Error(t, ev.Validate())
	})
}

func TestAttentionEventValidate(t *testing.T) {
	t.Run("ImportanceRequiresValue", func(t *testing.T) {
		ev := attention("target", AttentionImportanceChanged, time.Now(), 1)
		require.Error(t, ev.Validate())
	})

	t.Run("ImportanceOutOfRange", func(t *testing.T) {
		v := 1.5
		ev := attention("target", AttentionImportanceChanged, time.Now(), 1)
		ev.NewImportance = &v
		require.Error(t, ev.Validate())
	})

	t.Run("MissingTarget", func(t *testing.T) {
		ev := attention("", AttentionPinned, time.Now(), 1)
		require.Error(t, ev.Validate())
	})
}

func TestUnderstandingEventValidate(t *testing.T) {
	ev := &UnderstandingEvent{
		ID:             uuid.New().String(),
		Kind:           UnderstandingSummary,
		Content:        "summary of two events",
		SourceEventIDs: []string{"a", "b"},
	}
	require.NoError(t, ev.Validate())

	ev.SourceEventIDs = nil
	require.Error(t, ev.Validate())
}
