package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo-backend/internal/domain"
)

func TestFormatForPrompt(t *testing.T) {
	t.Run("groups in priority order", func(t *testing.T) {
		nodes := []*domain.KnowledgeNode{
			{Content: "likes rust", Classifications: []string{"preference"}, Importance: 0.5},
			{Content: "chose postgres", Classifications: []string{"decision"}, Importance: 0.5},
			{Content: "latency spikes at noon", Classifications: []string{"insight"}, Importance: 0.5},
		}

		out := FormatForPrompt(nodes)
		insightIdx := strings.Index(out, "## Insight")
		decisionIdx := strings.Index(out, "## Decision")
		preferenceIdx := strings.Index(out, "## Preference")
		require.GreaterOrEqual(t, insightIdx, 0)
		assert.Less(t, insightIdx, decisionIdx)
		assert.Less(t, decisionIdx, preferenceIdx)
	})

	t.Run("importance descending within a group", func(t *testing.T) {
		nodes := []*domain.KnowledgeNode{
			{Content: "minor fact", Classifications: []string{"fact"}, Importance: 0.2},
			{Content: "major fact", Classifications: []string{"fact"}, Importance: 0.9},
		}

		out := FormatForPrompt(nodes)
		assert.Less(t, strings.Index(out, "major fact"), strings.Index(out, "minor fact"))
	})

	t.Run("pinned items carry the marker", func(t *testing.T) {
		nodes := []*domain.KnowledgeNode{
			{Content: "always reply in french", Classifications: []string{"preference"}, IsPinned: true},
		}
		out := FormatForPrompt(nodes)
		assert.Contains(t, out, "- "+PinnedMarker+" always reply in french")
	})

	t.Run("unknown classification collapses into other", func(t *testing.T) {
		nodes := []*domain.KnowledgeNode{
			{Content: "weird item", Classifications: []string{"banana"}},
		}
		out := FormatForPrompt(nodes)
		assert.Contains(t, out, "## Other")
		assert.Contains(t, out, "weird item")
	})

	t.Run("empty input yields empty string", func(t *testing.T) {
		assert.Equal(t, "", FormatForPrompt(nil))
	})
}
