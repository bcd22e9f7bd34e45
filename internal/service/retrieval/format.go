package retrieval

import (
	"sort"
	"strings"

	"mnemo-backend/internal/domain"
)

// classificationPriority is the fixed ordering of knowledge groups in prompt
// output. Classifications outside this list collapse into "other".
var classificationPriority = []string{
	"insight",
	"decision",
	"fact",
	"preference",
	"procedure",
	"entity",
	"other",
}

// PinnedMarker annotates pinned items in formatted output.
const PinnedMarker = "[pinned]"

// FormatForPrompt renders nodes as a prompt-ready text block: grouped by
// primary classification in fixed priority order, importance descending
// within each group, pinned items annotated. Empty input yields an empty
// string.
func FormatForPrompt(nodes []*domain.KnowledgeNode) string {
	if len(nodes) == 0 {
		return ""
	}

	known := make(map[string]bool, len(classificationPriority))
	for _, c := range classificationPriority {
		known[c] = true
	}

	groups := make(map[string][]*domain.KnowledgeNode)
	for _, node := range nodes {
		key := node.PrimaryClassification()
		if !known[key] {
			key = "other"
		}
		groups[key] = append(groups[key], node)
	}

	var b strings.Builder
	for _, classification := range classificationPriority {
		group := groups[classification]
		if len(group) == 0 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Importance > group[j].Importance
		})

		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## ")
		b.WriteString(strings.ToUpper(classification[:1]) + classification[1:])
		b.WriteString("\n")
		for _, node := range group {
			b.WriteString("- ")
			if node.IsPinned {
				b.WriteString(PinnedMarker)
				b.WriteString(" ")
			}
			b.WriteString(node.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}
