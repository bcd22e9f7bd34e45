package domain

import (
	"sort"
	"time"
)

// DefaultImportance is the importance assigned to a node that has never had
// an importance_changed attention event applied.
const DefaultImportance = 0.5

// KnowledgeNode is the computed, queryable view of one source event plus its
// attention overlay. It is a projection: derived state, never stored input.
type KnowledgeNode struct {
	EventID         string    `json:"eventId"`
	Content         string    `json:"content"`
	Scope           string    `json:"scope"`
	Classifications []string  `json:"classifications,omitempty"`
	Entities        []string  `json:"entities,omitempty"`
	Topics          []string  `json:"topics,omitempty"`
	IsActive        bool      `json:"isActive"`
	IsPinned        bool      `json:"isPinned"`
	Importance      float64   `json:"importance"`
	ConnectedTo     []string  `json:"connectedTo,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// PrimaryClassification returns the first classification tag, or "other"
// when the node carries none. Used for grouping in prompt formatting.
func (n *KnowledgeNode) PrimaryClassification() string {
	if len(n.Classifications) > 0 {
		return n.Classifications[0]
	}
	return "other"
}

// HasEntity reports whether the node's entity set contains entity.
func (n *KnowledgeNode) HasEntity(entity string) bool {
	for _, e := range n.Entities {
		if e == entity {
			return true
		}
	}
	return false
}

// Connect appends targetID to the node's connection list if not already
// present. Returns true if the list changed.
func (n *KnowledgeNode) Connect(targetID string) bool {
	for _, id := range n.ConnectedTo {
		if id == targetID {
			return false
		}
	}
	n.ConnectedTo = append(n.ConnectedTo, targetID)
	return true
}

// ProjectNode computes the KnowledgeNode for a source event by left-folding
// its attention history.
//
// The fold is deterministic for any arrival order: events are ordered by
// creation time with the store-assigned sequence number breaking ties, so
// replaying any permutation of the same history yields the same node. The
// fold copies content verbatim and never inspects or rewrites it.
func ProjectNode(src *SourceEvent, attention []*AttentionEvent) *KnowledgeNode {
	node := &KnowledgeNode{
		EventID:         src.ID,
		Content:         src.Content,
		Scope:           src.Scope,
		Classifications: src.Metadata.Classifications,
		Entities:        src.Metadata.Entities,
		Topics:          src.Metadata.Topics,
		IsActive:        true,
		IsPinned:        false,
		Importance:      DefaultImportance,
		CreatedAt:       src.CreatedAt,
	}

	ordered := make([]*AttentionEvent, 0, len(attention))
	for _, ev := range attention {
		if ev != nil && ev.TargetEventID == src.ID {
			ordered = append(ordered, ev)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	for _, ev := range ordered {
		switch ev.Kind {
		case AttentionQuieted:
			node.IsActive = false
		case AttentionActivated:
			node.IsActive = true
		case AttentionPinned:
			node.IsPinned = true
		case AttentionUnpinned:
			node.IsPinned = false
		case AttentionImportanceChanged:
			if ev.NewImportance != nil {
				node.Importance = *ev.NewImportance
			}
		}
	}

	return node
}
