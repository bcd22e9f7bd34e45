// Package retrieval implements semantic and lexical search over the
// knowledge projection.
//
// Every read path degrades silently: any upstream failure (embedding
// provider, store, open breaker) yields an empty result, never an error. The
// prompt composer must always be able to produce a valid, if
// knowledge-poorer, prompt.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"mnemo-backend/internal/domain"
	"mnemo-backend/internal/embedding"
	"mnemo-backend/internal/observability"
	"mnemo-backend/internal/repository"
)

const (
	// DefaultThreshold is the minimum cosine similarity for a semantic match.
	DefaultThreshold = 0.6
	// DefaultLimit bounds result counts for search and grep.
	DefaultLimit = 20
	// HighlightRadius is the number of characters kept on each side of the
	// first lexical match.
	HighlightRadius = 50
)

// SearchOptions tune a semantic search. Zero values fall back to defaults;
// IncludeQuiet and MinImportance are meaningful zeros.
type SearchOptions struct {
	Threshold       float64
	Limit           int
	Classifications []string
	IncludeQuiet    bool
	MinImportance   float64

	thresholdSet bool
}

// DefaultSearchOptions returns the standard search configuration.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{Threshold: DefaultThreshold, Limit: DefaultLimit, thresholdSet: true}
}

// WithThreshold returns a copy of the options with an explicit threshold.
// Needed to distinguish a deliberate 0.0 threshold from the zero value.
func (o SearchOptions) WithThreshold(threshold float64) SearchOptions {
	o.Threshold = threshold
	o.thresholdSet = true
	return o
}

// GrepOptions tune a lexical search.
type GrepOptions struct {
	CaseSensitive bool
	Limit         int
}

// GrepResult is one lexical match: the node, the offset of the first match,
// and a highlight window around it.
type GrepResult struct {
	Node      *domain.KnowledgeNode
	Offset    int
	Highlight string
}

// Engine answers semantic and lexical queries over the projection.
type Engine struct {
	store    repository.ProjectionStore
	provider embedding.Provider
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
	metrics  *observability.Collector
}

// NewEngine creates a retrieval engine. The circuit breaker guards the
// embedding provider so a flapping backend fails fast instead of delaying
// every turn.
func NewEngine(
	store repository.ProjectionStore,
	provider embedding.Provider,
	logger *zap.Logger,
	metrics *observability.Collector,
) *Engine {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding-provider",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Engine{
		store:    store,
		provider: provider,
		breaker:  breaker,
		logger:   logger,
		metrics:  metrics,
	}
}

// Search embeds queryText and returns in-scope nodes ranked by cosine
// similarity, filtered per options. Raising the threshold can only shrink
// the result set for a fixed query and scope: the threshold is applied to
// the full ranked list before the limit.
func (e *Engine) Search(ctx context.Context, scope, queryText string, opts SearchOptions) []*domain.KnowledgeNode {
	ctx, span := observability.Tracer().Start(ctx, "retrieval.Search")
	defer span.End()

	if queryText == "" || scope == "" {
		return []*domain.KnowledgeNode{}
	}
	if !opts.thresholdSet && opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}

	result, err := e.breaker.Execute(func() (any, error) {
		return e.provider.Embed(ctx, queryText)
	})
	if err != nil {
		return e.degrade("search_embed", err)
	}
	queryVec, ok := result.([]float32)
	if !ok || len(queryVec) == 0 {
		return e.degrade("search_embed", nil)
	}

	scored, err := e.store.VectorSearch(ctx, scope, queryVec, repository.NodeFilter{
		Classifications: opts.Classifications,
		IncludeQuiet:    opts.IncludeQuiet,
		MinImportance:   opts.MinImportance,
	})
	if err != nil {
		return e.degrade("search_store", err)
	}

	nodes := make([]*domain.KnowledgeNode, 0, len(scored))
	for _, row := range scored {
		if row.Similarity < opts.Threshold {
			continue
		}
		nodes = append(nodes, row.Node)
		if len(nodes) == opts.Limit {
			break
		}
	}
	return nodes
}

// Grep returns in-scope nodes whose content contains pattern, ordered by
// importance descending then recency descending, each with a highlight
// window around the first match.
func (e *Engine) Grep(ctx context.Context, scope, pattern string, opts GrepOptions) []GrepResult {
	ctx, span := observability.Tracer().Start(ctx, "retrieval.Grep")
	defer span.End()

	if pattern == "" || scope == "" {
		return []GrepResult{}
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}

	nodes, err := e.store.SubstringSearch(ctx, scope, pattern, opts.CaseSensitive, 0)
	if err != nil {
		e.logger.Warn("grep degraded to empty", zap.Error(err))
		if e.metrics != nil {
			e.metrics.RetrievalDegradations.WithLabelValues("grep_store").Inc()
		}
		return []GrepResult{}
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Importance != nodes[j].Importance {
			return nodes[i].Importance > nodes[j].Importance
		}
		return nodes[i].CreatedAt.After(nodes[j].CreatedAt)
	})

	results := make([]GrepResult, 0, opts.Limit)
	for _, node := range nodes {
		offset := matchOffset(node.Content, pattern, opts.CaseSensitive)
		if offset < 0 {
			continue
		}
		results = append(results, GrepResult{
			Node:      node,
			Offset:    offset,
			Highlight: highlight(node.Content, offset, len(pattern)),
		})
		if len(results) == opts.Limit {
			break
		}
	}
	return results
}

func (e *Engine) degrade(path string, err error) []*domain.KnowledgeNode {
	if err != nil {
		e.logger.Warn("search degraded to empty", zap.String("path", path), zap.Error(err))
	}
	if e.metrics != nil {
		e.metrics.RetrievalDegradations.WithLabelValues(path).Inc()
	}
	return []*domain.KnowledgeNode{}
}

func matchOffset(content, pattern string, caseSensitive bool) int {
	if caseSensitive {
		return strings.Index(content, pattern)
	}
	return strings.Index(strings.ToLower(content), strings.ToLower(pattern))
}

// highlight returns a window of HighlightRadius characters on each side of
// the match at offset.
func highlight(content string, offset, matchLen int) string {
	start := offset - HighlightRadius
	if start < 0 {
		start = 0
	}
	end := offset + matchLen + HighlightRadius
	if end > len(content) {
		end = len(content)
	}
	return content[start:end]
}
