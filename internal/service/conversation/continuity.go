package conversation

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"mnemo-backend/internal/domain"
	"mnemo-backend/internal/service/retrieval"
)

const (
	// localOverlapFloor is the minimum keyword-overlap ratio for a dropped
	// message to be recovered.
	localOverlapFloor = 0.2
	// continuityLimit caps recovered items per path.
	continuityLimit = 3
	// crossSessionThreshold is the relaxed similarity floor for reaching
	// into prior conversations.
	crossSessionThreshold = 0.6
)

// stopWords contains common words filtered out during keyword overlap scoring.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true,
	"and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "up": true, "about": true,
	"into": true, "through": true, "during": true, "before": true, "after": true,
	"is": true, "am": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "should": true, "could": true,
	"i": true, "me": true, "my": true, "we": true, "our": true,
	"you": true, "your": true, "he": true, "she": true, "it": true, "its": true,
	"they": true, "them": true, "their": true,
	"what": true, "which": true, "who": true,
	"this": true, "that": true, "these": true, "those": true,
	"as": true, "if": true, "then": true, "than": true, "so": true,
	"not": true, "no": true, "can": true, "just": true, "also": true,
}

var nonWord = regexp.MustCompile(`[^a-z0-9 ]+`)

// ContinuityRetriever recovers context referenced by detected signals,
// either from messages the window dropped or from prior sessions via the
// retrieval engine.
type ContinuityRetriever struct {
	engine *retrieval.Engine
	logger *zap.Logger
}

// NewContinuityRetriever creates a continuity retriever.
func NewContinuityRetriever(engine *retrieval.Engine, logger *zap.Logger) *ContinuityRetriever {
	return &ContinuityRetriever{engine: engine, logger: logger}
}

// Retrieve assembles recovered context for the given signals. Implicit and
// temporal signals recover dropped messages by keyword overlap against the
// query; cross-session signals query the retrieval engine with a relaxed
// threshold. Both blocks may combine. Returns "" when neither path yields
// anything; it never fails — a retrieval error degrades to the local block
// alone or to "".
func (r *ContinuityRetriever) Retrieve(
	ctx context.Context,
	signals []Signal,
	queryText string,
	dropped []domain.ConversationMessage,
	scope string,
) string {
	if len(signals) == 0 {
		return ""
	}

	wantLocal := false
	wantCross := false
	for _, sig := range signals {
		switch sig.Kind {
		case SignalImplicit, SignalTemporal:
			wantLocal = true
		case SignalCrossSession:
			wantCross = true
		}
	}

	var blocks []string

	if wantLocal && len(dropped) > 0 {
		for _, msg := range rankDropped(queryText, dropped) {
			blocks = append(blocks, "[earlier in this conversation]\n"+msg.Role+": "+msg.Content)
		}
	}

	if wantCross && r.engine != nil {
		opts := retrieval.SearchOptions{Limit: continuityLimit}.WithThreshold(crossSessionThreshold)
		for _, node := range r.engine.Search(ctx, scope, queryText, opts) {
			blocks = append(blocks, "[from previous conversations]\n"+node.Content)
		}
	}

	if len(blocks) == 0 {
		return ""
	}
	return strings.Join(blocks, "\n\n")
}

type scoredMessage struct {
	msg     domain.ConversationMessage
	overlap float64
}

// rankDropped scores dropped messages by stopword-filtered keyword overlap
// with the query (shared tokens over query tokens) and keeps the top
// continuityLimit above the floor.
func rankDropped(queryText string, dropped []domain.ConversationMessage) []domain.ConversationMessage {
	queryTokens := keywordSet(queryText)
	if len(queryTokens) == 0 {
		return nil
	}

	scored := make([]scoredMessage, 0, len(dropped))
	for _, msg := range dropped {
		msgTokens := keywordSet(msg.Content)
		shared := 0
		for token := range queryTokens {
			if msgTokens[token] {
				shared++
			}
		}
		overlap := float64(shared) / float64(len(queryTokens))
		if overlap > localOverlapFloor {
			scored = append(scored, scoredMessage{msg: msg, overlap: overlap})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].overlap > scored[j].overlap
	})
	if len(scored) > continuityLimit {
		scored = scored[:continuityLimit]
	}

	out := make([]domain.ConversationMessage, 0, len(scored))
	for _, s := range scored {
		out = append(out, s.msg)
	}
	return out
}

// keywordSet lowercases, strips punctuation, and drops stopwords and short
// tokens.
func keywordSet(text string) map[string]bool {
	cleaned := nonWord.ReplaceAllString(strings.ToLower(text), "")
	set := make(map[string]bool)
	for _, word := range strings.Fields(cleaned) {
		if len(word) > 2 && !stopWords[word] {
			set[word] = true
		}
	}
	return set
}
