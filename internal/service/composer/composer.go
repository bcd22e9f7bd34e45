// Package composer assembles the layered system prompt: fixed identity,
// community character, user profile and pinned knowledge, tool descriptions,
// and retrieved context, merged under a hard token ceiling.
package composer

import (
	"strings"

	"go.uber.org/zap"

	"mnemo-backend/pkg/tokens"
)

const layerSeparator = "\n\n"

// ToolDescription is one tool offered to the model.
type ToolDescription struct {
	Name        string
	Description string
}

// ComposeInput carries the text of each layer. Empty layers are skipped.
type ComposeInput struct {
	// Core is the fixed identity text, always present.
	Core string
	// Community is the community/voyage character text.
	Community string
	// UserProfile is the per-user profile text.
	UserProfile string
	// PinnedKnowledge is the pinned-knowledge block, joined with the user
	// profile into one layer.
	PinnedKnowledge string
	// RetrievedContext is the retrieval output for this turn.
	RetrievedContext string
	// Tools are the available tool descriptions.
	Tools []ToolDescription
}

// ComposeOptions bound the assembly.
type ComposeOptions struct {
	// MaxTotalTokens is the hard ceiling for the whole prompt.
	MaxTotalTokens int
	// MaxContextTokens is reserved for the retrieved-context layer.
	MaxContextTokens int
	// IncludeTools enables the tool layer.
	IncludeTools bool
}

// Layer is the token accounting for one assembled layer.
type Layer struct {
	Name      string
	Tokens    int
	Truncated bool
	Omitted   bool
}

// Result is the composed prompt plus its accounting breakdown.
type Result struct {
	SystemPrompt string
	Layers       []Layer
	TotalTokens  int
}

// Composer assembles system prompts.
type Composer struct {
	logger *zap.Logger
}

// NewComposer creates a prompt composer.
func NewComposer(logger *zap.Logger) *Composer {
	return &Composer{logger: logger}
}

// Compose merges the layers in fixed order under opts.MaxTotalTokens. The
// total never exceeds the ceiling: when budget runs out, later layers shrink
// or are omitted, never earlier ones. Tool descriptions keep their full form
// only if they fit what remains after reserving MaxContextTokens for the
// retrieved context; otherwise they compress to one line per tool.
func (c *Composer) Compose(in ComposeInput, opts ComposeOptions) Result {
	if opts.MaxTotalTokens <= 0 {
		opts.MaxTotalTokens = 4000
	}
	if opts.MaxContextTokens < 0 {
		opts.MaxContextTokens = 0
	}

	asm := assembly{remaining: opts.MaxTotalTokens}

	// Core identity: always present, fixed size. Truncation here only guards
	// a ceiling smaller than the core itself.
	asm.add("core", in.Core, asm.remaining)
	asm.add("community", in.Community, asm.remaining)

	profile := in.UserProfile
	if in.PinnedKnowledge != "" {
		if profile != "" {
			profile += "\n"
		}
		profile += in.PinnedKnowledge
	}
	asm.add("user_profile", profile, asm.remaining)

	if opts.IncludeTools && len(in.Tools) > 0 {
		toolBudget := asm.remaining - opts.MaxContextTokens
		if toolBudget < 0 {
			toolBudget = 0
		}
		full := formatToolsFull(in.Tools)
		if tokens.Estimate(full) <= toolBudget {
			asm.add("tools", full, toolBudget)
		} else {
			asm.addCompressed("tools", formatToolsCompressed(in.Tools), toolBudget)
		}
	}

	contextBudget := opts.MaxContextTokens
	if asm.remaining < contextBudget {
		contextBudget = asm.remaining
	}
	asm.add("retrieved_context", in.RetrievedContext, contextBudget)

	result := Result{
		SystemPrompt: strings.Join(asm.parts, layerSeparator),
		Layers:       asm.layers,
		TotalTokens:  asm.total,
	}
	if c.logger != nil {
		c.logger.Debug("composed system prompt",
			zap.Int("totalTokens", result.TotalTokens),
			zap.Int("maxTotalTokens", opts.MaxTotalTokens),
			zap.Int("layers", len(result.Layers)))
	}
	return result
}

// assembly accumulates layers against a shrinking budget. Separator cost is
// charged to the layer that introduces it, so the running total is a
// conservative bound on the final prompt's estimate.
type assembly struct {
	parts     []string
	layers    []Layer
	total     int
	remaining int
}

func (a *assembly) add(name, text string, budget int) {
	if text == "" {
		return
	}
	if budget > a.remaining {
		budget = a.remaining
	}

	sep := 0
	if len(a.parts) > 0 {
		sep = tokens.Estimate(layerSeparator)
	}
	if budget <= sep {
		a.layers = append(a.layers, Layer{Name: name, Omitted: true})
		return
	}

	truncated := false
	cost := sep + tokens.Estimate(text)
	if cost > budget {
		text = truncateToTokens(text, budget-sep)
		if text == "" {
			a.layers = append(a.layers, Layer{Name: name, Omitted: true})
			return
		}
		truncated = true
		cost = sep + tokens.Estimate(text)
	}

	a.parts = append(a.parts, text)
	a.total += cost
	a.remaining -= cost
	a.layers = append(a.layers, Layer{Name: name, Tokens: cost, Truncated: truncated})
}

func (a *assembly) addCompressed(name, text string, budget int) {
	before := len(a.layers)
	a.add(name, text, budget)
	// Mark the compressed form as truncated in the accounting either way.
	if len(a.layers) > before {
		a.layers[len(a.layers)-1].Truncated = true
	}
}

func formatToolsFull(tools []ToolDescription) string {
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, t := range tools {
		b.WriteString("\n### ")
		b.WriteString(t.Name)
		b.WriteString("\n")
		b.WriteString(t.Description)
		b.WriteString("\n")
	}
	return b.String()
}

func formatToolsCompressed(tools []ToolDescription) string {
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, t := range tools {
		b.WriteString("- ")
		b.WriteString(t.Name)
		summary := firstLine(t.Description)
		if summary != "" {
			b.WriteString(": ")
			b.WriteString(summary)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return strings.TrimSpace(text[:i])
	}
	return strings.TrimSpace(text)
}

// truncateToTokens word-truncates text so its estimate fits the budget.
func truncateToTokens(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if tokens.Estimate(text) <= budget {
		return text
	}

	words := strings.Fields(text)
	var b strings.Builder
	for _, word := range words {
		next := b.Len()
		if next > 0 {
			next++
		}
		next += len(word)
		if (next+3)/4 > budget {
			break
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(word)
	}
	return b.String()
}
