// Package rest is the thin HTTP facade over the memory services. Handlers
// decode, delegate, and encode; all behavior lives in the service layer.
package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"mnemo-backend/internal/domain"
	"mnemo-backend/internal/service/composer"
	"mnemo-backend/internal/service/conversation"
	"mnemo-backend/internal/service/ledger"
	"mnemo-backend/internal/service/retrieval"
	appErrors "mnemo-backend/pkg/errors"
)

// Handler bundles the services the facade exposes.
type Handler struct {
	ledger     *ledger.Service
	engine     *retrieval.Engine
	continuity *conversation.ContinuityRetriever
	composer   *composer.Composer
	logger     *zap.Logger
}

// NewHandler creates the facade handler.
func NewHandler(
	ledgerSvc *ledger.Service,
	engine *retrieval.Engine,
	continuity *conversation.ContinuityRetriever,
	comp *composer.Composer,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		ledger:     ledgerSvc,
		engine:     engine,
		continuity: continuity,
		composer:   comp,
		logger:     logger,
	}
}

type appendEventRequest struct {
	// Type selects the event stream: "source", "attention", or
	// "understanding".
	Type string `json:"type"`

	// Source event fields.
	Kind     string   `json:"kind"`
	Content  string   `json:"content"`
	Scope    string   `json:"scope"`
	Entities []string `json:"entities,omitempty"`
	Topics   []string `json:"topics,omitempty"`

	Classifications []string `json:"classifications,omitempty"`
	OriginSessionID string   `json:"originSessionId,omitempty"`

	// Attention event fields.
	TargetEventID string   `json:"targetEventId,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	NewImportance *float64 `json:"newImportance,omitempty"`

	// Understanding event fields.
	SourceEventIDs []string `json:"sourceEventIds,omitempty"`

	ActorID   string `json:"actorId,omitempty"`
	ActorKind string `json:"actorKind,omitempty"`
}

type appendEventResponse struct {
	EventID   string `json:"eventId,omitempty"`
	Timestamp string `json:"timestamp"`
}

// AppendEvent handles POST /v1/events.
func (h *Handler) AppendEvent(w http.ResponseWriter, r *http.Request) {
	var req appendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actor := domain.Actor{ID: req.ActorID, Kind: domain.ActorKind(req.ActorKind)}
	if actor.Kind == "" {
		actor.Kind = domain.ActorUser
	}

	switch req.Type {
	case "", "source":
		kind := domain.EventKind(req.Kind)
		if req.Kind == "" {
			kind = domain.EventKindMessage
		}
		id, err := h.ledger.AppendSourceEvent(r.Context(), kind, req.Content, req.Scope,
			domain.Metadata{
				Classifications: req.Classifications,
				Entities:        req.Entities,
				Topics:          req.Topics,
				OriginSessionID: req.OriginSessionID,
			}, actor)
		if err != nil {
			h.handleServiceError(w, err)
			return
		}
		h.respondJSON(w, http.StatusCreated, appendEventResponse{
			EventID: id, Timestamp: time.Now().UTC().Format(time.RFC3339),
		})

	case "attention":
		err := h.ledger.AppendAttentionEvent(r.Context(),
			domain.AttentionKind(req.Kind), req.TargetEventID, req.Reason,
			req.NewImportance, actor)
		if err != nil {
			h.handleServiceError(w, err)
			return
		}
		h.respondJSON(w, http.StatusCreated, appendEventResponse{
			EventID: req.TargetEventID, Timestamp: time.Now().UTC().Format(time.RFC3339),
		})

	case "understanding":
		id, err := h.ledger.AppendUnderstandingEvent(r.Context(),
			domain.UnderstandingKind(req.Kind), req.Content, req.SourceEventIDs, actor)
		if err != nil {
			h.handleServiceError(w, err)
			return
		}
		h.respondJSON(w, http.StatusCreated, appendEventResponse{
			EventID: id, Timestamp: time.Now().UTC().Format(time.RFC3339),
		})

	default:
		h.respondError(w, http.StatusBadRequest, "unknown event type: "+req.Type)
	}
}

type nodeResponse struct {
	EventID         string   `json:"eventId"`
	Content         string   `json:"content"`
	Scope           string   `json:"scope"`
	Classifications []string `json:"classifications,omitempty"`
	Entities        []string `json:"entities,omitempty"`
	IsPinned        bool     `json:"isPinned"`
	Importance      float64  `json:"importance"`
	CreatedAt       string   `json:"createdAt"`
}

// Search handles GET /v1/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	scope := r.URL.Query().Get("scope")
	if query == "" || scope == "" {
		h.respondError(w, http.StatusBadRequest, "q and scope are required")
		return
	}

	opts := retrieval.DefaultSearchOptions()
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		if threshold, err := strconv.ParseFloat(raw, 64); err == nil {
			opts = opts.WithThreshold(threshold)
		}
	}
	if limit, _ := strconv.Atoi(r.URL.Query().Get("limit")); limit > 0 {
		opts.Limit = limit
	}
	if raw := r.URL.Query().Get("minImportance"); raw != "" {
		if minImportance, err := strconv.ParseFloat(raw, 64); err == nil {
			opts.MinImportance = minImportance
		}
	}
	opts.IncludeQuiet = r.URL.Query().Get("includeQuiet") == "true"
	if raw := r.URL.Query().Get("classifications"); raw != "" {
		opts.Classifications = strings.Split(raw, ",")
	}

	nodes := h.engine.Search(r.Context(), scope, query, opts)
	h.respondJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": toNodeResponses(nodes),
		"total":   len(nodes),
	})
}

type grepResultResponse struct {
	Node      nodeResponse `json:"node"`
	Offset    int          `json:"offset"`
	Highlight string       `json:"highlight"`
}

// Grep handles GET /v1/grep.
func (h *Handler) Grep(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	scope := r.URL.Query().Get("scope")
	if pattern == "" || scope == "" {
		h.respondError(w, http.StatusBadRequest, "pattern and scope are required")
		return
	}

	opts := retrieval.GrepOptions{
		CaseSensitive: r.URL.Query().Get("caseSensitive") == "true",
	}
	if limit, _ := strconv.Atoi(r.URL.Query().Get("limit")); limit > 0 {
		opts.Limit = limit
	}

	matches := h.engine.Grep(r.Context(), scope, pattern, opts)
	results := make([]grepResultResponse, 0, len(matches))
	for _, m := range matches {
		results = append(results, grepResultResponse{
			Node:      toNodeResponse(m.Node),
			Offset:    m.Offset,
			Highlight: m.Highlight,
		})
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"pattern": pattern,
		"results": results,
		"total":   len(results),
	})
}

type composeRequest struct {
	Core            string                     `json:"core"`
	Community       string                     `json:"community,omitempty"`
	UserProfile     string                     `json:"userProfile,omitempty"`
	PinnedKnowledge string                     `json:"pinnedKnowledge,omitempty"`
	Tools           []composer.ToolDescription `json:"tools,omitempty"`

	// Scope plus Query trigger retrieval for the context layer; the
	// current turn's text doubles as the continuity probe.
	Scope    string `json:"scope,omitempty"`
	Query    string `json:"query,omitempty"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages,omitempty"`

	MaxTotalTokens   int  `json:"maxTotalTokens,omitempty"`
	MaxContextTokens int  `json:"maxContextTokens,omitempty"`
	IncludeTools     bool `json:"includeTools,omitempty"`
}

// Compose handles POST /v1/compose. When scope and query are present the
// retrieved-context layer is filled from semantic search plus any continuity
// retrieval the current turn triggers; both degrade to empty.
func (h *Handler) Compose(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var retrieved string
	if req.Scope != "" && req.Query != "" {
		nodes := h.engine.Search(r.Context(), req.Scope, req.Query, retrieval.DefaultSearchOptions())
		retrieved = retrieval.FormatForPrompt(nodes)

		if h.continuity != nil {
			signals := conversation.DetectSignals(req.Query)
			dropped := make([]domain.ConversationMessage, 0, len(req.Messages))
			for _, m := range req.Messages {
				dropped = append(dropped, domain.ConversationMessage{Role: m.Role, Content: m.Content})
			}
			if block := h.continuity.Retrieve(r.Context(), signals, req.Query, dropped, req.Scope); block != "" {
				if retrieved != "" {
					retrieved += "\n\n"
				}
				retrieved += block
			}
		}
	}

	result := h.composer.Compose(composer.ComposeInput{
		Core:             req.Core,
		Community:        req.Community,
		UserProfile:      req.UserProfile,
		PinnedKnowledge:  req.PinnedKnowledge,
		RetrievedContext: retrieved,
		Tools:            req.Tools,
	}, composer.ComposeOptions{
		MaxTotalTokens:   req.MaxTotalTokens,
		MaxContextTokens: req.MaxContextTokens,
		IncludeTools:     req.IncludeTools,
	})

	h.respondJSON(w, http.StatusOK, result)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toNodeResponses(nodes []*domain.KnowledgeNode) []nodeResponse {
	out := make([]nodeResponse, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, toNodeResponse(node))
	}
	return out
}

func toNodeResponse(node *domain.KnowledgeNode) nodeResponse {
	return nodeResponse{
		EventID:         node.EventID,
		Content:         node.Content,
		Scope:           node.Scope,
		Classifications: node.Classifications,
		Entities:        node.Entities,
		IsPinned:        node.IsPinned,
		Importance:      node.Importance,
		CreatedAt:       node.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case appErrors.IsValidation(err):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case appErrors.IsNotFound(err):
		h.respondError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("internal error", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "an internal error occurred")
	}
}
