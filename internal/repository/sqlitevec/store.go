// Package sqlitevec provides a KnowledgeStore backed by SQLite with the
// sqlite-vec extension for vector similarity. Suited to single-node deploys;
// the vec0 virtual table carries embeddings and the relational tables carry
// the event log and projection rows.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mnemo-backend/internal/domain"
	"mnemo-backend/internal/repository"
	appErrors "mnemo-backend/pkg/errors"
)

// Store is a SQLite-backed KnowledgeStore.
type Store struct {
	db   *sql.DB
	dims int
}

// NewStore opens (or creates) the database at path and initializes the
// schema. dims is the embedding dimensionality of the configured provider.
func NewStore(path string, dims int) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, appErrors.NewConfiguration("failed to open sqlite database: " + err.Error())
	}
	s := &Store{db: db, dims: dims}
	if err := s.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS source_events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		scope TEXT NOT NULL,
		metadata TEXT NOT NULL,
		actor_id TEXT,
		actor_kind TEXT,
		created_at TEXT NOT NULL,
		embedding BLOB
	);
	CREATE TABLE IF NOT EXISTS attention_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		target_event_id TEXT NOT NULL,
		reason TEXT,
		new_importance REAL,
		actor_id TEXT,
		actor_kind TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_attention_target ON attention_events(target_event_id);
	CREATE TABLE IF NOT EXISTS understanding_events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		source_event_ids TEXT NOT NULL,
		actor_id TEXT,
		actor_kind TEXT,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS nodes (
		event_id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		scope TEXT NOT NULL,
		classifications TEXT,
		entities TEXT,
		topics TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		is_pinned INTEGER NOT NULL DEFAULT 0,
		importance REAL NOT NULL DEFAULT 0.5,
		connected_to TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_scope ON nodes(scope);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return appErrors.NewConfiguration("failed to create schema: " + err.Error())
	}

	vecTable := fmt.Sprintf(`
	CREATE VIRTUAL TABLE IF NOT EXISTS vec_nodes USING vec0(
		embedding float[%d],
		event_id TEXT
	);`, s.dims)
	if _, err := s.db.Exec(vecTable); err != nil {
		return appErrors.NewConfiguration("failed to create vec_nodes table (is sqlite-vec loaded?): " + err.Error())
	}
	return nil
}

// SaveSourceEvent appends an immutable source event.
func (s *Store) SaveSourceEvent(ctx context.Context, ev *domain.SourceEvent) error {
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return appErrors.NewInternal("failed to marshal metadata", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO source_events (id, kind, content, scope, metadata, actor_id, actor_kind, created_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.Content, ev.Scope, string(metadata),
		ev.Actor.ID, string(ev.Actor.Kind), ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		encodeVector(ev.Embedding),
	)
	if err != nil {
		return appErrors.NewPersistence("failed to insert source event", err)
	}
	return nil
}

// SaveAttentionEvent appends an attention event. The AUTOINCREMENT rowid
// provides the monotonic sequence number.
func (s *Store) SaveAttentionEvent(ctx context.Context, ev *domain.AttentionEvent) error {
	var importance sql.NullFloat64
	if ev.NewImportance != nil {
		importance = sql.NullFloat64{Float64: *ev.NewImportance, Valid: true}
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO attention_events (id, kind, target_event_id, reason, new_importance, actor_id, actor_kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.TargetEventID, ev.Reason, importance,
		ev.Actor.ID, string(ev.Actor.Kind), ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return appErrors.NewPersistence("failed to insert attention event", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return appErrors.NewPersistence("failed to read sequence number", err)
	}
	ev.Seq = seq
	return nil
}

// SaveUnderstandingEvent appends a derived annotation.
func (s *Store) SaveUnderstandingEvent(ctx context.Context, ev *domain.UnderstandingEvent) error {
	refs, err := json.Marshal(ev.SourceEventIDs)
	if err != nil {
		return appErrors.NewInternal("failed to marshal source event ids", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO understanding_events (id, kind, content, source_event_ids, actor_id, actor_kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.Content, string(refs),
		ev.Actor.ID, string(ev.Actor.Kind), ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return appErrors.NewPersistence("failed to insert understanding event", err)
	}
	return nil
}

// FindSourceEvent returns the source event with the given id, or nil.
func (s *Store) FindSourceEvent(ctx context.Context, id string) (*domain.SourceEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, content, scope, metadata, actor_id, actor_kind, created_at, embedding
		FROM source_events WHERE id = ?`, id)

	var ev domain.SourceEvent
	var kind, actorKind, metadata, createdAt string
	var embedding []byte
	err := row.Scan(&ev.ID, &kind, &ev.Content, &ev.Scope, &metadata,
		&ev.Actor.ID, &actorKind, &createdAt, &embedding)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.NewPersistence("failed to query source event", err)
	}

	ev.Kind = domain.EventKind(kind)
	ev.Actor.Kind = domain.ActorKind(actorKind)
	if err := json.Unmarshal([]byte(metadata), &ev.Metadata); err != nil {
		return nil, appErrors.NewInternal("failed to unmarshal metadata", err)
	}
	ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	ev.Embedding = decodeVector(embedding)
	return &ev, nil
}

// ListAttentionEvents returns all attention events targeting the event.
func (s *Store) ListAttentionEvents(ctx context.Context, targetEventID string) ([]*domain.AttentionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, kind, target_event_id, reason, new_importance, actor_id, actor_kind, created_at
		FROM attention_events WHERE target_event_id = ?`, targetEventID)
	if err != nil {
		return nil, appErrors.NewPersistence("failed to query attention events", err)
	}
	defer rows.Close()

	var events []*domain.AttentionEvent
	for rows.Next() {
		var ev domain.AttentionEvent
		var kind, actorKind, createdAt string
		var reason sql.NullString
		var importance sql.NullFloat64
		if err := rows.Scan(&ev.Seq, &ev.ID, &kind, &ev.TargetEventID, &reason,
			&importance, &ev.Actor.ID, &actorKind, &createdAt); err != nil {
			return nil, appErrors.NewPersistence("failed to scan attention event", err)
		}
		ev.Kind = domain.AttentionKind(kind)
		ev.Actor.Kind = domain.ActorKind(actorKind)
		ev.Reason = reason.String
		if importance.Valid {
			v := importance.Float64
			ev.NewImportance = &v
		}
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// AttachEmbedding writes the embedding onto the event and the vec index.
func (s *Store) AttachEmbedding(ctx context.Context, eventID string, embedding []float32) error {
	blob := encodeVector(embedding)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE source_events SET embedding = ? WHERE id = ?`, blob, eventID); err != nil {
		return appErrors.NewPersistence("failed to attach embedding", err)
	}
	// Replace any previous vector for this event.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vec_nodes WHERE event_id = ?`, eventID); err != nil {
		return appErrors.NewPersistence("failed to clear vec row", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO vec_nodes (embedding, event_id) VALUES (?, ?)`, blob, eventID); err != nil {
		return appErrors.NewPersistence("failed to insert vec row", err)
	}
	return nil
}

// UpsertProjection stores the recomputed node row, preserving an existing
// connection list when the incoming node carries none.
func (s *Store) UpsertProjection(ctx context.Context, node *domain.KnowledgeNode) error {
	classifications, _ := json.Marshal(node.Classifications)
	entities, _ := json.Marshal(node.Entities)
	topics, _ := json.Marshal(node.Topics)
	connected, _ := json.Marshal(node.ConnectedTo)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (event_id, content, scope, classifications, entities, topics,
			is_active, is_pinned, importance, connected_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			content = excluded.content,
			scope = excluded.scope,
			classifications = excluded.classifications,
			entities = excluded.entities,
			topics = excluded.topics,
			is_active = excluded.is_active,
			is_pinned = excluded.is_pinned,
			importance = excluded.importance,
			connected_to = CASE
				WHEN excluded.connected_to = '[]' OR excluded.connected_to IS NULL
				THEN nodes.connected_to ELSE excluded.connected_to END`,
		node.EventID, node.Content, node.Scope, string(classifications), string(entities),
		string(topics), boolToInt(node.IsActive), boolToInt(node.IsPinned),
		node.Importance, string(connected), node.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return appErrors.NewPersistence("failed to upsert projection", err)
	}
	return nil
}

// FindNode returns the projection for an event id, or nil.
func (s *Store) FindNode(ctx context.Context, eventID string) (*domain.KnowledgeNode, error) {
	rows, err := s.db.QueryContext(ctx, nodeSelect+` WHERE event_id = ?`, eventID)
	if err != nil {
		return nil, appErrors.NewPersistence("failed to query node", err)
	}
	defer rows.Close()
	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return nodes[0], nil
}

// UpdateConnections replaces the connection list on a projection row.
func (s *Store) UpdateConnections(ctx context.Context, eventID string, connectedTo []string) error {
	connected, _ := json.Marshal(connectedTo)
	result, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET connected_to = ? WHERE event_id = ?`, string(connected), eventID)
	if err != nil {
		return appErrors.NewPersistence("failed to update connections", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return appErrors.NewNotFound("node not found: " + eventID)
	}
	return nil
}

// VectorSearch ranks in-scope nodes by cosine similarity using the vec0
// index, then applies the projection filters.
func (s *Store) VectorSearch(ctx context.Context, scope string, query []float32, filter repository.NodeFilter) ([]repository.ScoredNode, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT n.event_id, n.content, n.scope, n.classifications, n.entities, n.topics,
			n.is_active, n.is_pinned, n.importance, n.connected_to, n.created_at,
			vec_distance_cosine(v.embedding, ?) AS distance
		FROM vec_nodes v
		JOIN nodes n ON n.event_id = v.event_id
		WHERE n.scope = ?
		ORDER BY distance ASC
		LIMIT ?`,
		encodeVector(query), scope, limit*4,
	)
	if err != nil {
		return nil, appErrors.NewPersistence("vec search failed", err)
	}
	defer rows.Close()

	var scored []repository.ScoredNode
	for rows.Next() {
		node, distance, err := scanScoredNode(rows)
		if err != nil {
			return nil, err
		}
		if !nodePassesFilter(node, filter) {
			continue
		}
		scored = append(scored, repository.ScoredNode{Node: node, Similarity: 1.0 - distance})
		if len(scored) == limit {
			break
		}
	}
	return scored, rows.Err()
}

// SubstringSearch returns in-scope nodes whose content contains pattern.
func (s *Store) SubstringSearch(ctx context.Context, scope, pattern string, caseSensitive bool, limit int) ([]*domain.KnowledgeNode, error) {
	if limit <= 0 {
		limit = 100
	}
	match := `instr(lower(content), lower(?)) > 0`
	if caseSensitive {
		match = `instr(content, ?) > 0`
	}
	rows, err := s.db.QueryContext(ctx,
		nodeSelect+` WHERE scope = ? AND `+match+` LIMIT ?`,
		scope, pattern, limit)
	if err != nil {
		return nil, appErrors.NewPersistence("substring search failed", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// FindNodesByEntities returns active in-scope nodes sharing at least one
// entity, oldest first.
func (s *Store) FindNodesByEntities(ctx context.Context, scope string, entities []string, limit int) ([]*domain.KnowledgeNode, error) {
	rows, err := s.db.QueryContext(ctx,
		nodeSelect+` WHERE scope = ? AND is_active = 1 ORDER BY created_at ASC`, scope)
	if err != nil {
		return nil, appErrors.NewPersistence("entity query failed", err)
	}
	defer rows.Close()

	candidates, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(entities))
	for _, e := range entities {
		wanted[e] = true
	}

	var matched []*domain.KnowledgeNode
	for _, node := range candidates {
		for _, e := range node.Entities {
			if wanted[e] {
				matched = append(matched, node)
				break
			}
		}
		if limit > 0 && len(matched) == limit {
			break
		}
	}
	return matched, nil
}

const nodeSelect = `
	SELECT event_id, content, scope, classifications, entities, topics,
		is_active, is_pinned, importance, connected_to, created_at
	FROM nodes`

func scanNodes(rows *sql.Rows) ([]*domain.KnowledgeNode, error) {
	var nodes []*domain.KnowledgeNode
	for rows.Next() {
		node, err := scanNode(rows.Scan)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func scanScoredNode(rows *sql.Rows) (*domain.KnowledgeNode, float64, error) {
	var distance float64
	node, err := scanNode(func(dest ...any) error {
		return rows.Scan(append(dest, &distance)...)
	})
	return node, distance, err
}

func scanNode(scan func(dest ...any) error) (*domain.KnowledgeNode, error) {
	var node domain.KnowledgeNode
	var classifications, entities, topics, connected sql.NullString
	var isActive, isPinned int
	var createdAt string

	err := scan(&node.EventID, &node.Content, &node.Scope, &classifications,
		&entities, &topics, &isActive, &isPinned, &node.Importance,
		&connected, &createdAt)
	if err != nil {
		return nil, appErrors.NewPersistence("failed to scan node", err)
	}

	node.IsActive = isActive != 0
	node.IsPinned = isPinned != 0
	unmarshalList(classifications, &node.Classifications)
	unmarshalList(entities, &node.Entities)
	unmarshalList(topics, &node.Topics)
	unmarshalList(connected, &node.ConnectedTo)
	node.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &node, nil
}

func unmarshalList(raw sql.NullString, dest *[]string) {
	if raw.Valid && raw.String != "" && raw.String != "null" {
		_ = json.Unmarshal([]byte(raw.String), dest)
	}
}

func nodePassesFilter(node *domain.KnowledgeNode, filter repository.NodeFilter) bool {
	if !node.IsActive && !filter.IncludeQuiet {
		return false
	}
	if node.Importance < filter.MinImportance {
		return false
	}
	if len(filter.Classifications) > 0 {
		found := false
		for _, want := range filter.Classifications {
			for _, have := range node.Classifications {
				if strings.EqualFold(want, have) {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeVector serializes a float32 slice as the little-endian blob format
// sqlite-vec expects.
func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	blob := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func decodeVector(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}
