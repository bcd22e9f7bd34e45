// Package ddb implements the knowledge store on AWS DynamoDB using a
// single-table layout. This is the only layer that should have knowledge of
// DynamoDB specifics.
//
// Layout:
//
//	EVENT#<id>  / METADATA        source event
//	EVENT#<id>  / ATTN#<seq>      attention event targeting the source
//	UNDR#<id>   / METADATA        understanding event
//	NODE#<id>   / METADATA        projection row, GSI1PK = SCOPE#<scope>
//	SEQ#ATTN    / COUNTER         monotonic attention sequence counter
package ddb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"mnemo-backend/internal/domain"
	"mnemo-backend/internal/embedding"
	"mnemo-backend/internal/repository"
	appErrors "mnemo-backend/pkg/errors"
)

// ddbSourceEvent is the shape of a source event item.
type ddbSourceEvent struct {
	PK              string    `dynamodbav:"PK"`
	SK              string    `dynamodbav:"SK"`
	EventID         string    `dynamodbav:"EventID"`
	Kind            string    `dynamodbav:"Kind"`
	Content         string    `dynamodbav:"Content"`
	Scope           string    `dynamodbav:"Scope"`
	Classifications []string  `dynamodbav:"Classifications,omitempty"`
	Entities        []string  `dynamodbav:"Entities,omitempty"`
	Topics          []string  `dynamodbav:"Topics,omitempty"`
	OriginSessionID string    `dynamodbav:"OriginSessionID,omitempty"`
	ActorID         string    `dynamodbav:"ActorID,omitempty"`
	ActorKind       string    `dynamodbav:"ActorKind,omitempty"`
	Embedding       []float32 `dynamodbav:"Embedding,omitempty"`
	CreatedAt       string    `dynamodbav:"CreatedAt"`
}

// ddbAttentionEvent is the shape of an attention event item.
type ddbAttentionEvent struct {
	PK            string   `dynamodbav:"PK"`
	SK            string   `dynamodbav:"SK"`
	AttentionID   string   `dynamodbav:"AttentionID"`
	Kind          string   `dynamodbav:"Kind"`
	TargetEventID string   `dynamodbav:"TargetEventID"`
	Reason        string   `dynamodbav:"Reason,omitempty"`
	NewImportance *float64 `dynamodbav:"NewImportance,omitempty"`
	ActorID       string   `dynamodbav:"ActorID,omitempty"`
	ActorKind     string   `dynamodbav:"ActorKind,omitempty"`
	Seq           int64    `dynamodbav:"Seq"`
	CreatedAt     string   `dynamodbav:"CreatedAt"`
}

// ddbUnderstandingEvent is the shape of an understanding event item.
type ddbUnderstandingEvent struct {
	PK              string   `dynamodbav:"PK"`
	SK              string   `dynamodbav:"SK"`
	UnderstandingID string   `dynamodbav:"UnderstandingID"`
	Kind            string   `dynamodbav:"Kind"`
	Content         string   `dynamodbav:"Content"`
	SourceEventIDs  []string `dynamodbav:"SourceEventIDs,omitempty"`
	ActorID         string   `dynamodbav:"ActorID,omitempty"`
	ActorKind       string   `dynamodbav:"ActorKind,omitempty"`
	CreatedAt       string   `dynamodbav:"CreatedAt"`
}

// ddbNode is the shape of a projection item. The embedding is duplicated
// here from the source event so scope queries return everything vector
// ranking needs in one round trip.
type ddbNode struct {
	PK              string    `dynamodbav:"PK"`
	SK              string    `dynamodbav:"SK"`
	GSI1PK          string    `dynamodbav:"GSI1PK"`
	GSI1SK          string    `dynamodbav:"GSI1SK"`
	EventID         string    `dynamodbav:"EventID"`
	Content         string    `dynamodbav:"Content"`
	Scope           string    `dynamodbav:"Scope"`
	Classifications []string  `dynamodbav:"Classifications,omitempty"`
	Entities        []string  `dynamodbav:"Entities,omitempty"`
	Topics          []string  `dynamodbav:"Topics,omitempty"`
	IsActive        bool      `dynamodbav:"IsActive"`
	IsPinned        bool      `dynamodbav:"IsPinned"`
	Importance      float64   `dynamodbav:"Importance"`
	ConnectedTo     []string  `dynamodbav:"ConnectedTo,omitempty"`
	Embedding       []float32 `dynamodbav:"Embedding,omitempty"`
	CreatedAt       string    `dynamodbav:"CreatedAt"`
}

// Store is the DynamoDB-backed KnowledgeStore.
type Store struct {
	dbClient  *dynamodb.Client
	tableName string
	indexName string
}

// NewStore creates a DynamoDB knowledge store. indexName is the GSI keyed by
// GSI1PK/GSI1SK used for scope queries.
func NewStore(dbClient *dynamodb.Client, tableName, indexName string) *Store {
	if indexName == "" {
		indexName = "GSI1"
	}
	return &Store{dbClient: dbClient, tableName: tableName, indexName: indexName}
}

func eventPK(id string) string { return "EVENT#" + id }
func nodePK(id string) string  { return "NODE#" + id }
func scopePK(scope string) string {
	return "SCOPE#" + scope
}

// SaveSourceEvent appends an immutable source event.
func (s *Store) SaveSourceEvent(ctx context.Context, ev *domain.SourceEvent) error {
	item, err := attributevalue.MarshalMap(ddbSourceEvent{
		PK: eventPK(ev.ID), SK: "METADATA",
		EventID: ev.ID, Kind: string(ev.Kind), Content: ev.Content, Scope: ev.Scope,
		Classifications: ev.Metadata.Classifications,
		Entities:        ev.Metadata.Entities,
		Topics:          ev.Metadata.Topics,
		OriginSessionID: ev.Metadata.OriginSessionID,
		ActorID:         ev.Actor.ID, ActorKind: string(ev.Actor.Kind),
		Embedding: ev.Embedding,
		CreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return appErrors.NewInternal("failed to marshal source event item", err)
	}

	_, err = s.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return appErrors.NewPersistence("put item failed for source event", err)
	}
	return nil
}

// SaveAttentionEvent appends an attention event under its target's partition.
// The sequence number comes from an atomic counter item, so ordering among
// same-timestamp events is total.
func (s *Store) SaveAttentionEvent(ctx context.Context, ev *domain.AttentionEvent) error {
	seq, err := s.nextSeq(ctx)
	if err != nil {
		return err
	}
	ev.Seq = seq

	item, err := attributevalue.MarshalMap(ddbAttentionEvent{
		PK: eventPK(ev.TargetEventID), SK: fmt.Sprintf("ATTN#%020d", seq),
		AttentionID: ev.ID, Kind: string(ev.Kind), TargetEventID: ev.TargetEventID,
		Reason: ev.Reason, NewImportance: ev.NewImportance,
		ActorID: ev.Actor.ID, ActorKind: string(ev.Actor.Kind),
		Seq:       seq,
		CreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return appErrors.NewInternal("failed to marshal attention event item", err)
	}

	_, err = s.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return appErrors.NewPersistence("put item failed for attention event", err)
	}
	return nil
}

func (s *Store) nextSeq(ctx context.Context) (int64, error) {
	result, err := s.dbClient.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "SEQ#ATTN"},
			"SK": &types.AttributeValueMemberS{Value: "COUNTER"},
		},
		UpdateExpression: aws.String("ADD Seq :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, appErrors.NewPersistence("failed to advance attention sequence", err)
	}
	seqAttr, ok := result.Attributes["Seq"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, appErrors.NewPersistence("sequence counter returned no value", nil)
	}
	seq, err := strconv.ParseInt(seqAttr.Value, 10, 64)
	if err != nil {
		return 0, appErrors.NewInternal("failed to parse sequence counter", err)
	}
	return seq, nil
}

// SaveUnderstandingEvent appends a derived annotation.
func (s *Store) SaveUnderstandingEvent(ctx context.Context, ev *domain.UnderstandingEvent) error {
	item, err := attributevalue.MarshalMap(ddbUnderstandingEvent{
		PK: "UNDR#" + ev.ID, SK: "METADATA",
		UnderstandingID: ev.ID, Kind: string(ev.Kind), Content: ev.Content,
		SourceEventIDs: ev.SourceEventIDs,
		ActorID:        ev.Actor.ID, ActorKind: string(ev.Actor.Kind),
		CreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return appErrors.NewInternal("failed to marshal understanding event item", err)
	}
	_, err = s.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return appErrors.NewPersistence("put item failed for understanding event", err)
	}
	return nil
}

// FindSourceEvent retrieves a source event by id, or nil when absent.
func (s *Store) FindSourceEvent(ctx context.Context, id string) (*domain.SourceEvent, error) {
	result, err := s.dbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: eventPK(id)},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
	})
	if err != nil {
		return nil, appErrors.NewPersistence("failed to get source event", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var item ddbSourceEvent
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, appErrors.NewInternal("failed to unmarshal source event item", err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, item.CreatedAt)
	return &domain.SourceEvent{
		ID:      item.EventID,
		Kind:    domain.EventKind(item.Kind),
		Content: item.Content,
		Scope:   item.Scope,
		Metadata: domain.Metadata{
			Classifications: item.Classifications,
			Entities:        item.Entities,
			Topics:          item.Topics,
			OriginSessionID: item.OriginSessionID,
		},
		Actor:     domain.Actor{ID: item.ActorID, Kind: domain.ActorKind(item.ActorKind)},
		Embedding: item.Embedding,
		CreatedAt: createdAt,
	}, nil
}

// ListAttentionEvents returns attention events targeting the event, in
// sequence order via the sort key.
func (s *Store) ListAttentionEvents(ctx context.Context, targetEventID string) ([]*domain.AttentionEvent, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(eventPK(targetEventID))).
		And(expression.Key("SK").BeginsWith("ATTN#"))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.NewInternal("failed to build attention query", err)
	}

	result, err := s.dbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, appErrors.NewPersistence("failed to query attention events", err)
	}

	var events []*domain.AttentionEvent
	for _, raw := range result.Items {
		var item ddbAttentionEvent
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, appErrors.NewInternal("failed to unmarshal attention event item", err)
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, item.CreatedAt)
		events = append(events, &domain.AttentionEvent{
			ID:            item.AttentionID,
			Kind:          domain.AttentionKind(item.Kind),
			TargetEventID: item.TargetEventID,
			Reason:        item.Reason,
			NewImportance: item.NewImportance,
			Actor:         domain.Actor{ID: item.ActorID, Kind: domain.ActorKind(item.ActorKind)},
			Seq:           item.Seq,
			CreatedAt:     createdAt,
		})
	}
	return events, nil
}

// AttachEmbedding writes the embedding onto both the event item and its
// projection item.
func (s *Store) AttachEmbedding(ctx context.Context, eventID string, emb []float32) error {
	vector, err := attributevalue.Marshal(emb)
	if err != nil {
		return appErrors.NewInternal("failed to marshal embedding", err)
	}

	_, err = s.dbClient.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: eventPK(eventID)},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
		UpdateExpression:          aws.String("SET Embedding = :e"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":e": vector},
		ConditionExpression:       aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		return appErrors.NewPersistence("failed to attach embedding to event", err)
	}

	// The projection item may not exist yet if the initial upsert was
	// absorbed; tolerate that.
	_, err = s.dbClient.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: nodePK(eventID)},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
		UpdateExpression:          aws.String("SET Embedding = :e"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":e": vector},
		ConditionExpression:       aws.String("attribute_exists(PK)"),
	})
	if err != nil && !isConditionalCheckFailed(err) {
		return appErrors.NewPersistence("failed to attach embedding to node", err)
	}
	return nil
}

// UpsertProjection writes the recomputed projection item. An existing
// connection list survives when the incoming node carries none, since
// connections are maintained by the graph linker rather than the fold.
func (s *Store) UpsertProjection(ctx context.Context, node *domain.KnowledgeNode) error {
	existing, err := s.FindNode(ctx, node.EventID)
	if err != nil {
		return err
	}

	connectedTo := node.ConnectedTo
	var embedding []float32
	if existing != nil {
		if len(connectedTo) == 0 {
			connectedTo = existing.ConnectedTo
		}
	}
	if ev, err := s.FindSourceEvent(ctx, node.EventID); err == nil && ev != nil {
		embedding = ev.Embedding
	}

	item, err := attributevalue.MarshalMap(ddbNode{
		PK: nodePK(node.EventID), SK: "METADATA",
		GSI1PK: scopePK(node.Scope),
		GSI1SK: fmt.Sprintf("CREATED#%s#%s", node.CreatedAt.UTC().Format(time.RFC3339Nano), node.EventID),
		EventID: node.EventID, Content: node.Content, Scope: node.Scope,
		Classifications: node.Classifications,
		Entities:        node.Entities,
		Topics:          node.Topics,
		IsActive:        node.IsActive, IsPinned: node.IsPinned,
		Importance:  node.Importance,
		ConnectedTo: connectedTo,
		Embedding:   embedding,
		CreatedAt:   node.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return appErrors.NewInternal("failed to marshal node item", err)
	}

	_, err = s.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return appErrors.NewPersistence("put item failed for projection", err)
	}
	return nil
}

// FindNode retrieves a projection by event id, or nil when absent.
func (s *Store) FindNode(ctx context.Context, eventID string) (*domain.KnowledgeNode, error) {
	result, err := s.dbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: nodePK(eventID)},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
	})
	if err != nil {
		return nil, appErrors.NewPersistence("failed to get node", err)
	}
	if result.Item == nil {
		return nil, nil
	}
	node, _, err := unmarshalNode(result.Item)
	return node, err
}

// UpdateConnections replaces the connection list on a projection item.
func (s *Store) UpdateConnections(ctx context.Context, eventID string, connectedTo []string) error {
	connections, err := attributevalue.Marshal(connectedTo)
	if err != nil {
		return appErrors.NewInternal("failed to marshal connections", err)
	}
	_, err = s.dbClient.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: nodePK(eventID)},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
		UpdateExpression:          aws.String("SET ConnectedTo = :c"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":c": connections},
		ConditionExpression:       aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return appErrors.NewNotFound("node not found: " + eventID)
		}
		return appErrors.NewPersistence("failed to update connections", err)
	}
	return nil
}

// VectorSearch queries the scope partition on the GSI and ranks by cosine
// similarity in the adapter. DynamoDB has no vector index, so ranking over
// the scope's embedded nodes happens here.
func (s *Store) VectorSearch(ctx context.Context, scope string, query []float32, filter repository.NodeFilter) ([]repository.ScoredNode, error) {
	nodes, embeddings, err := s.queryScope(ctx, scope)
	if err != nil {
		return nil, err
	}

	var scored []repository.ScoredNode
	for i, node := range nodes {
		if len(embeddings[i]) == 0 {
			continue
		}
		if !nodePassesFilter(node, filter) {
			continue
		}
		scored = append(scored, repository.ScoredNode{
			Node:       node,
			Similarity: embedding.Cosine(query, embeddings[i]),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if filter.Limit > 0 && len(scored) > filter.Limit {
		scored = scored[:filter.Limit]
	}
	return scored, nil
}

// SubstringSearch returns in-scope nodes whose content contains pattern.
func (s *Store) SubstringSearch(ctx context.Context, scope, pattern string, caseSensitive bool, limit int) ([]*domain.KnowledgeNode, error) {
	nodes, _, err := s.queryScope(ctx, scope)
	if err != nil {
		return nil, err
	}

	needle := pattern
	var matched []*domain.KnowledgeNode
	for _, node := range nodes {
		haystack := node.Content
		if !caseSensitive {
			haystack = strings.ToLower(haystack)
			needle = strings.ToLower(pattern)
		}
		if strings.Contains(haystack, needle) {
			matched = append(matched, node)
			if limit > 0 && len(matched) == limit {
				break
			}
		}
	}
	return matched, nil
}

// FindNodesByEntities returns active in-scope nodes sharing at least one
// entity, oldest first (the GSI sort key is creation-ordered).
func (s *Store) FindNodesByEntities(ctx context.Context, scope string, entities []string, limit int) ([]*domain.KnowledgeNode, error) {
	nodes, _, err := s.queryScope(ctx, scope)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(entities))
	for _, e := range entities {
		wanted[e] = true
	}

	var matched []*domain.KnowledgeNode
	for _, node := range nodes {
		if !node.IsActive {
			continue
		}
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

func (s *Store) queryScope(ctx context.Context, scope string) ([]*domain.KnowledgeNode, [][]float32, error) {
	var nodes []*domain.KnowledgeNode
	var embeddings [][]float32

	keyCond := expression.Key("GSI1PK").Equal(expression.Value(scopePK(scope)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, nil, appErrors.NewInternal("failed to build scope query", err)
	}

	paginator := dynamodb.NewQueryPaginator(s.dbClient, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(s.indexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, nil, appErrors.NewPersistence("failed to query scope page", err)
		}
		for _, raw := range page.Items {
			node, emb, err := unmarshalNode(raw)
			if err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, node)
			embeddings = append(embeddings, emb)
		}
	}
	return nodes, embeddings, nil
}

func unmarshalNode(raw map[string]types.AttributeValue) (*domain.KnowledgeNode, []float32, error) {
	var item ddbNode
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		return nil, nil, appErrors.NewInternal("failed to unmarshal node item", err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, item.CreatedAt)
	return &domain.KnowledgeNode{
		EventID:         item.EventID,
		Content:         item.Content,
		Scope:           item.Scope,
		Classifications: item.Classifications,
		Entities:        item.Entities,
		Topics:          item.Topics,
		IsActive:        item.IsActive,
		IsPinned:        item.IsPinned,
		Importance:      item.Importance,
		ConnectedTo:     item.ConnectedTo,
		CreatedAt:       createdAt,
	}, item.Embedding, nil
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

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
