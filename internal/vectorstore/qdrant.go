package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("supavec.vectorstore.qdrant")

// Payload field names shared by writer and search.
const (
	payloadContent   = "content"
	payloadFileID    = "file_id"
	payloadTeamID    = "team_id"
	payloadSource    = "source"
	payloadDeletedAt = "deleted_at"
)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334 by default, not the HTTP 6333).
	Port int

	// Collection is the collection holding all teams' passages; isolation
	// is enforced through payload filtering, not separate collections.
	Collection string

	// VectorSize is the dimensionality of embeddings and must match the
	// embedding model output.
	VectorSize uint64

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection required", ErrInvalidConfig)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether an error should be retried by the writer.
// Network timeouts and temporary unavailability are transient; invalid
// arguments, not found, and permission errors are not.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore is a Store implementation on Qdrant's native gRPC client.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
}

// NewQdrantStore connects to Qdrant, verifies health, and ensures the
// passage collection exists.
func NewQdrantStore(config QdrantConfig) (*QdrantStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{client: client, config: config}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ensuring collection: %w", err)
	}

	return store, nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// ensureCollection creates the passage collection when missing.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.config.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	return nil
}

// UpsertPassages inserts passages with their precomputed embeddings.
func (s *QdrantStore) UpsertPassages(ctx context.Context, passages []Passage) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.UpsertPassages")
	defer span.End()

	span.SetAttributes(
		attribute.Int("passage_count", len(passages)),
		attribute.String("collection", s.config.Collection),
	)

	if len(passages) == 0 {
		return fmt.Errorf("%w: passages cannot be empty", ErrEmptyPassages)
	}

	points := make([]*qdrant.PointStruct, len(passages))
	for i, p := range passages {
		if len(p.Embedding) != int(s.config.VectorSize) {
			err := fmt.Errorf("passage %d: embedding size %d does not match collection size %d", i, len(p.Embedding), s.config.VectorSize)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		pointID := p.ID
		if pointID == "" {
			pointID = uuid.New().String()
		}

		payload := buildPayload(p)

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectors(p.Embedding...),
			Payload: payload,
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.config.Collection,
		Points:         points,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %d passages: %w", len(points), err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// buildPayload converts a passage into a Qdrant payload map.
func buildPayload(p Passage) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		payloadContent: {Kind: &qdrant.Value_StringValue{StringValue: p.Content}},
		payloadFileID:  {Kind: &qdrant.Value_StringValue{StringValue: p.FileID}},
		payloadTeamID:  {Kind: &qdrant.Value_StringValue{StringValue: p.TeamID}},
		payloadSource:  {Kind: &qdrant.Value_StringValue{StringValue: p.Source}},
	}

	for k, v := range p.Metadata {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		}
	}

	return payload
}

// Search returns up to k live passages for the given file IDs, ordered by
// descending similarity score.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, fileIDs []string, k int, scoreThreshold float32) ([]SearchResult, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("file_count", len(fileIDs)),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(fileIDs) == 0 {
		return nil, fmt.Errorf("file IDs cannot be empty")
	}

	query := &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         liveFileFilter(fileIDs),
	}
	if scoreThreshold > 0 {
		query.ScoreThreshold = qdrant.PtrOf(scoreThreshold)
	}

	results, err := s.client.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", s.config.Collection, err)
	}

	searchResults := make([]SearchResult, len(results))
	for i, point := range results {
		result := SearchResult{Score: point.Score}

		if point.Payload != nil {
			result.Metadata = make(map[string]interface{}, len(point.Payload))
			for key, v := range point.Payload {
				switch val := v.Kind.(type) {
				case *qdrant.Value_StringValue:
					result.Metadata[key] = val.StringValue
					switch key {
					case payloadContent:
						result.Content = val.StringValue
					case payloadFileID:
						result.FileID = val.StringValue
					}
				case *qdrant.Value_IntegerValue:
					result.Metadata[key] = val.IntegerValue
				case *qdrant.Value_DoubleValue:
					result.Metadata[key] = val.DoubleValue
				case *qdrant.Value_BoolValue:
					result.Metadata[key] = val.BoolValue
				}
			}
		}

		searchResults[i] = result
	}

	span.SetAttributes(attribute.Int("results_count", len(searchResults)))
	span.SetStatus(codes.Ok, "success")
	return searchResults, nil
}

// liveFileFilter matches passages of the given files that have no
// deleted_at payload set.
func liveFileFilter(fileIDs []string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: payloadFileID,
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keywords{
								Keywords: &qdrant.RepeatedStrings{Strings: fileIDs},
							},
						},
					},
				},
			},
			{
				ConditionOneOf: &qdrant.Condition_IsEmpty{
					IsEmpty: &qdrant.IsEmptyCondition{Key: payloadDeletedAt},
				},
			},
		},
	}
}

// SoftDeleteByFile stamps deleted_at onto every passage of the file.
func (s *QdrantStore) SoftDeleteByFile(ctx context.Context, fileID string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.SoftDeleteByFile")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.String("file_id", fileID),
	)

	if fileID == "" {
		return fmt.Errorf("file ID cannot be empty")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: s.config.Collection,
		Payload: map[string]*qdrant.Value{
			payloadDeletedAt: {Kind: &qdrant.Value_StringValue{StringValue: now}},
		},
		PointsSelector: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						{
							ConditionOneOf: &qdrant.Condition_Field{
								Field: &qdrant.FieldCondition{
									Key: payloadFileID,
									Match: &qdrant.Match{
										MatchValue: &qdrant.Match_Keyword{Keyword: fileID},
									},
								},
							},
						},
					},
				},
			},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("soft-deleting passages for file %s: %w", fileID, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
