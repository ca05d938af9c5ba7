package milvus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/tenantbot/backend/pkg/logger"
)

// Client wraps a Milvus connection and manages one collection per
// tenant, named "<prefix>_<tenant>". Records are additive: a later run
// for the same source upserts over earlier ids.
type Client struct {
	client           client.Client
	collectionPrefix string
	vectorDim        int
	upsertBatchSize  int
}

type VectorRecord struct {
	ID         string
	Embedding  []float32
	Text       string
	SourceURL  string
	SourceName string
	TenantID   string
	ChunkIndex int
	CreatedAt  time.Time
}

type SearchResult struct {
	ID         string
	Text       string
	SourceURL  string
	SourceName string
	Score      float32
}

func NewClient(endpoint, apiKey, collectionPrefix string, vectorDim, upsertBatchSize int) (*Client, error) {
	cfg := client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	}

	c, err := client.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	if upsertBatchSize <= 0 {
		upsertBatchSize = 100
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection_prefix", collectionPrefix),
		zap.Int("vector_dim", vectorDim),
	)

	return &Client{
		client:           c,
		collectionPrefix: collectionPrefix,
		vectorDim:        vectorDim,
		upsertBatchSize:  upsertBatchSize,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) collectionName(tenantID string) string {
	sanitized := strings.NewReplacer("-", "_", ".", "_").Replace(tenantID)
	return m.collectionPrefix + "_" + sanitized
}

// EnsureCollection creates and loads the tenant's collection on first
// use: cosine-similarity ANN index sized to the embedding dimensionality.
func (m *Client) EnsureCollection(ctx context.Context, tenantID string) error {
	name := m.collectionName(tenantID)

	has, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		return nil
	}

	schema := entity.NewSchema().
		WithName(name).
		WithDescription("tenant knowledge base embeddings").
		WithField(entity.NewField().
			WithName("id").
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(64).
			WithIsPrimaryKey(true)).
		WithField(entity.NewField().
			WithName("embedding").
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(m.vectorDim))).
		WithField(entity.NewField().
			WithName("text").
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(4096)).
		WithField(entity.NewField().
			WithName("source_url").
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(512)).
		WithField(entity.NewField().
			WithName("source_name").
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(256)).
		WithField(entity.NewField().
			WithName("tenant_id").
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(64)).
		WithField(entity.NewField().
			WithName("chunk_index").
			WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().
			WithName("created_at").
			WithDataType(entity.FieldTypeInt64))

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 128)
	if err != nil {
		return fmt.Errorf("failed to build index definition: %w", err)
	}
	if err := m.client.CreateIndex(ctx, name, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded",
		zap.String("collection", name),
		zap.String("tenant_id", tenantID),
	)

	return nil
}

// Upsert writes records in bounded batches. Any batch failure fails the
// whole write; there is no silent partial success.
func (m *Client) Upsert(ctx context.Context, tenantID string, records []VectorRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	name := m.collectionName(tenantID)

	for _, r := range records {
		if r.TenantID != tenantID {
			return 0, fmt.Errorf("record %s has tenant %s, expected %s", r.ID, r.TenantID, tenantID)
		}
	}

	written := 0
	for start := 0; start < len(records); start += m.upsertBatchSize {
		end := start + m.upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		ids := make([]string, len(batch))
		embeddings := make([][]float32, len(batch))
		texts := make([]string, len(batch))
		sourceURLs := make([]string, len(batch))
		sourceNames := make([]string, len(batch))
		tenantIDs := make([]string, len(batch))
		chunkIndexes := make([]int64, len(batch))
		createdAts := make([]int64, len(batch))

		for i, r := range batch {
			ids[i] = r.ID
			embeddings[i] = r.Embedding
			texts[i] = r.Text
			sourceURLs[i] = r.SourceURL
			sourceNames[i] = r.SourceName
			tenantIDs[i] = r.TenantID
			chunkIndexes[i] = int64(r.ChunkIndex)
			createdAts[i] = r.CreatedAt.Unix()
		}

		_, err := m.client.Upsert(
			ctx,
			name,
			"",
			entity.NewColumnVarChar("id", ids),
			entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
			entity.NewColumnVarChar("text", texts),
			entity.NewColumnVarChar("source_url", sourceURLs),
			entity.NewColumnVarChar("source_name", sourceNames),
			entity.NewColumnVarChar("tenant_id", tenantIDs),
			entity.NewColumnInt64("chunk_index", chunkIndexes),
			entity.NewColumnInt64("created_at", createdAts),
		)
		if err != nil {
			return written, fmt.Errorf("failed to upsert batch %d-%d: %w", start, end, err)
		}

		written += len(batch)
	}

	if err := m.client.Flush(ctx, name, false); err != nil {
		return written, fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Vectors upserted",
		zap.String("tenant_id", tenantID),
		zap.Int("count", written),
	)

	return written, nil
}

// Search runs a k-NN query over the tenant's collection and returns
// cosine similarity scores in [0,1] descending.
func (m *Client) Search(ctx context.Context, tenantID string, queryEmbedding []float32, topK int) ([]SearchResult, error) {
	name := m.collectionName(tenantID)

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := m.client.Search(
		ctx,
		name,
		nil,
		"",
		[]string{"id", "text", "source_url", "source_name"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0)
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn("id")
		textCol := sr.Fields.GetColumn("text")
		urlCol := sr.Fields.GetColumn("source_url")
		nameCol := sr.Fields.GetColumn("source_name")

		for i := 0; i < sr.ResultCount; i++ {
			id, _ := idCol.GetAsString(i)
			text, _ := textCol.GetAsString(i)
			sourceURL, _ := urlCol.GetAsString(i)
			sourceName, _ := nameCol.GetAsString(i)

			results = append(results, SearchResult{
				ID:         id,
				Text:       text,
				SourceURL:  sourceURL,
				SourceName: sourceName,
				Score:      sr.Scores[i],
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.String("tenant_id", tenantID),
		zap.Int("top_k", topK),
		zap.Int("results", len(results)),
	)

	return results, nil
}
