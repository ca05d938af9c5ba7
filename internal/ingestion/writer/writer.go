package writer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tenantbot/backend/internal/ingestion/chunker"
	"github.com/tenantbot/backend/internal/vector/milvus"
	"github.com/tenantbot/backend/pkg/logger"
	"github.com/tenantbot/backend/pkg/utils"
)

// Embedder is the embedding capability: text in, fixed-dimensionality
// vector out.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is the tenant-scoped index the records land in.
type VectorStore interface {
	EnsureCollection(ctx context.Context, tenantID string) error
	Upsert(ctx context.Context, tenantID string, records []milvus.VectorRecord) (int, error)
}

// Writer embeds chunks one at a time, pacing calls to respect embedding
// rate limits, then bulk-upserts the records into the tenant's index.
type Writer struct {
	embedder   Embedder
	store      VectorStore
	embedDelay time.Duration
}

func New(embedder Embedder, store VectorStore, embedDelay time.Duration) *Writer {
	return &Writer{
		embedder:   embedder,
		store:      store,
		embedDelay: embedDelay,
	}
}

// Embed turns a source's chunks into vector records, preserving chunk
// order. One failed embedding call aborts the whole source.
func (w *Writer) Embed(ctx context.Context, tenantID, runID, sourceName, sourceURL string, chunks []chunker.Chunk) ([]milvus.VectorRecord, error) {
	records := make([]milvus.VectorRecord, 0, len(chunks))

	for i, chunk := range chunks {
		if i > 0 && w.embedDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(w.embedDelay):
			}
		}

		embedding, err := w.embedder.GenerateEmbedding(ctx, chunk.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk %d of %s: %w", chunk.Index, sourceName, err)
		}

		records = append(records, milvus.VectorRecord{
			ID:         utils.VectorID(tenantID, runID, sourceName, chunk.Index),
			Embedding:  embedding,
			Text:       chunk.Text,
			SourceURL:  sourceURL,
			SourceName: sourceName,
			TenantID:   tenantID,
			ChunkIndex: chunk.Index,
			CreatedAt:  time.Now(),
		})
	}

	logger.Debug("Chunks embedded",
		zap.String("tenant_id", tenantID),
		zap.String("source", sourceName),
		zap.Int("count", len(records)),
	)

	return records, nil
}

// Store ensures the tenant's index exists and writes all records. A
// partial batch failure fails the whole write.
func (w *Writer) Store(ctx context.Context, tenantID string, records []milvus.VectorRecord) (int, error) {
	if err := w.store.EnsureCollection(ctx, tenantID); err != nil {
		return 0, fmt.Errorf("failed to ensure index for tenant %s: %w", tenantID, err)
	}

	count, err := w.store.Upsert(ctx, tenantID, records)
	if err != nil {
		return count, fmt.Errorf("failed to store vectors for tenant %s: %w", tenantID, err)
	}

	return count, nil
}
