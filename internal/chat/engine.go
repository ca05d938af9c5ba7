package chat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tenantbot/backend/internal/cache/redis"
	"github.com/tenantbot/backend/internal/llm"
	"github.com/tenantbot/backend/internal/storage/models"
	"github.com/tenantbot/backend/internal/vector/milvus"
	"github.com/tenantbot/backend/pkg/logger"
)

const defaultTopK = 5

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Searcher interface {
	Search(ctx context.Context, tenantID string, queryEmbedding []float32, topK int) ([]milvus.SearchResult, error)
}

type Generator interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

type SessionStore interface {
	GetTurns(ctx context.Context, tenantID, chatbotID, sessionID string) ([]redis.Turn, error)
	AppendTurns(ctx context.Context, tenantID, chatbotID, sessionID string, turns []redis.Turn, ttl time.Duration) error
	GetDefaultMemoryDuration(ctx context.Context, tenantID string) (int, error)
}

type Recorder interface {
	InsertQueryStat(ctx context.Context, stat *models.QueryStat) error
}

// ChatbotConfig carries the per-chatbot generation settings. Zero
// values fall back to the service-wide LLM configuration.
type ChatbotConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

type Request struct {
	TenantID  string
	ChatbotID string
	SessionID string
	Query     string
	Chatbot   ChatbotConfig
	// MaxDocuments caps retrieval; zero means the default.
	MaxDocuments int
}

type Response struct {
	Answer    string
	Grounded  bool
	Citations []Citation
}

type Citation struct {
	SourceName string
	SourceURL  string
	Score      float32
}

// Engine answers chat queries against a tenant's vector index, keeping
// per-session history in Redis.
type Engine struct {
	embedder Embedder
	searcher Searcher
	gen      Generator
	sessions SessionStore
	recorder Recorder

	relevanceThreshold float32
	historyTurns       int
	apologyMessage     string
	defaultMemoryMin   int
}

func NewEngine(
	embedder Embedder,
	searcher Searcher,
	gen Generator,
	sessions SessionStore,
	recorder Recorder,
	relevanceThreshold float32,
	historyTurns int,
	apologyMessage string,
	defaultMemoryMin int,
) *Engine {
	return &Engine{
		embedder:           embedder,
		searcher:           searcher,
		gen:                gen,
		sessions:           sessions,
		recorder:           recorder,
		relevanceThreshold: relevanceThreshold,
		historyTurns:       historyTurns,
		apologyMessage:     apologyMessage,
		defaultMemoryMin:   defaultMemoryMin,
	}
}

// Answer resolves one query. Generation always runs over whatever
// context retrieval produced, possibly none; the apology message is
// reserved for a failed generation call.
func (e *Engine) Answer(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if req.Query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if req.TenantID == "" || req.SessionID == "" {
		return nil, fmt.Errorf("tenantId and sessionId are required")
	}

	// Retrieval failures degrade to an empty context instead of failing
	// the request; the caller always gets an answer.
	relevant := e.retrieve(ctx, req)

	history, err := e.sessions.GetTurns(ctx, req.TenantID, req.ChatbotID, req.SessionID)
	if err != nil {
		logger.Warn("Failed to load session history",
			zap.String("tenant_id", req.TenantID),
			zap.Error(err),
		)
		history = nil
	}
	if len(history) > e.historyTurns {
		history = history[len(history)-e.historyTurns:]
	}

	var resp *Response
	if answer, genErr := e.generate(ctx, req, relevant, history); genErr != nil {
		logger.Error("Generation failed, answering with apology",
			zap.String("tenant_id", req.TenantID),
			zap.Error(genErr),
		)
		resp = &Response{Answer: e.apologyMessage, Grounded: false}
	} else {
		resp = &Response{
			Answer:    answer,
			Grounded:  len(relevant) > 0,
			Citations: citations(relevant),
		}
	}

	e.persistTurns(ctx, req, resp.Answer)
	e.recordStat(req, len(relevant), time.Since(start))

	return resp, nil
}

func (e *Engine) retrieve(ctx context.Context, req Request) []milvus.SearchResult {
	queryEmbedding, err := e.embedder.GenerateEmbedding(ctx, req.Query)
	if err != nil {
		logger.Warn("Failed to embed query",
			zap.String("tenant_id", req.TenantID),
			zap.Error(err),
		)
		return nil
	}

	topK := req.MaxDocuments
	if topK <= 0 {
		topK = defaultTopK
	}

	results, err := e.searcher.Search(ctx, req.TenantID, queryEmbedding, topK)
	if err != nil {
		logger.Warn("Vector search failed",
			zap.String("tenant_id", req.TenantID),
			zap.Error(err),
		)
		return nil
	}

	relevant := make([]milvus.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Score >= e.relevanceThreshold {
			relevant = append(relevant, r)
		}
	}
	return relevant
}

func (e *Engine) generate(ctx context.Context, req Request, relevant []milvus.SearchResult, history []redis.Turn) (string, error) {
	completion, err := e.gen.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildUserPrompt(req.Query, relevant, history),
		Model:        req.Chatbot.Model,
		Temperature:  req.Chatbot.Temperature,
		MaxTokens:    req.Chatbot.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	return completion.Content, nil
}

func (e *Engine) persistTurns(ctx context.Context, req Request, answer string) {
	minutes, err := e.sessions.GetDefaultMemoryDuration(ctx, req.TenantID)
	if err != nil || minutes <= 0 {
		minutes = e.defaultMemoryMin
	}

	now := time.Now()
	turns := []redis.Turn{
		{Role: "user", Content: req.Query, Timestamp: now},
		{Role: "assistant", Content: answer, Timestamp: now},
	}
	ttl := time.Duration(minutes) * time.Minute

	if err := e.sessions.AppendTurns(ctx, req.TenantID, req.ChatbotID, req.SessionID, turns, ttl); err != nil {
		logger.Warn("Failed to persist session turns",
			zap.String("tenant_id", req.TenantID),
			zap.String("session_id", req.SessionID),
			zap.Error(err),
		)
	}
}

// recordStat stores query analytics without the query text. Failures
// never affect the answer path.
func (e *Engine) recordStat(req Request, resultCount int, latency time.Duration) {
	if e.recorder == nil {
		return
	}
	stat := &models.QueryStat{
		TenantID:    req.TenantID,
		ChatbotID:   req.ChatbotID,
		QueryLength: len(req.Query),
		ResultCount: resultCount,
		LatencyMS:   int(latency.Milliseconds()),
		CreatedAt:   time.Now(),
	}
	if err := e.recorder.InsertQueryStat(context.Background(), stat); err != nil {
		logger.Warn("Failed to record query stat", zap.Error(err))
	}
}

func citations(results []milvus.SearchResult) []Citation {
	out := make([]Citation, 0, len(results))
	for _, r := range results {
		out = append(out, Citation{
			SourceName: r.SourceName,
			SourceURL:  r.SourceURL,
			Score:      r.Score,
		})
	}
	return out
}
