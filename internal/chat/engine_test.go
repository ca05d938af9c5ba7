package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantbot/backend/internal/cache/redis"
	"github.com/tenantbot/backend/internal/llm"
	"github.com/tenantbot/backend/internal/storage/models"
	"github.com/tenantbot/backend/internal/vector/milvus"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeSearcher struct {
	results []milvus.SearchResult
	err     error

	gotTenant string
	gotTopK   int
}

func (f *fakeSearcher) Search(ctx context.Context, tenantID string, queryEmbedding []float32, topK int) ([]milvus.SearchResult, error) {
	f.gotTenant = tenantID
	f.gotTopK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeGenerator struct {
	answer    string
	err       error
	gotReq    llm.CompletionRequest
	gotPrompt string
	calls     int
}

func (f *fakeGenerator) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	f.gotReq = req
	f.gotPrompt = req.UserPrompt
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.answer}, nil
}

type fakeSessions struct {
	turns      []redis.Turn
	appended   []redis.Turn
	gotTTL     time.Duration
	getErr     error
	appendErr  error
	memoryMin  int
}

func (f *fakeSessions) GetTurns(ctx context.Context, tenantID, chatbotID, sessionID string) ([]redis.Turn, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.turns, nil
}

func (f *fakeSessions) AppendTurns(ctx context.Context, tenantID, chatbotID, sessionID string, turns []redis.Turn, ttl time.Duration) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, turns...)
	f.gotTTL = ttl
	return nil
}

func (f *fakeSessions) GetDefaultMemoryDuration(ctx context.Context, tenantID string) (int, error) {
	if f.memoryMin == 0 {
		return 0, errors.New("not set")
	}
	return f.memoryMin, nil
}

type fakeRecorder struct {
	stats []models.QueryStat
}

func (f *fakeRecorder) InsertQueryStat(ctx context.Context, stat *models.QueryStat) error {
	f.stats = append(f.stats, *stat)
	return nil
}

const apology = "I'm sorry, I can't help with that right now."

func newTestEngine(searcher *fakeSearcher, gen *fakeGenerator, sessions *fakeSessions, recorder *fakeRecorder) *Engine {
	return NewEngine(&fakeEmbedder{}, searcher, gen, sessions, recorder, 0.5, 10, apology, 60)
}

func chatRequest() Request {
	return Request{
		TenantID:  "tenant-a",
		ChatbotID: "bot-1",
		SessionID: "sess-1",
		Query:     "What are your opening hours?",
	}
}

func TestAnswer_GroundedResponse(t *testing.T) {
	searcher := &fakeSearcher{results: []milvus.SearchResult{
		{Text: "We are open 9-5.", SourceName: "site", Score: 0.9},
		{Text: "Closed on Sundays.", SourceName: "site", Score: 0.7},
	}}
	gen := &fakeGenerator{answer: "We are open 9 to 5, closed Sundays."}
	sessions := &fakeSessions{}
	recorder := &fakeRecorder{}

	engine := newTestEngine(searcher, gen, sessions, recorder)

	resp, err := engine.Answer(context.Background(), chatRequest())
	require.NoError(t, err)

	assert.True(t, resp.Grounded)
	assert.Equal(t, "We are open 9 to 5, closed Sundays.", resp.Answer)
	require.Len(t, resp.Citations, 2)
	assert.Equal(t, "tenant-a", searcher.gotTenant)

	assert.Contains(t, gen.gotPrompt, "We are open 9-5.")
	assert.Contains(t, gen.gotPrompt, "What are your opening hours?")
}

func TestAnswer_BelowThresholdExcludedButGenerationStillRuns(t *testing.T) {
	searcher := &fakeSearcher{results: []milvus.SearchResult{
		{Text: "Unrelated text.", Score: 0.3},
		{Text: "Also unrelated.", Score: 0.49},
	}}
	gen := &fakeGenerator{answer: "I don't know based on the available material."}
	sessions := &fakeSessions{}

	engine := newTestEngine(searcher, gen, sessions, &fakeRecorder{})

	resp, err := engine.Answer(context.Background(), chatRequest())
	require.NoError(t, err)

	// A conversational query with no relevant passages still gets a
	// generated answer over an empty context, just an ungrounded one.
	assert.Equal(t, 1, gen.calls)
	assert.NotContains(t, gen.gotPrompt, "Unrelated text.")
	assert.NotContains(t, gen.gotPrompt, "Also unrelated.")
	assert.False(t, resp.Grounded)
	assert.Equal(t, "I don't know based on the available material.", resp.Answer)
	assert.Empty(t, resp.Citations)
}

func TestAnswer_ThresholdIsInclusive(t *testing.T) {
	searcher := &fakeSearcher{results: []milvus.SearchResult{
		{Text: "Exactly at the line.", Score: 0.5},
	}}
	gen := &fakeGenerator{answer: "grounded"}

	engine := newTestEngine(searcher, gen, &fakeSessions{}, &fakeRecorder{})

	resp, err := engine.Answer(context.Background(), chatRequest())
	require.NoError(t, err)
	assert.True(t, resp.Grounded)
}

func TestAnswer_HistoryLimitedToLastTurns(t *testing.T) {
	var turns []redis.Turn
	for i := 0; i < 14; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		turns = append(turns, redis.Turn{Role: role, Content: strings.Repeat("x", 1) + string(rune('a'+i))})
	}

	searcher := &fakeSearcher{results: []milvus.SearchResult{{Text: "ctx", Score: 0.8}}}
	gen := &fakeGenerator{answer: "ok"}
	sessions := &fakeSessions{turns: turns}

	engine := newTestEngine(searcher, gen, sessions, &fakeRecorder{})

	_, err := engine.Answer(context.Background(), chatRequest())
	require.NoError(t, err)

	// Oldest four turns fall outside the 10-turn window.
	assert.NotContains(t, gen.gotPrompt, "xa")
	assert.NotContains(t, gen.gotPrompt, "xd")
	assert.Contains(t, gen.gotPrompt, "xe")
	assert.Contains(t, gen.gotPrompt, "xn")
}

func TestAnswer_AppendsTurnsWithTenantTTL(t *testing.T) {
	searcher := &fakeSearcher{results: []milvus.SearchResult{{Text: "ctx", Score: 0.8}}}
	gen := &fakeGenerator{answer: "the answer"}
	sessions := &fakeSessions{memoryMin: 30}

	engine := newTestEngine(searcher, gen, sessions, &fakeRecorder{})

	_, err := engine.Answer(context.Background(), chatRequest())
	require.NoError(t, err)

	require.Len(t, sessions.appended, 2)
	assert.Equal(t, "user", sessions.appended[0].Role)
	assert.Equal(t, "What are your opening hours?", sessions.appended[0].Content)
	assert.Equal(t, "assistant", sessions.appended[1].Role)
	assert.Equal(t, "the answer", sessions.appended[1].Content)
	assert.Equal(t, 30*time.Minute, sessions.gotTTL)
}

func TestAnswer_FallsBackToDefaultTTL(t *testing.T) {
	searcher := &fakeSearcher{results: []milvus.SearchResult{{Text: "ctx", Score: 0.8}}}
	sessions := &fakeSessions{}

	engine := newTestEngine(searcher, &fakeGenerator{answer: "ok"}, sessions, &fakeRecorder{})

	_, err := engine.Answer(context.Background(), chatRequest())
	require.NoError(t, err)
	assert.Equal(t, 60*time.Minute, sessions.gotTTL)
}

func TestAnswer_ApologyTurnIsStillPersisted(t *testing.T) {
	searcher := &fakeSearcher{}
	sessions := &fakeSessions{}

	engine := newTestEngine(searcher, &fakeGenerator{err: errors.New("model down")}, sessions, &fakeRecorder{})

	resp, err := engine.Answer(context.Background(), chatRequest())
	require.NoError(t, err)

	require.Len(t, sessions.appended, 2)
	assert.Equal(t, apology, sessions.appended[1].Content)
	assert.Equal(t, resp.Answer, sessions.appended[1].Content)
}

func TestAnswer_HistoryLoadFailureIsNotFatal(t *testing.T) {
	searcher := &fakeSearcher{results: []milvus.SearchResult{{Text: "ctx", Score: 0.8}}}
	sessions := &fakeSessions{getErr: errors.New("redis down")}

	engine := newTestEngine(searcher, &fakeGenerator{answer: "ok"}, sessions, &fakeRecorder{})

	resp, err := engine.Answer(context.Background(), chatRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Answer)
}

func TestAnswer_EmbedFailureDegradesToEmptyContext(t *testing.T) {
	gen := &fakeGenerator{answer: "answered without retrieval"}
	engine := NewEngine(
		&fakeEmbedder{err: errors.New("embedding down")},
		&fakeSearcher{}, gen, &fakeSessions{}, &fakeRecorder{},
		0.5, 10, apology, 60,
	)

	resp, err := engine.Answer(context.Background(), chatRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, "answered without retrieval", resp.Answer)
	assert.False(t, resp.Grounded)
	assert.Empty(t, resp.Citations)
}

func TestAnswer_SearchFailureDegradesToEmptyContext(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("index gone")}
	gen := &fakeGenerator{answer: "answered without retrieval"}
	engine := newTestEngine(searcher, gen, &fakeSessions{}, &fakeRecorder{})

	resp, err := engine.Answer(context.Background(), chatRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, "answered without retrieval", resp.Answer)
	assert.False(t, resp.Grounded)
}

func TestAnswer_GenerationFailureAnswersWithApology(t *testing.T) {
	searcher := &fakeSearcher{results: []milvus.SearchResult{{Text: "ctx", Score: 0.9}}}
	gen := &fakeGenerator{err: errors.New("model overloaded")}
	sessions := &fakeSessions{}

	engine := newTestEngine(searcher, gen, sessions, &fakeRecorder{})

	resp, err := engine.Answer(context.Background(), chatRequest())
	require.NoError(t, err)
	assert.Equal(t, apology, resp.Answer)
	assert.False(t, resp.Grounded)
	assert.Equal(t, 1, gen.calls)

	// The degraded answer still becomes part of the session.
	require.Len(t, sessions.appended, 2)
	assert.Equal(t, apology, sessions.appended[1].Content)
}

func TestAnswer_ChatbotConfigReachesGenerator(t *testing.T) {
	searcher := &fakeSearcher{results: []milvus.SearchResult{{Text: "ctx", Score: 0.8}}}
	gen := &fakeGenerator{answer: "ok"}

	engine := newTestEngine(searcher, gen, &fakeSessions{}, &fakeRecorder{})

	req := chatRequest()
	req.Chatbot = ChatbotConfig{Model: "gpt-4o-mini", Temperature: 0.7, MaxTokens: 512}

	_, err := engine.Answer(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", gen.gotReq.Model)
	assert.Equal(t, float32(0.7), gen.gotReq.Temperature)
	assert.Equal(t, 512, gen.gotReq.MaxTokens)
}

func TestAnswer_MaxDocumentsControlsTopK(t *testing.T) {
	searcher := &fakeSearcher{results: []milvus.SearchResult{{Text: "ctx", Score: 0.8}}}
	engine := newTestEngine(searcher, &fakeGenerator{answer: "ok"}, &fakeSessions{}, &fakeRecorder{})

	req := chatRequest()
	req.MaxDocuments = 12
	_, err := engine.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 12, searcher.gotTopK)

	req.MaxDocuments = 0
	_, err = engine.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, defaultTopK, searcher.gotTopK)
}

func TestAnswer_RecordsQueryLengthNotText(t *testing.T) {
	searcher := &fakeSearcher{results: []milvus.SearchResult{{Text: "ctx", Score: 0.8}}}
	recorder := &fakeRecorder{}

	engine := newTestEngine(searcher, &fakeGenerator{answer: "ok"}, &fakeSessions{}, recorder)

	req := chatRequest()
	_, err := engine.Answer(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, recorder.stats, 1)
	assert.Equal(t, len(req.Query), recorder.stats[0].QueryLength)
	assert.Equal(t, 1, recorder.stats[0].ResultCount)
	assert.Equal(t, "tenant-a", recorder.stats[0].TenantID)
}

func TestAnswer_EmptyQueryRejected(t *testing.T) {
	engine := newTestEngine(&fakeSearcher{}, &fakeGenerator{}, &fakeSessions{}, &fakeRecorder{})

	req := chatRequest()
	req.Query = ""

	_, err := engine.Answer(context.Background(), req)
	assert.Error(t, err)
}

func TestAnswer_MissingSessionRejected(t *testing.T) {
	engine := newTestEngine(&fakeSearcher{}, &fakeGenerator{}, &fakeSessions{}, &fakeRecorder{})

	req := chatRequest()
	req.SessionID = ""

	_, err := engine.Answer(context.Background(), req)
	assert.Error(t, err)
}

func TestBuildUserPrompt_HistoryOldestFirst(t *testing.T) {
	history := []redis.Turn{
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "first answer"},
		{Role: "user", Content: "second question"},
	}
	relevant := []milvus.SearchResult{{Text: "context passage", SourceName: "site"}}

	prompt := buildUserPrompt("current question", relevant, history)

	firstIdx := strings.Index(prompt, "first question")
	secondIdx := strings.Index(prompt, "second question")
	require.GreaterOrEqual(t, firstIdx, 0)
	require.GreaterOrEqual(t, secondIdx, 0)
	assert.Less(t, firstIdx, secondIdx, "history must read oldest first")

	assert.Contains(t, prompt, "User: first question")
	assert.Contains(t, prompt, "Assistant: first answer")
	assert.Contains(t, prompt, "context passage")
	assert.True(t, strings.HasSuffix(prompt, "Question: current question"))
}
