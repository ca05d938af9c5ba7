package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/tenantbot/backend/internal/ingestion/chunker"
	"github.com/tenantbot/backend/internal/ingestion/sources"
	"github.com/tenantbot/backend/internal/metrics"
	"github.com/tenantbot/backend/internal/objectstore"
	"github.com/tenantbot/backend/internal/storage/models"
	"github.com/tenantbot/backend/internal/vector/milvus"
	"github.com/tenantbot/backend/pkg/logger"
	"github.com/tenantbot/backend/pkg/retry"
)

// RunConfig bounds one ingestion run.
type RunConfig struct {
	CrawlDepth        int
	MemoryDurationMin int
	MaxDocuments      int
}

type Request struct {
	TenantID string
	Sources  []models.DataSource
	Config   RunConfig
}

type RunOutcome struct {
	RunID    string
	Status   models.RunStatus
	Outcomes []models.SourceOutcome
}

// Consumer-side contracts for the orchestrator's collaborators.

type SourceFactory interface {
	ForSource(tenantID string, ds models.DataSource, crawlDepth int) (sources.Fetcher, error)
}

type Normalizer interface {
	Normalize(raw *sources.RawContent) (string, error)
}

type Chunker interface {
	Split(text string) []chunker.Chunk
}

type EmbeddingWriter interface {
	Embed(ctx context.Context, tenantID, runID, sourceName, sourceURL string, chunks []chunker.Chunk) ([]milvus.VectorRecord, error)
	Store(ctx context.Context, tenantID string, records []milvus.VectorRecord) (int, error)
}

type RunStore interface {
	TenantExists(ctx context.Context, tenantID string) (bool, error)
	InsertRun(ctx context.Context, run *models.IngestionRun) error
	FinishRun(ctx context.Context, runID string, status models.RunStatus) error
	InsertSourceOutcome(ctx context.Context, o *models.SourceOutcome) error
	InsertErrorRecord(ctx context.Context, rec *models.ErrorRecord) error
	SetTenantMemoryDuration(ctx context.Context, tenantID string, minutes int) error
	TouchTenantMetadata(ctx context.Context, tenantID, runID string) error
	UpsertCrawlSchedule(ctx context.Context, tenantID string, nextRunAt time.Time) error
}

type MemoryConfigurer interface {
	SetDefaultMemoryDuration(ctx context.Context, tenantID string, minutes int) error
}

type Notifier interface {
	NotifyCompletion(ctx context.Context, tenantID, runID string, succeeded, failed int) error
	DeadLetter(ctx context.Context, tenantID, stage, sourceName, message string) error
}

type ArtifactStore interface {
	Put(ctx context.Context, tenantID, key string, data []byte) error
}

// Orchestrator sequences per-source processing with isolated failures:
// one source failing at any stage never touches the others, and the run
// itself completes unless validation rejects it up front.
type Orchestrator struct {
	factory    SourceFactory
	normalizer Normalizer
	chunker    Chunker
	writer     EmbeddingWriter
	store      RunStore
	memory     MemoryConfigurer
	notifier   Notifier
	artifacts  ArtifactStore
	pool       *ants.Pool
	retryCfg   retry.Config
}

type Option func(*Orchestrator)

// WithRetryConfig overrides the per-stage retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(o *Orchestrator) {
		cfg.RetryIf = IsTransient
		o.retryCfg = cfg
	}
}

func NewOrchestrator(
	factory SourceFactory,
	normalizer Normalizer,
	chunkSplitter Chunker,
	embeddingWriter EmbeddingWriter,
	store RunStore,
	memory MemoryConfigurer,
	notifier Notifier,
	artifacts ArtifactStore,
	opts ...Option,
) (*Orchestrator, error) {
	pool, err := ants.NewPool(16)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	o := &Orchestrator{
		factory:    factory,
		normalizer: normalizer,
		chunker:    chunkSplitter,
		writer:     embeddingWriter,
		store:      store,
		memory:     memory,
		notifier:   notifier,
		artifacts:  artifacts,
		pool:       pool,
		retryCfg: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   2 * time.Second,
			MaxDelay:       30 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			RetryIf:        IsTransient,
			Logger:         logger.GetLogger(),
		},
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

func (o *Orchestrator) Close() {
	o.pool.Release()
}

// Start runs the full pipeline synchronously and returns the per-source
// outcome list. A ValidationError is the only way the run fails before
// processing.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*RunOutcome, error) {
	runID, err := o.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, runID, req)
}

// StartAsync validates and registers the run, then processes it in the
// background. The returned run id can be polled through the run store.
func (o *Orchestrator) StartAsync(ctx context.Context, req Request) (string, error) {
	runID, err := o.begin(ctx, req)
	if err != nil {
		return "", err
	}

	go func() {
		if _, err := o.execute(context.Background(), runID, req); err != nil {
			logger.Error("Ingestion run failed",
				zap.String("run_id", runID),
				zap.Error(err),
			)
		}
	}()

	return runID, nil
}

func (o *Orchestrator) begin(ctx context.Context, req Request) (string, error) {
	if err := o.validate(ctx, req); err != nil {
		logger.Warn("Ingestion request rejected",
			zap.String("tenant_id", req.TenantID),
			zap.Error(err),
		)
		return "", err
	}

	runID := uuid.New().String()
	run := &models.IngestionRun{
		ID:        runID,
		TenantID:  req.TenantID,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := o.store.InsertRun(ctx, run); err != nil {
		return "", fmt.Errorf("failed to register run: %w", err)
	}

	logger.Info("Ingestion run started",
		zap.String("run_id", runID),
		zap.String("tenant_id", req.TenantID),
		zap.Int("sources", len(req.Sources)),
	)

	return runID, nil
}

func (o *Orchestrator) validate(ctx context.Context, req Request) error {
	if req.TenantID == "" {
		return &ValidationError{Field: "tenantId", Message: "required"}
	}

	exists, err := o.store.TenantExists(ctx, req.TenantID)
	if err != nil {
		return &ValidationError{Field: "tenantId", Message: fmt.Sprintf("lookup failed: %v", err)}
	}
	if !exists {
		return &ValidationError{Field: "tenantId", Message: "unknown tenant"}
	}

	if len(req.Sources) == 0 {
		return &ValidationError{Field: "dataSources", Message: "at least one data source is required"}
	}

	for i, ds := range req.Sources {
		switch ds.Type {
		case models.SourceTypeWebsite, models.SourceTypeAPI, models.SourceTypeDocument:
		default:
			return &ValidationError{
				Field:   fmt.Sprintf("dataSources[%d].type", i),
				Message: fmt.Sprintf("unrecognized type %q", ds.Type),
			}
		}
		if ds.URL == "" {
			return &ValidationError{Field: fmt.Sprintf("dataSources[%d].url", i), Message: "required"}
		}
		if ds.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("dataSources[%d].name", i), Message: "required"}
		}
	}

	if req.Config.CrawlDepth < 1 || req.Config.CrawlDepth > 3 {
		return &ValidationError{Field: "config.crawlDepth", Message: "must be between 1 and 3"}
	}
	if req.Config.MemoryDurationMin < 5 || req.Config.MemoryDurationMin > 1440 {
		return &ValidationError{Field: "config.memoryDuration", Message: "must be between 5 and 1440 minutes"}
	}
	if req.Config.MaxDocuments < 1 || req.Config.MaxDocuments > 20 {
		return &ValidationError{Field: "config.maxDocuments", Message: "must be between 1 and 20"}
	}

	return nil
}

func (o *Orchestrator) execute(ctx context.Context, runID string, req Request) (*RunOutcome, error) {
	start := time.Now()
	outcomes := make([]models.SourceOutcome, len(req.Sources))

	var wg sync.WaitGroup
	for i, ds := range req.Sources {
		i, ds := i, ds
		wg.Add(1)
		submitErr := o.pool.Submit(func() {
			defer wg.Done()
			outcomes[i] = o.processSource(ctx, runID, req, ds)
		})
		if submitErr != nil {
			outcomes[i] = o.failedOutcome(runID, ds, StageValidate, submitErr)
			wg.Done()
		}
	}
	wg.Wait()

	// Tenant-level steps run regardless of individual source outcomes.
	runErr := o.tenantSteps(ctx, runID, req, outcomes)

	status := models.RunStatusCompleted
	if runErr != nil {
		status = models.RunStatusFailed
	}
	if err := o.store.FinishRun(ctx, runID, status); err != nil {
		logger.Error("Failed to finalize run record", zap.String("run_id", runID), zap.Error(err))
	}

	metrics.IngestionRunsTotal.WithLabelValues(string(status)).Inc()
	metrics.IngestionRunDuration.Observe(time.Since(start).Seconds())

	logger.Info("Ingestion run finished",
		zap.String("run_id", runID),
		zap.String("status", string(status)),
	)

	if runErr != nil {
		return &RunOutcome{RunID: runID, Status: status, Outcomes: outcomes}, runErr
	}

	return &RunOutcome{RunID: runID, Status: status, Outcomes: outcomes}, nil
}

// processSource walks one source's branch: fetch, normalize, chunk,
// embed, store. The first stage failure short-circuits the branch into a
// failed outcome.
func (o *Orchestrator) processSource(ctx context.Context, runID string, req Request, ds models.DataSource) models.SourceOutcome {
	fetcher, err := o.factory.ForSource(req.TenantID, ds, req.Config.CrawlDepth)
	if err != nil {
		return o.failedOutcomeKind(runID, req.TenantID, ds, StageValidate, "InvalidSourceType", err)
	}

	fetchStage := fetchStageFor(ds.Type)

	raw, err := retry.DoWithResult(ctx, o.retryCfg, func() (*sources.RawContent, error) {
		return fetcher.Fetch(ctx)
	})
	if err != nil {
		return o.failedOutcomeFor(runID, req.TenantID, ds, fetchStage, err)
	}

	o.putArtifact(ctx, req.TenantID, runID, ds.Name, "raw", rawArtifact(raw))

	text, err := retry.DoWithResult(ctx, o.retryCfg, func() (string, error) {
		return o.normalizer.Normalize(raw)
	})
	if err != nil {
		return o.failedOutcomeFor(runID, req.TenantID, ds, StageExtractText, err)
	}

	o.putArtifact(ctx, req.TenantID, runID, ds.Name, "normalized", []byte(text))

	chunks := o.chunker.Split(text)
	if len(chunks) == 0 {
		return o.failedOutcomeFor(runID, req.TenantID, ds, StageExtractText,
			fmt.Errorf("source %q produced no text", ds.Name))
	}

	// The embedding client applies the retry policy itself; wrapping it
	// again would multiply the attempt budget.
	records, err := o.writer.Embed(ctx, req.TenantID, runID, ds.Name, ds.URL, chunks)
	if err != nil {
		return o.failedOutcomeFor(runID, req.TenantID, ds, StageEmbed, err)
	}

	count, err := retry.DoWithResult(ctx, o.retryCfg, func() (int, error) {
		return o.writer.Store(ctx, req.TenantID, records)
	})
	if err != nil {
		return o.failedOutcomeFor(runID, req.TenantID, ds, StageStore, err)
	}

	logger.Info("Source processed",
		zap.String("run_id", runID),
		zap.String("source", ds.Name),
		zap.Int("chunks", count),
	)

	metrics.SourcesProcessed.WithLabelValues(string(ds.Type), "success").Inc()
	metrics.ChunksStored.Add(float64(count))

	return models.SourceOutcome{
		RunID:      runID,
		SourceName: ds.Name,
		SourceURL:  ds.URL,
		Succeeded:  true,
		ChunkCount: count,
		FinishedAt: time.Now(),
	}
}

// tenantSteps runs the post-processing sequence. The first three are
// best-effort housekeeping: a failure is recorded and the pipeline moves
// on. AnalyzeResults and NotifyCompletion have nothing after them to
// compensate, so their failures surface as run-level errors.
func (o *Orchestrator) tenantSteps(ctx context.Context, runID string, req Request, outcomes []models.SourceOutcome) error {
	if err := retry.Do(ctx, o.retryCfg, func() error {
		if err := o.memory.SetDefaultMemoryDuration(ctx, req.TenantID, req.Config.MemoryDurationMin); err != nil {
			return err
		}
		return o.store.SetTenantMemoryDuration(ctx, req.TenantID, req.Config.MemoryDurationMin)
	}); err != nil {
		o.recordStepError(ctx, req.TenantID, StageMemoryConfig, err)
	}

	if err := retry.Do(ctx, o.retryCfg, func() error {
		return o.store.TouchTenantMetadata(ctx, req.TenantID, runID)
	}); err != nil {
		o.recordStepError(ctx, req.TenantID, StageMetadata, err)
	}

	if err := retry.Do(ctx, o.retryCfg, func() error {
		return o.store.UpsertCrawlSchedule(ctx, req.TenantID, time.Now().Add(24*time.Hour))
	}); err != nil {
		o.recordStepError(ctx, req.TenantID, StageSchedule, err)
	}

	succeeded, failed, err := o.analyzeResults(ctx, outcomes)
	if err != nil {
		o.recordStepError(ctx, req.TenantID, StageAnalyze, err)
		return &StageError{Stage: StageAnalyze, Err: err}
	}

	if err := o.notifier.NotifyCompletion(ctx, req.TenantID, runID, succeeded, failed); err != nil {
		o.recordStepError(ctx, req.TenantID, StageNotify, err)
		return &StageError{Stage: StageNotify, Err: err}
	}

	return nil
}

// analyzeResults persists every source outcome and tallies the run.
func (o *Orchestrator) analyzeResults(ctx context.Context, outcomes []models.SourceOutcome) (succeeded, failed int, err error) {
	for i := range outcomes {
		if insertErr := o.store.InsertSourceOutcome(ctx, &outcomes[i]); insertErr != nil {
			return 0, 0, fmt.Errorf("failed to persist outcome for %q: %w", outcomes[i].SourceName, insertErr)
		}
		if outcomes[i].Succeeded {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed, nil
}

func fetchStageFor(t models.SourceType) Stage {
	switch t {
	case models.SourceTypeWebsite:
		return StageCrawl
	case models.SourceTypeAPI:
		return StageFetchAPI
	case models.SourceTypeDocument:
		return StageProcessDocument
	default:
		return StageValidate
	}
}

func (o *Orchestrator) failedOutcomeFor(runID, tenantID string, ds models.DataSource, stage Stage, err error) models.SourceOutcome {
	return o.failedOutcomeKind(runID, tenantID, ds, stage, stage.Kind(), err)
}

func (o *Orchestrator) failedOutcomeKind(runID, tenantID string, ds models.DataSource, stage Stage, kind string, err error) models.SourceOutcome {
	stageErr := &StageError{Stage: stage, SourceName: ds.Name, Err: err}

	metrics.SourcesProcessed.WithLabelValues(string(ds.Type), "failed").Inc()
	metrics.StageErrors.WithLabelValues(string(stage)).Inc()

	logger.Warn("Source branch failed",
		zap.String("run_id", runID),
		zap.String("source", ds.Name),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)

	rec := &models.ErrorRecord{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Stage:       string(stage),
		Kind:        kind,
		Message:     err.Error(),
		Recoverable: IsTransient(err),
		SourceName:  ds.Name,
		CreatedAt:   time.Now(),
	}
	if insertErr := o.store.InsertErrorRecord(context.Background(), rec); insertErr != nil {
		logger.Error("Failed to persist error record", zap.Error(insertErr))
	}

	if dlErr := o.notifier.DeadLetter(context.Background(), tenantID, string(stage), ds.Name, err.Error()); dlErr != nil {
		logger.Error("Failed to dead-letter stage error", zap.Error(dlErr))
	}

	return models.SourceOutcome{
		RunID:      runID,
		SourceName: ds.Name,
		SourceURL:  ds.URL,
		Succeeded:  false,
		Error:      stageErr.Error(),
		FinishedAt: time.Now(),
	}
}

func (o *Orchestrator) failedOutcome(runID string, ds models.DataSource, stage Stage, err error) models.SourceOutcome {
	return models.SourceOutcome{
		RunID:      runID,
		SourceName: ds.Name,
		SourceURL:  ds.URL,
		Succeeded:  false,
		Error:      (&StageError{Stage: stage, SourceName: ds.Name, Err: err}).Error(),
		FinishedAt: time.Now(),
	}
}

func (o *Orchestrator) recordStepError(ctx context.Context, tenantID string, stage Stage, err error) {
	logger.Warn("Tenant-level step failed",
		zap.String("tenant_id", tenantID),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)

	rec := &models.ErrorRecord{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Stage:       string(stage),
		Kind:        stage.Kind(),
		Message:     err.Error(),
		Recoverable: IsTransient(err),
		CreatedAt:   time.Now(),
	}
	if insertErr := o.store.InsertErrorRecord(ctx, rec); insertErr != nil {
		logger.Error("Failed to persist error record", zap.Error(insertErr))
	}
}

// putArtifact keeps raw and normalized content for audit. Artifact
// failures never fail the branch.
func (o *Orchestrator) putArtifact(ctx context.Context, tenantID, runID, sourceName, kind string, data []byte) {
	if o.artifacts == nil || len(data) == 0 {
		return
	}
	key := objectstore.TenantKey(tenantID, fmt.Sprintf("runs/%s/%s.%s.txt", runID, sourceName, kind))
	if err := o.artifacts.Put(ctx, tenantID, key, data); err != nil {
		logger.Warn("Failed to store audit artifact",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func rawArtifact(raw *sources.RawContent) []byte {
	if len(raw.Body) > 0 {
		return raw.Body
	}
	var b []byte
	for _, page := range raw.Pages {
		b = append(b, []byte("URL: "+page.URL+"\n")...)
		b = append(b, []byte(page.Text+"\n\n")...)
	}
	return b
}
