package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/tenantbot/backend/internal/storage/models"
	"github.com/tenantbot/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		memory_duration_min INTEGER NOT NULL DEFAULT 60,
		last_run_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ingestion_runs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		FOREIGN KEY (tenant_id) REFERENCES tenants(id)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_tenant ON ingestion_runs(tenant_id);

	CREATE TABLE IF NOT EXISTS source_outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		source_name TEXT NOT NULL,
		source_url TEXT,
		succeeded INTEGER NOT NULL,
		chunk_count INTEGER DEFAULT 0,
		error TEXT,
		finished_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES ingestion_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_run ON source_outcomes(run_id);

	CREATE TABLE IF NOT EXISTS error_records (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		kind TEXT NOT NULL,
		message TEXT,
		recoverable INTEGER NOT NULL,
		source_name TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_errors_tenant ON error_records(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_errors_created ON error_records(created_at);

	CREATE TABLE IF NOT EXISTS crawl_schedule (
		tenant_id TEXT PRIMARY KEY,
		next_run_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS query_stats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		chatbot_id TEXT,
		query_length INTEGER NOT NULL,
		result_count INTEGER,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stats_tenant ON query_stats(tenant_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Database schema initialized")
	return nil
}

func (c *Client) UpsertTenant(ctx context.Context, tenant *models.Tenant) error {
	now := time.Now().Unix()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, memory_duration_min, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			memory_duration_min = excluded.memory_duration_min,
			updated_at = excluded.updated_at`,
		tenant.ID, tenant.Name, tenant.MemoryDurationMin, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant: %w", err)
	}
	return nil
}

func (c *Client) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	var count int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM tenants WHERE id = ?", tenantID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to look up tenant: %w", err)
	}
	return count > 0, nil
}

func (c *Client) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	var t models.Tenant
	var createdAt, updatedAt int64
	err := c.db.QueryRowContext(ctx, `
		SELECT id, name, memory_duration_min, created_at, updated_at
		FROM tenants WHERE id = ?`, tenantID).
		Scan(&t.ID, &t.Name, &t.MemoryDurationMin, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	t.CreatedAt = time.Unix(createdAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	return &t, nil
}

func (c *Client) SetTenantMemoryDuration(ctx context.Context, tenantID string, minutes int) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE tenants SET memory_duration_min = ?, updated_at = ? WHERE id = ?`,
		minutes, time.Now().Unix(), tenantID)
	if err != nil {
		return fmt.Errorf("failed to set memory duration: %w", err)
	}
	return nil
}

// TouchTenantMetadata stamps the tenant with the run that last refreshed
// its knowledge base.
func (c *Client) TouchTenantMetadata(ctx context.Context, tenantID, runID string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE tenants SET last_run_id = ?, updated_at = ? WHERE id = ?`,
		runID, time.Now().Unix(), tenantID)
	if err != nil {
		return fmt.Errorf("failed to update tenant metadata: %w", err)
	}
	return nil
}

func (c *Client) InsertRun(ctx context.Context, run *models.IngestionRun) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (id, tenant_id, status, started_at)
		VALUES (?, ?, ?, ?)`,
		run.ID, run.TenantID, string(run.Status), run.StartedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (c *Client) FinishRun(ctx context.Context, runID string, status models.RunStatus) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE ingestion_runs SET status = ?, finished_at = ? WHERE id = ?`,
		string(status), time.Now().Unix(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

func (c *Client) InsertSourceOutcome(ctx context.Context, o *models.SourceOutcome) error {
	succeeded := 0
	if o.Succeeded {
		succeeded = 1
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO source_outcomes (run_id, source_name, source_url, succeeded, chunk_count, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, o.SourceName, o.SourceURL, succeeded, o.ChunkCount, o.Error, o.FinishedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert source outcome: %w", err)
	}
	return nil
}

func (c *Client) GetRun(ctx context.Context, runID string) (*models.IngestionRun, error) {
	var run models.IngestionRun
	var status string
	var startedAt int64
	var finishedAt sql.NullInt64

	err := c.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, status, started_at, finished_at
		FROM ingestion_runs WHERE id = ?`, runID).
		Scan(&run.ID, &run.TenantID, &status, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", runID, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.Status = models.RunStatus(status)
	run.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		run.FinishedAt = &t
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT source_name, source_url, succeeded, chunk_count, error, finished_at
		FROM source_outcomes WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list source outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o models.SourceOutcome
		var succeeded int
		var errText sql.NullString
		var done int64
		if err := rows.Scan(&o.SourceName, &o.SourceURL, &succeeded, &o.ChunkCount, &errText, &done); err != nil {
			return nil, fmt.Errorf("failed to scan source outcome: %w", err)
		}
		o.RunID = runID
		o.Succeeded = succeeded == 1
		o.Error = errText.String
		o.FinishedAt = time.Unix(done, 0)
		run.Outcomes = append(run.Outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate source outcomes: %w", err)
	}

	return &run, nil
}

func (c *Client) InsertErrorRecord(ctx context.Context, rec *models.ErrorRecord) error {
	recoverable := 0
	if rec.Recoverable {
		recoverable = 1
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO error_records (id, tenant_id, stage, kind, message, recoverable, source_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TenantID, rec.Stage, rec.Kind, rec.Message, recoverable, rec.SourceName, rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert error record: %w", err)
	}
	return nil
}

func (c *Client) UpsertCrawlSchedule(ctx context.Context, tenantID string, nextRunAt time.Time) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO crawl_schedule (tenant_id, next_run_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			next_run_at = excluded.next_run_at,
			updated_at = excluded.updated_at`,
		tenantID, nextRunAt.Unix(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert crawl schedule: %w", err)
	}
	return nil
}

func (c *Client) InsertQueryStat(ctx context.Context, stat *models.QueryStat) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO query_stats (tenant_id, chatbot_id, query_length, result_count, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		stat.TenantID, stat.ChatbotID, stat.QueryLength, stat.ResultCount, stat.LatencyMS, stat.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert query stat: %w", err)
	}
	return nil
}
