package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantbot/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.InitSchema())
	return client
}

func seedTenant(t *testing.T, client *Client, id string) {
	t.Helper()
	require.NoError(t, client.UpsertTenant(context.Background(), &models.Tenant{
		ID:                id,
		Name:              "Test Tenant",
		MemoryDurationMin: 60,
	}))
}

func TestTenantLifecycle(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	exists, err := client.TenantExists(ctx, "tenant-a")
	require.NoError(t, err)
	assert.False(t, exists)

	seedTenant(t, client, "tenant-a")

	exists, err = client.TenantExists(ctx, "tenant-a")
	require.NoError(t, err)
	assert.True(t, exists)

	tenant, err := client.GetTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "Test Tenant", tenant.Name)
	assert.Equal(t, 60, tenant.MemoryDurationMin)

	require.NoError(t, client.SetTenantMemoryDuration(ctx, "tenant-a", 120))

	tenant, err = client.GetTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 120, tenant.MemoryDurationMin)
}

func TestRunLifecycle(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	seedTenant(t, client, "tenant-a")

	require.NoError(t, client.InsertRun(ctx, &models.IngestionRun{
		ID:        "run-1",
		TenantID:  "tenant-a",
		Status:    models.RunStatusRunning,
		StartedAt: time.Now(),
	}))

	require.NoError(t, client.InsertSourceOutcome(ctx, &models.SourceOutcome{
		RunID:      "run-1",
		SourceName: "site",
		SourceURL:  "https://example.com",
		Succeeded:  true,
		ChunkCount: 7,
		FinishedAt: time.Now(),
	}))
	require.NoError(t, client.InsertSourceOutcome(ctx, &models.SourceOutcome{
		RunID:      "run-1",
		SourceName: "api",
		Succeeded:  false,
		Error:      "FetchFromApi failed for source \"api\"",
		FinishedAt: time.Now(),
	}))

	require.NoError(t, client.FinishRun(ctx, "run-1", models.RunStatusCompleted))

	run, err := client.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, "tenant-a", run.TenantID)
	require.NotNil(t, run.FinishedAt)

	require.Len(t, run.Outcomes, 2)
	assert.Equal(t, "site", run.Outcomes[0].SourceName)
	assert.True(t, run.Outcomes[0].Succeeded)
	assert.Equal(t, 7, run.Outcomes[0].ChunkCount)
	assert.False(t, run.Outcomes[1].Succeeded)
	assert.Contains(t, run.Outcomes[1].Error, "FetchFromApi")
}

func TestGetRun_NotFound(t *testing.T) {
	client := newTestClient(t)

	_, err := client.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestTouchTenantMetadata(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	seedTenant(t, client, "tenant-a")

	require.NoError(t, client.TouchTenantMetadata(ctx, "tenant-a", "run-9"))

	var lastRunID sql.NullString
	err := client.db.QueryRowContext(ctx,
		"SELECT last_run_id FROM tenants WHERE id = ?", "tenant-a").Scan(&lastRunID)
	require.NoError(t, err)
	assert.Equal(t, "run-9", lastRunID.String)
}

func TestInsertErrorRecord(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.InsertErrorRecord(ctx, &models.ErrorRecord{
		ID:          "err-1",
		TenantID:    "tenant-a",
		Stage:       "CrawlWebsite",
		Kind:        "CrawlError",
		Message:     "connection refused",
		Recoverable: true,
		SourceName:  "site",
		CreatedAt:   time.Now(),
	}))

	var kind string
	var recoverable int
	err := client.db.QueryRowContext(ctx,
		"SELECT kind, recoverable FROM error_records WHERE id = ?", "err-1").Scan(&kind, &recoverable)
	require.NoError(t, err)
	assert.Equal(t, "CrawlError", kind)
	assert.Equal(t, 1, recoverable)
}

func TestUpsertCrawlSchedule_Overwrites(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first := time.Now().Add(time.Hour)
	second := time.Now().Add(24 * time.Hour)

	require.NoError(t, client.UpsertCrawlSchedule(ctx, "tenant-a", first))
	require.NoError(t, client.UpsertCrawlSchedule(ctx, "tenant-a", second))

	var nextRunAt int64
	err := client.db.QueryRowContext(ctx,
		"SELECT next_run_at FROM crawl_schedule WHERE tenant_id = ?", "tenant-a").Scan(&nextRunAt)
	require.NoError(t, err)
	assert.Equal(t, second.Unix(), nextRunAt)
}

func TestInsertQueryStat(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.InsertQueryStat(ctx, &models.QueryStat{
		TenantID:    "tenant-a",
		ChatbotID:   "bot-1",
		QueryLength: 42,
		ResultCount: 3,
		LatencyMS:   120,
		CreatedAt:   time.Now(),
	}))

	var length, results int
	err := client.db.QueryRowContext(ctx,
		"SELECT query_length, result_count FROM query_stats WHERE tenant_id = ?", "tenant-a").
		Scan(&length, &results)
	require.NoError(t, err)
	assert.Equal(t, 42, length)
	assert.Equal(t, 3, results)
}
