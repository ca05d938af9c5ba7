package models

import "time"

type Tenant struct {
	ID                string
	Name              string
	MemoryDurationMin int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type SourceType string

const (
	SourceTypeWebsite  SourceType = "website"
	SourceTypeAPI      SourceType = "api"
	SourceTypeDocument SourceType = "document"
)

// DataSource is one declared ingestion input. Options carries the
// per-type settings (HTTP method/headers for api, auth reference, etc.)
// exactly as received on the wire.
type DataSource struct {
	Type    SourceType
	Name    string
	URL     string
	Options map[string]string
}

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type IngestionRun struct {
	ID         string
	TenantID   string
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	Outcomes   []SourceOutcome
}

type SourceOutcome struct {
	RunID      string
	SourceName string
	SourceURL  string
	Succeeded  bool
	ChunkCount int
	Error      string
	FinishedAt time.Time
}

type ErrorRecord struct {
	ID          string
	TenantID    string
	Stage       string
	Kind        string
	Message     string
	Recoverable bool
	SourceName  string
	CreatedAt   time.Time
}

type CrawlSchedule struct {
	TenantID  string
	NextRunAt time.Time
	UpdatedAt time.Time
}

// QueryStat records chat analytics. Only the query length is kept, never
// the query text.
type QueryStat struct {
	ID          int
	TenantID    string
	ChatbotID   string
	QueryLength int
	ResultCount int
	LatencyMS   int
	CreatedAt   time.Time
}
