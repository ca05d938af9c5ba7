package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/tenantbot/backend/internal/llm"
)

// Stage names the step of the state machine an error belongs to.
type Stage string

const (
	StageValidate        Stage = "ValidateInput"
	StageCrawl           Stage = "CrawlWebsite"
	StageFetchAPI        Stage = "FetchFromApi"
	StageProcessDocument Stage = "ProcessDocument"
	StageExtractText     Stage = "ExtractText"
	StageEmbed           Stage = "GenerateEmbeddings"
	StageStore           Stage = "StoreEmbeddings"
	StageMemoryConfig    Stage = "ConfigureMemoryDuration"
	StageMetadata        Stage = "UpdateMetadata"
	StageSchedule        Stage = "ScheduleNextCrawl"
	StageAnalyze         Stage = "AnalyzeResults"
	StageNotify          Stage = "NotifyCompletion"
)

// Kind maps each stage to its error kind in the taxonomy.
func (s Stage) Kind() string {
	switch s {
	case StageCrawl:
		return "CrawlError"
	case StageFetchAPI:
		return "ApiError"
	case StageProcessDocument:
		return "DocumentError"
	case StageExtractText:
		return "ExtractError"
	case StageEmbed:
		return "EmbeddingError"
	case StageStore:
		return "StorageError"
	case StageMemoryConfig:
		return "MemoryConfigError"
	case StageMetadata:
		return "MetadataError"
	case StageSchedule:
		return "ScheduleError"
	case StageNotify:
		return "NotifyError"
	case StageAnalyze:
		return "AnalyzeError"
	default:
		return "PipelineError"
	}
}

// StageError scopes a failure to one stage of one source branch or one
// tenant-level step. It never aborts the whole run.
type StageError struct {
	Stage      Stage
	SourceName string
	Err        error
}

func (e *StageError) Error() string {
	if e.SourceName != "" {
		return fmt.Sprintf("%s failed for source %q: %v", e.Stage, e.SourceName, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ValidationError is the one fatal error class: the run aborts before
// any source is processed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient classifies a stage error for retry. Throttling and
// temporary service unavailability retry; bad input, not-found and
// authorization failures do not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if llm.IsTransient(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Adapters surface upstream HTTP failures as "status <code>" errors.
	msg := err.Error()
	for _, marker := range []string{"status 429", "status 500", "status 502", "status 503", "status 504"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
