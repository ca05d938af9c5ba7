package docanalysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tenantbot/backend/pkg/logger"
	"github.com/tenantbot/backend/pkg/waitfor"
)

// Analyzer is the document-analysis capability: binary document or image
// in, extracted text out. Extraction is asynchronous upstream, so
// implementations poll for the result.
type Analyzer interface {
	Extract(ctx context.Context, data []byte, contentType string) (string, error)
}

// Client talks to an OCR-style analysis service over HTTP: one call to
// start a job, then bounded polling until the job reports done.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	poll       waitfor.Config
}

func NewClient(endpoint, apiKey string, maxPolls int, interval time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		poll: waitfor.Config{
			MaxPolls: maxPolls,
			Interval: interval,
		},
	}
}

type jobStatus struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

func (c *Client) Extract(ctx context.Context, data []byte, contentType string) (string, error) {
	jobID, err := c.startJob(ctx, data, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to start extraction job: %w", err)
	}

	logger.Debug("Extraction job started", zap.String("job_id", jobID))

	text, err := waitfor.Poll(ctx, c.poll, func(ctx context.Context) (string, bool, error) {
		status, err := c.getJob(ctx, jobID)
		if err != nil {
			return "", false, err
		}

		switch status.Status {
		case "succeeded":
			return status.Text, true, nil
		case "failed":
			return "", false, fmt.Errorf("extraction job failed: %s", status.Error)
		default:
			return "", false, nil
		}
	})
	if err != nil {
		return "", fmt.Errorf("extraction job %s: %w", jobID, err)
	}

	return text, nil
}

func (c *Client) startJob(ctx context.Context, data []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/jobs", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("analysis service returned status %d: %s", resp.StatusCode, string(body))
	}

	var status jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("failed to decode job response: %w", err)
	}
	if status.JobID == "" {
		return "", fmt.Errorf("analysis service returned no job id")
	}

	return status.JobID, nil
}

func (c *Client) getJob(ctx context.Context, jobID string) (*jobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("analysis service returned status %d", resp.StatusCode)
	}

	var status jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode job status: %w", err)
	}
	return &status, nil
}
