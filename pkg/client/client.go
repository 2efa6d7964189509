package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/reconnect/pkg/api"
	"github.com/cuemby/reconnect/pkg/scanner"
	"github.com/cuemby/reconnect/pkg/types"
)

// Client talks to the admin API of a running service
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("admin API returned %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a client for the API at addr. addr may omit the scheme.
func NewClient(addr, token string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimSuffix(addr, "/"),
		token:   token,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach admin API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr api.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// QueueStatus returns job counts and the pause flag
func (c *Client) QueueStatus(ctx context.Context) (*api.QueueStatus, error) {
	var status api.QueueStatus
	if err := c.do(ctx, http.MethodGet, "/queue", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListJobs returns the jobs in a status
func (c *Client) ListJobs(ctx context.Context, status types.JobStatus) ([]*types.JobRecord, error) {
	var jobs []*types.JobRecord
	if err := c.do(ctx, http.MethodGet, "/queue/"+url.PathEscape(string(status)), nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJob returns one job
func (c *Client) GetJob(ctx context.Context, id string) (*types.JobRecord, error) {
	var job types.JobRecord
	if err := c.do(ctx, http.MethodGet, "/queue/job/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// AddJob enqueues a job
func (c *Client) AddJob(ctx context.Context, job types.ReconciliationJob) (*types.JobRecord, error) {
	var record types.JobRecord
	if err := c.do(ctx, http.MethodPost, "/queue", job, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateJob replaces the data of a queued job and retries it
func (c *Client) UpdateJob(ctx context.Context, job types.ReconciliationJob) (*types.JobRecord, error) {
	var record types.JobRecord
	if err := c.do(ctx, http.MethodPost, "/queue/update", job, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// RetryJob retries a job
func (c *Client) RetryJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/queue/job/"+url.PathEscape(id)+"/retry", nil, nil)
}

// RemoveJob removes a job that is not running
func (c *Client) RemoveJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/queue/job/"+url.PathEscape(id), nil, nil)
}

// Pause stops the queue from dispatching jobs
func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/queue/pause", nil, nil)
}

// Resume restarts dispatching
func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/queue/resume", nil, nil)
}

// Clear removes every idle job and resumes the queue
func (c *Client) Clear(ctx context.Context) (int, error) {
	var resp api.ClearResponse
	if err := c.do(ctx, http.MethodPost, "/queue/clear", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

// UpdateGraph reconciles a user synchronously
func (c *Client) UpdateGraph(ctx context.Context, job types.ReconciliationJob) (*api.UpdateGraphResponse, error) {
	var resp api.UpdateGraphResponse
	if err := c.do(ctx, http.MethodPost, "/update/graph", job, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Scan scans new ledger blocks; from > 0 rescans from that block
func (c *Client) Scan(ctx context.Context, from uint64) (*scanner.Result, error) {
	path := "/scan"
	if from > 0 {
		path = fmt.Sprintf("/scan/%d", from)
	}
	var result scanner.Result
	if err := c.do(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
