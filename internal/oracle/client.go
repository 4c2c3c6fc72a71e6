// Package oracle reads authoritative job and stage status over REST. The
// reconciliation layer polls it to correct gaps in the push channel.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/auth"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/model"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/state"
	"github.com/oliveagle/jsonpath"
)

// DefaultCountPath locates the issue total in the job payload. Newer server
// versions nest it differently, hence the configurable expression.
const DefaultCountPath = "$.total_count"

// JobReport is the oracle's job-level view
type JobReport struct {
	ID         string
	Status     model.JobStatus
	TotalCount *int
	Error      string
}

// Client fetches job and stage status from the review API
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      auth.CredentialProvider
	countPath  *jsonpath.Compiled
}

// NewClient creates an oracle client. countExpr is the JSONPath locating the
// aggregate issue count in the job payload; empty selects DefaultCountPath.
func NewClient(baseURL string, timeout time.Duration, creds auth.CredentialProvider, countExpr string) (*Client, error) {
	if countExpr == "" {
		countExpr = DefaultCountPath
	}
	compiled, err := jsonpath.Compile(countExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid count path %q: %w", countExpr, err)
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: newHTTPClient(timeout),
		creds:      creds,
		countPath:  compiled,
	}, nil
}

// newHTTPClient creates an HTTP client with connection pooling tuned for
// frequent small polls against a single host
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// FetchJob returns the oracle's current view of one job
func (c *Client) FetchJob(ctx context.Context, jobID string) (JobReport, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/api/v1/reviews/%s", c.baseURL, jobID))
	if err != nil {
		return JobReport{}, err
	}

	var payload struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return JobReport{}, fmt.Errorf("decode job payload: %w", err)
	}
	status, err := model.ParseJobStatus(payload.Status)
	if err != nil {
		return JobReport{}, err
	}

	report := JobReport{ID: payload.ID, Status: status, Error: payload.Error}

	// The count lives at a deployment-dependent path; absence is not an
	// error, the push-accumulated value stands.
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err == nil {
		if count, ok := c.extractCount(raw); ok {
			report.TotalCount = &count
		}
	}
	return report, nil
}

// FetchStages returns the oracle's per-stage status list for one job
func (c *Client) FetchStages(ctx context.Context, jobID string) ([]state.StageReport, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/api/v1/reviews/%s/stages", c.baseURL, jobID))
	if err != nil {
		return nil, err
	}

	var payload []struct {
		StageName  string `json:"stage_name"`
		Status     string `json:"status"`
		StageCount int    `json:"stage_count,omitempty"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode stage payload: %w", err)
	}

	reports := make([]state.StageReport, 0, len(payload))
	for _, row := range payload {
		status, err := model.ParseStageStatus(row.Status)
		if err != nil {
			return nil, err
		}
		reports = append(reports, state.StageReport{
			Name:   row.StageName,
			Status: status,
			Count:  row.StageCount,
		})
	}
	return reports, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.creds != nil {
		token, err := c.creds.Token(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle fetch: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("oracle fetch: read body: %w", err)
	}
	return body, nil
}
