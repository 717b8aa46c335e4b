package rmm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
)

const (
	requestTimeout   = 30 * time.Second
	maxResponseBytes = 256 * 1024
	maxDetailLength  = 512
)

// HTTPClient allows injecting a stub transport in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Authorizer sets provider authentication on outbound requests and drops
// cached credentials when the provider stops accepting them.
// credentials.Provider implements it.
type Authorizer interface {
	Authorize(ctx context.Context, req *http.Request) error
	Invalidate()
}

// Client speaks the provider's REST API. Safe for concurrent use.
type Client struct {
	httpClient HTTPClient
	auth       Authorizer
	baseURL    string
}

// NewClient builds a production Executor against the provider at baseURL.
func NewClient(baseURL string, auth Authorizer) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		auth:       auth,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type dispatchRequest struct {
	ScriptID string `json:"script_id"`
}

type dispatchResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Dispatch runs a script on a device via the provider.
func (c *Client) Dispatch(ctx context.Context, deviceID, scriptID string) (string, error) {
	start := time.Now()
	body, err := json.Marshal(dispatchRequest{ScriptID: scriptID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal dispatch request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/devices/%s/scripts/run", c.baseURL, url.PathEscape(deviceID))
	status, respBody, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusAccepted {
		return "", fmt.Errorf("provider returned status %d: %s: %w", status, truncate(respBody), clubos.ErrDispatch)
	}

	var dr dispatchResponse
	if err := json.Unmarshal(respBody, &dr); err != nil {
		return "", fmt.Errorf("provider dispatch response malformed: %w", clubos.ErrDispatch)
	}
	if dr.JobID == "" {
		return "", fmt.Errorf("provider dispatch response missing job ID: %w", clubos.ErrDispatch)
	}

	log.Printf("[INFO] Dispatched script %s to device %s as provider job %s in %v",
		scriptID, deviceID, dr.JobID, time.Since(start))
	return dr.JobID, nil
}

type jobStatusResponse struct {
	Status string `json:"status"`
	Result string `json:"result"`
	Error  string `json:"error"`
}

// PollStatus fetches the provider's view of a job.
func (c *Client) PollStatus(ctx context.Context, jobID string) (StatusReport, error) {
	endpoint := fmt.Sprintf("%s/v2/jobs/%s", c.baseURL, url.PathEscape(jobID))
	status, respBody, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return StatusReport{}, err
	}
	if status != http.StatusOK {
		return StatusReport{}, fmt.Errorf("provider returned status %d for job %s", status, jobID)
	}

	var jr jobStatusResponse
	if err := json.Unmarshal(respBody, &jr); err != nil {
		return StatusReport{}, fmt.Errorf("provider job status malformed: %w", err)
	}
	return mapProviderStatus(jr.Status, jr.Result, jr.Error), nil
}

// do sends one authorized request. When the provider rejects the token it
// forces a refresh and retries exactly once; a second rejection comes back
// to the caller as-is.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (int, []byte, error) {
	status, respBody, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		log.Printf("[WARN] Provider rejected token (status %d), refreshing and retrying once", status)
		c.auth.Invalidate()
		return c.send(ctx, method, endpoint, body)
	}
	return status, respBody, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.auth.Authorize(ctx, req); err != nil {
		return 0, nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("[WARN] Error closing provider response body: %v", err)
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read provider response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// Provider status vocabulary. Anything not listed maps to failed so an
// operator is never left staring at a job that will not move.
var providerStates = map[string]clubos.JobState{
	"pending":     clubos.StatePolling,
	"queued":      clubos.StatePolling,
	"dispatched":  clubos.StatePolling,
	"running":     clubos.StatePolling,
	"in_progress": clubos.StatePolling,
	"completed":   clubos.StateCompleted,
	"complete":    clubos.StateCompleted,
	"success":     clubos.StateCompleted,
	"succeeded":   clubos.StateCompleted,
	"failed":      clubos.StateFailed,
	"failure":     clubos.StateFailed,
	"error":       clubos.StateFailed,
	"cancelled":   clubos.StateFailed,
	"canceled":    clubos.StateFailed,
	"rejected":    clubos.StateFailed,
	"expired":     clubos.StateFailed,
}

func mapProviderStatus(status, result, detail string) StatusReport {
	state, ok := providerStates[strings.ToLower(strings.TrimSpace(status))]
	if !ok {
		return StatusReport{
			State:  clubos.StateFailed,
			Detail: fmt.Sprintf("unrecognized provider status %q", status),
		}
	}
	report := StatusReport{State: state, Result: result, Detail: detail}
	if state == clubos.StateFailed && report.Detail == "" {
		report.Detail = "provider reported " + status
	}
	return report
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > maxDetailLength {
		return s[:maxDetailLength] + "..."
	}
	return s
}
