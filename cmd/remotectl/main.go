// remotectl is the operator CLI for the ClubOS remote actions server:
// submit a device action, check a job, or watch it to its terminal state.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
)

const (
	// HTTP client timeout.
	httpTimeout = 30 * time.Second

	// Response body cap.
	maxResponseBytes = 1024 * 1024

	// Retry configuration for status reads. Submits are never retried:
	// a lost response would re-dispatch a real action on a real PC.
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second

	// Watch gives up after this many status reads fail in a row.
	maxWatchFailures = 10
)

var (
	server   = flag.String("server", "", "Server URL (e.g., http://localhost:8080)")
	apiKey   = flag.String("api-key", "", "API key (if the server requires one)")
	action   = flag.String("action", "", "Action to run (see -list)")
	location = flag.String("location", "", "Facility location")
	bay      = flag.String("bay", "", "Bay number")
	user     = flag.String("user", "", "Requesting user ID")
	confirm  = flag.Bool("confirm", false, "Confirm a critical action")
	status   = flag.String("status", "", "Check a job ID and exit")
	list     = flag.Bool("list", false, "List available actions and exit")
	watch    = flag.Bool("watch", false, "Poll the job until it reaches a terminal state")
	interval = flag.Duration("interval", 2*time.Second, "Watch polling interval")
)

type client struct {
	httpClient *http.Client
	serverURL  string
	apiKey     string
}

func main() {
	flag.Parse()

	if *server == "" {
		log.Fatal("-server is required (e.g., http://localhost:8080)")
	}

	c := &client{
		httpClient: &http.Client{Timeout: httpTimeout},
		serverURL:  *server,
		apiKey:     *apiKey,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *list:
		listActions(ctx, c)
	case *status != "":
		checkStatus(ctx, c, *status)
	default:
		submitAndMaybeWatch(ctx, c)
	}
}

func listActions(ctx context.Context, c *client) {
	var actions []clubos.ActionDefinition
	err := retry.Do(func() error {
		return c.do(ctx, http.MethodGet, "/api/v1/actions", nil, http.StatusOK, &actions)
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
	if err != nil {
		log.Fatalf("Failed to list actions: %v", err)
	}

	fmt.Println("Available actions:")
	for _, a := range actions {
		line := fmt.Sprintf("  %-22s %-8s %s", a.Name, a.Criticality, a.Description)
		if a.Criticality == clubos.CriticalityCritical || a.RequiresConfirmation {
			line += " (needs -confirm)"
		}
		fmt.Println(line)
	}
}

func checkStatus(ctx context.Context, c *client, jobID string) {
	job, err := fetchJob(ctx, c, jobID)
	if err != nil {
		log.Fatalf("Failed to check job %s: %v", jobID, err)
	}
	printJob(job)
	if job.State.Terminal() && job.State != clubos.StateCompleted {
		os.Exit(1)
	}
}

func submitAndMaybeWatch(ctx context.Context, c *client) {
	if *action == "" || *location == "" || *bay == "" || *user == "" {
		log.Fatal("-action, -location, -bay and -user are required to submit (or use -list / -status)")
	}

	req := clubos.ActionRequest{
		Action:      *action,
		Location:    *location,
		Bay:         *bay,
		RequestedBy: *user,
		Confirmed:   *confirm,
	}
	var job clubos.Job
	if err := c.do(ctx, http.MethodPost, "/api/v1/actions", req, http.StatusAccepted, &job); err != nil {
		log.Fatalf("Submit failed: %v", err)
	}

	fmt.Printf("Dispatched %s at %s bay %s (%s mode)\n", job.Action, job.Location, job.Bay, job.Mode)
	fmt.Printf("Job ID: %s\n", job.JobID)

	if !*watch {
		fmt.Printf("Check progress with: remotectl -server %s -status %s\n", c.serverURL, job.JobID)
		return
	}
	watchJob(ctx, c, job)
}

func watchJob(ctx context.Context, c *client, job clubos.Job) {
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	last := job.State
	failures := 0
	fmt.Printf("Watching (%s)...\n", last)

	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\nWatch cancelled; job %s keeps running server-side\n", job.JobID)
			os.Exit(1)
		case <-ticker.C:
		}

		current, err := fetchJob(ctx, c, job.JobID)
		if err != nil {
			failures++
			log.Printf("[WARN] Status check failed (%d/%d): %v", failures, maxWatchFailures, err)
			if failures >= maxWatchFailures {
				log.Fatalf("Giving up after %d failed status checks; job %s keeps running server-side", failures, job.JobID)
			}
			continue
		}
		failures = 0

		if current.State != last {
			fmt.Printf("  -> %s\n", current.State)
			last = current.State
		}
		if !current.State.Terminal() {
			continue
		}

		printJob(current)
		if current.State != clubos.StateCompleted {
			os.Exit(1)
		}
		return
	}
}

func fetchJob(ctx context.Context, c *client, jobID string) (clubos.Job, error) {
	return retry.DoWithData(func() (clubos.Job, error) {
		var job clubos.Job
		err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+jobID, nil, http.StatusOK, &job)
		return job, err
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
}

func printJob(job clubos.Job) {
	fmt.Printf("Job %s\n", job.JobID)
	fmt.Printf("  State:     %s\n", job.State)
	fmt.Printf("  Action:    %s at %s bay %s\n", job.Action, job.Location, job.Bay)
	fmt.Printf("  Requested: %s by %s\n", job.StartedAt.Format(time.RFC3339), job.RequestedBy)
	if !job.CompletedAt.IsZero() {
		fmt.Printf("  Finished:  %s (after %s)\n",
			job.CompletedAt.Format(time.RFC3339), job.CompletedAt.Sub(job.StartedAt).Round(time.Second))
	}
	if job.Result != "" {
		fmt.Printf("  Result:    %s\n", job.Result)
	}
	if job.Error != "" {
		fmt.Printf("  Error:     %s\n", job.Error)
	}
}

// do sends one request and decodes the response into out (if non-nil).
// Any status other than expect is an error carrying the server's detail.
func (c *client) do(ctx context.Context, method, path string, body any, expect int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("[WARN] Error closing response body: %v", err)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != expect {
		var detail struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &detail) == nil && detail.Error != "" {
			return fmt.Errorf("server returned status %d: %s", resp.StatusCode, detail.Error)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
