package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clock"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/metrics"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/notify"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/rmm"
)

const (
	defaultPollInterval    = 2 * time.Second
	defaultTimeoutNormal   = 60 * time.Second
	defaultTimeoutCritical = 5 * time.Minute

	// Per-poll retry budget. Exhausting it fails the job rather than
	// leaving it polling forever against a dead provider.
	pollAttempts      = 3
	pollRetryDelay    = 500 * time.Millisecond
	pollRetryMaxDelay = 2 * time.Second
)

// Tracker polls dispatched jobs until they reach a terminal state, the
// timeout for their criticality passes, or the tracker shuts down. Each
// watched job gets one goroutine; finish applies exactly one terminal
// transition no matter how many paths race to it.
type Tracker struct {
	executor rmm.Executor
	jobs     *jobStore
	audit    Trail
	notifier notify.Notifier
	metrics  *metrics.Metrics
	clock    clock.Clock

	pollInterval    time.Duration
	timeoutNormal   time.Duration
	timeoutCritical time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newTracker(opts Options, jobs *jobStore) *Tracker {
	// Job lifetimes outlive the requests that created them, so the
	// tracker carries its own context rather than any request's.
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		executor:        opts.Executor,
		jobs:            jobs,
		audit:           opts.Audit,
		notifier:        opts.Notifier,
		metrics:         opts.Metrics,
		clock:           opts.Clock,
		pollInterval:    opts.PollInterval,
		timeoutNormal:   opts.TimeoutNormal,
		timeoutCritical: opts.TimeoutCritical,
		ctx:             ctx,
		cancel:          cancel,
	}
}

func (t *Tracker) timeoutFor(criticality clubos.Criticality) time.Duration {
	if criticality == clubos.CriticalityCritical {
		return t.timeoutCritical
	}
	return t.timeoutNormal
}

// watch starts tracking a dispatched job.
func (t *Tracker) watch(jobID string, criticality clubos.Criticality) {
	deadline := t.clock.Now().Add(t.timeoutFor(criticality))
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.track(jobID, deadline)
	}()
}

func (t *Tracker) track(jobID string, deadline time.Time) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			// Shutdown. Leave the job non-terminal; the audit stub
			// finalizes as timed_out when a later process sees it.
			log.Printf("[WARN] Tracker stopping with job %s still in flight", jobID)
			return
		case <-ticker.C:
		}

		if !t.clock.Now().Before(deadline) {
			t.finish(jobID, clubos.StateTimedOut, "", fmt.Sprintf("no terminal status from provider within %s", t.sinceStart(jobID)))
			return
		}

		report, err := retry.DoWithData(func() (rmm.StatusReport, error) {
			return t.executor.PollStatus(t.ctx, jobID)
		}, retry.Attempts(pollAttempts), retry.Delay(pollRetryDelay), retry.MaxDelay(pollRetryMaxDelay))
		if err != nil {
			if t.ctx.Err() != nil {
				log.Printf("[WARN] Tracker stopping with job %s still in flight", jobID)
				return
			}
			t.metrics.PollsTotal.WithLabelValues("error").Inc()
			t.finish(jobID, clubos.StateFailed, "", fmt.Sprintf("status polling failed after %d attempts: %v", pollAttempts, err))
			return
		}
		t.metrics.PollsTotal.WithLabelValues("ok").Inc()
		t.jobs.markPolling(jobID, t.clock.Now().UTC())

		if report.State.Terminal() {
			t.finish(jobID, report.State, report.Result, report.Detail)
			return
		}
	}
}

// finish applies the terminal transition. The job store arbitrates races;
// only the winning caller records, counts and notifies.
func (t *Tracker) finish(jobID string, state clubos.JobState, result, detail string) {
	if !t.jobs.finish(jobID, state, result, detail, t.clock.Now().UTC()) {
		return
	}
	job, ok := t.jobs.get(jobID)
	if !ok {
		return
	}

	t.metrics.TerminalsTotal.WithLabelValues(string(state), string(job.Mode)).Inc()
	t.metrics.JobDurationSeconds.WithLabelValues(string(job.Criticality)).Observe(job.CompletedAt.Sub(job.StartedAt).Seconds())

	// Finalizing the audit record must survive tracker shutdown, so it
	// gets a fresh context.
	t.audit.RecordTerminal(context.Background(), jobID, state, detail)

	elapsed := job.CompletedAt.Sub(job.StartedAt).Round(time.Second)
	log.Printf("[INFO] Job %s %s after %s: %s at %s bay %s", jobID, state, elapsed, job.Action, job.Location, job.Bay)
	t.notifier.Notify(context.Background(), terminalMessage(job, elapsed))
}

func (t *Tracker) sinceStart(jobID string) time.Duration {
	job, ok := t.jobs.get(jobID)
	if !ok {
		return 0
	}
	return t.clock.Now().Sub(job.StartedAt).Round(time.Second)
}

func (t *Tracker) close() {
	t.cancel()
	t.wg.Wait()
}

func terminalMessage(job clubos.Job, elapsed time.Duration) string {
	where := fmt.Sprintf("%s at %s bay %s", job.Action, job.Location, job.Bay)
	switch job.State {
	case clubos.StateCompleted:
		return fmt.Sprintf("%s completed in %s (job %s, requested by %s)", where, elapsed, job.JobID, job.RequestedBy)
	case clubos.StateTimedOut:
		return fmt.Sprintf("%s timed out after %s (job %s, requested by %s)", where, elapsed, job.JobID, job.RequestedBy)
	default:
		return fmt.Sprintf("%s failed after %s: %s (job %s, requested by %s)", where, elapsed, job.Error, job.JobID, job.RequestedBy)
	}
}
