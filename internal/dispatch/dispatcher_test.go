package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clock"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/gate"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/metrics"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/registry"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/rmm"
)

// stubExecutor scripts provider behavior per test. Counters track how far
// the pipeline got.
type stubExecutor struct {
	mu         sync.Mutex
	dispatches int
	polls      int

	dispatchFunc func(call int, deviceID, scriptID string) (string, error)
	pollFunc     func(call int, jobID string) (rmm.StatusReport, error)
}

func (e *stubExecutor) Dispatch(_ context.Context, deviceID, scriptID string) (string, error) {
	e.mu.Lock()
	e.dispatches++
	call := e.dispatches
	fn := e.dispatchFunc
	e.mu.Unlock()
	if fn != nil {
		return fn(call, deviceID, scriptID)
	}
	return fmt.Sprintf("JOB-%d", call), nil
}

func (e *stubExecutor) PollStatus(_ context.Context, jobID string) (rmm.StatusReport, error) {
	e.mu.Lock()
	e.polls++
	call := e.polls
	fn := e.pollFunc
	e.mu.Unlock()
	if fn != nil {
		return fn(call, jobID)
	}
	return rmm.StatusReport{State: clubos.StatePolling}, nil
}

func (e *stubExecutor) dispatchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dispatches
}

// memoryTrail is an in-memory Trail with the real logger's idempotence.
type memoryTrail struct {
	mu      sync.Mutex
	records map[string]*clubos.AuditRecord
	applied map[string]int
}

func newMemoryTrail() *memoryTrail {
	return &memoryTrail{
		records: make(map[string]*clubos.AuditRecord),
		applied: make(map[string]int),
	}
}

func (m *memoryTrail) RecordDispatch(_ context.Context, job *clubos.Job) clubos.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	record := &clubos.AuditRecord{
		CreatedAt:   job.StartedAt,
		ID:          "rec-" + job.JobID,
		JobID:       job.JobID,
		Action:      job.Action,
		Location:    job.Location,
		Bay:         job.Bay,
		DeviceID:    job.DeviceID,
		RequestedBy: job.RequestedBy,
		Mode:        job.Mode,
	}
	m.records[job.JobID] = record
	return *record
}

func (m *memoryTrail) RecordTerminal(_ context.Context, jobID string, state clubos.JobState, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[jobID]
	if !ok || record.Finalized() {
		return
	}
	record.FinalState = state
	record.FinalizedAt = time.Now().UTC()
	record.Detail = detail
	m.applied[jobID]++
}

func (m *memoryTrail) Lookup(jobID string) (clubos.AuditRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[jobID]
	if !ok {
		return clubos.AuditRecord{}, false
	}
	return *record, true
}

func (m *memoryTrail) finalizations(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied[jobID]
}

func (m *memoryTrail) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(_ context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, message)
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

type fixture struct {
	dispatcher *Dispatcher
	trail      *memoryTrail
	notifier   *recordingNotifier
	clock      *clock.FakeClock
}

func newFixture(t *testing.T, exec *stubExecutor) *fixture {
	t.Helper()
	return newFixtureWithExecutor(t, exec, clubos.ModeProduction, clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))
}

func newFixtureWithExecutor(t *testing.T, exec rmm.Executor, mode clubos.Mode, clk *clock.FakeClock) *fixture {
	t.Helper()
	devices, err := registry.LoadDevices("")
	if err != nil {
		t.Fatalf("loading devices: %v", err)
	}
	actions, err := registry.LoadActions("")
	if err != nil {
		t.Fatalf("loading actions: %v", err)
	}
	directory, err := gate.LoadDirectory("")
	if err != nil {
		t.Fatalf("loading directory: %v", err)
	}

	trail := newMemoryTrail()
	notifier := &recordingNotifier{}
	d := New(Options{
		Executor:        exec,
		Devices:         devices,
		Actions:         actions,
		Gate:            directory,
		Audit:           trail,
		Notifier:        notifier,
		Metrics:         metrics.NewWith(prometheus.NewRegistry()),
		Clock:           clk,
		Mode:            mode,
		PollInterval:    5 * time.Millisecond,
		TimeoutNormal:   time.Minute,
		TimeoutCritical: 5 * time.Minute,
	})
	t.Cleanup(d.Close)

	return &fixture{dispatcher: d, trail: trail, notifier: notifier, clock: clk}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitTerminal(t *testing.T, d *Dispatcher, jobID string) clubos.Job {
	t.Helper()
	waitFor(t, "job "+jobID+" to reach a terminal state", func() bool {
		job, ok := d.Job(jobID)
		return ok && job.State.Terminal()
	})
	job, _ := d.Job(jobID)
	return job
}

func TestSubmitHappyPath(t *testing.T) {
	exec := &stubExecutor{
		pollFunc: func(call int, _ string) (rmm.StatusReport, error) {
			if call < 2 {
				return rmm.StatusReport{State: clubos.StatePolling}, nil
			}
			return rmm.StatusReport{State: clubos.StateCompleted, Result: "power cycled"}, nil
		},
	}
	f := newFixture(t, exec)

	job, err := f.dispatcher.Submit(context.Background(), clubos.ActionRequest{
		Action:      "restart-trackman",
		Location:    "Bedford",
		Bay:         "1",
		RequestedBy: "op42",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.State != clubos.StateDispatched {
		t.Errorf("submit returned state %s, want dispatched", job.State)
	}
	if job.JobID != "JOB-1" || job.DeviceID != "DEMO-BED-BAY1" || job.ScriptID != "3100" {
		t.Errorf("job = %s on %s (script %s), want JOB-1 on DEMO-BED-BAY1 (script 3100)", job.JobID, job.DeviceID, job.ScriptID)
	}
	if !job.StartedAt.Equal(f.clock.Now()) {
		t.Errorf("StartedAt = %v, want %v", job.StartedAt, f.clock.Now())
	}

	done := waitTerminal(t, f.dispatcher, job.JobID)
	if done.State != clubos.StateCompleted || done.Result != "power cycled" {
		t.Fatalf("job ended %s/%q, want completed/power cycled", done.State, done.Result)
	}
	if done.Error != "" {
		t.Errorf("completed job carries error %q", done.Error)
	}
	if done.LastPolledAt.IsZero() {
		t.Error("LastPolledAt never stamped")
	}

	record, ok := f.trail.Lookup(job.JobID)
	if !ok {
		t.Fatal("no audit record for dispatched job")
	}
	if record.FinalState != clubos.StateCompleted {
		t.Errorf("audit final state = %s, want completed", record.FinalState)
	}
	if n := f.trail.finalizations(job.JobID); n != 1 {
		t.Errorf("audit finalized %d times, want exactly 1", n)
	}

	waitFor(t, "terminal notification", func() bool { return len(f.notifier.messages()) == 1 })
	msg := f.notifier.messages()[0]
	if !strings.Contains(msg, "completed") || !strings.Contains(msg, "JOB-1") {
		t.Errorf("notification %q should mention completion and the job ID", msg)
	}

	// Terminal transition frees the device for the next request.
	if _, err := f.dispatcher.Submit(context.Background(), clubos.ActionRequest{
		Action:      "restart-trackman",
		Location:    "Bedford",
		Bay:         "1",
		RequestedBy: "op42",
	}); err != nil {
		t.Errorf("device still busy after completion: %v", err)
	}
}

func TestSubmitRejections(t *testing.T) {
	tests := []struct {
		name    string
		req     clubos.ActionRequest
		wantErr error
	}{
		{
			name:    "unknown action",
			req:     clubos.ActionRequest{Action: "mow-the-green", Location: "Bedford", Bay: "1", RequestedBy: "op42"},
			wantErr: clubos.ErrNotFound,
		},
		{
			name:    "unknown location",
			req:     clubos.ActionRequest{Action: "restart-trackman", Location: "Truro", Bay: "1", RequestedBy: "op42"},
			wantErr: clubos.ErrNotFound,
		},
		{
			name:    "unknown bay",
			req:     clubos.ActionRequest{Action: "restart-trackman", Location: "Bedford", Bay: "99", RequestedBy: "op42"},
			wantErr: clubos.ErrNotFound,
		},
		{
			name:    "invalid action name",
			req:     clubos.ActionRequest{Action: "Restart TrackMan!", Location: "Bedford", Bay: "1", RequestedBy: "op42"},
			wantErr: clubos.ErrInvalidRequest,
		},
		{
			name:    "empty location",
			req:     clubos.ActionRequest{Action: "restart-trackman", Location: "", Bay: "1", RequestedBy: "op42"},
			wantErr: clubos.ErrInvalidRequest,
		},
		{
			name:    "invalid bay",
			req:     clubos.ActionRequest{Action: "restart-trackman", Location: "Bedford", Bay: "bay/1", RequestedBy: "op42"},
			wantErr: clubos.ErrInvalidRequest,
		},
		{
			name:    "invalid requester",
			req:     clubos.ActionRequest{Action: "restart-trackman", Location: "Bedford", Bay: "1", RequestedBy: "op 42"},
			wantErr: clubos.ErrInvalidRequest,
		},
		{
			name:    "front desk cannot run normal actions",
			req:     clubos.ActionRequest{Action: "restart-trackman", Location: "Bedford", Bay: "1", RequestedBy: "frontdesk1"},
			wantErr: clubos.ErrUnauthorized,
		},
		{
			name:    "support cannot run critical actions",
			req:     clubos.ActionRequest{Action: "reboot-pc", Location: "Bedford", Bay: "1", RequestedBy: "support1", Confirmed: true},
			wantErr: clubos.ErrUnauthorized,
		},
		{
			name:    "unknown requester",
			req:     clubos.ActionRequest{Action: "restart-trackman", Location: "Bedford", Bay: "1", RequestedBy: "stranger"},
			wantErr: clubos.ErrUnauthorized,
		},
		{
			name:    "critical action without confirmation",
			req:     clubos.ActionRequest{Action: "reboot-pc", Location: "Bedford", Bay: "1", RequestedBy: "op42"},
			wantErr: clubos.ErrConfirmationRequired,
		},
		{
			name:    "flagged action without confirmation",
			req:     clubos.ActionRequest{Action: "restart-all-software", Location: "Bedford", Bay: "1", RequestedBy: "op42"},
			wantErr: clubos.ErrConfirmationRequired,
		},
		{
			name:    "unknown bay reported before missing confirmation",
			req:     clubos.ActionRequest{Action: "reboot-pc", Location: "Bedford", Bay: "99", RequestedBy: "op42"},
			wantErr: clubos.ErrNotFound,
		},
	}

	exec := &stubExecutor{}
	f := newFixture(t, exec)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.dispatcher.Submit(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Submit = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if n := exec.dispatchCount(); n != 0 {
		t.Errorf("rejected requests reached the provider %d times", n)
	}
	if n := f.trail.size(); n != 0 {
		t.Errorf("rejected requests left %d audit records", n)
	}
}

func TestSubmitReturnsDetachedCopy(t *testing.T) {
	exec := &stubExecutor{
		pollFunc: func(_ int, _ string) (rmm.StatusReport, error) {
			return rmm.StatusReport{State: clubos.StateCompleted, Result: "done"}, nil
		},
	}
	f := newFixture(t, exec)
	ctx := context.Background()

	// The provider reports terminal on the first poll, so each tracker
	// starts mutating its job right after Submit returns. The copy Submit
	// hands back must still read as dispatch-time state on every
	// iteration; the race detector watches the rest.
	req := clubos.ActionRequest{Action: "restart-trackman", Location: "Bedford", Bay: "1", RequestedBy: "op42"}
	for i := 0; i < 25; i++ {
		job, err := f.dispatcher.Submit(ctx, req)
		if err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
		if job.State != clubos.StateDispatched {
			t.Errorf("Submit %d returned state %s, want dispatched", i, job.State)
		}
		if !job.CompletedAt.IsZero() || job.Result != "" || job.Error != "" {
			t.Errorf("Submit %d returned terminal fields: %q/%q at %v", i, job.Result, job.Error, job.CompletedAt)
		}
		// Wait on the audit trail, not the job table: the device frees
		// before the trail finalizes, so the next Submit cannot collide.
		waitFor(t, "job to finalize", func() bool { return f.trail.finalizations(job.JobID) == 1 })
	}
}

func TestSubmitDeviceBusy(t *testing.T) {
	f := newFixture(t, &stubExecutor{}) // default poll never terminates

	first, err := f.dispatcher.Submit(context.Background(), clubos.ActionRequest{
		Action: "restart-browser", Location: "Bedford", Bay: "2", RequestedBy: "op42",
	})
	if err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}

	_, err = f.dispatcher.Submit(context.Background(), clubos.ActionRequest{
		Action: "restart-trackman", Location: "Bedford", Bay: "2", RequestedBy: "jamie@clubhouse.golf",
	})
	if !errors.Is(err, clubos.ErrDeviceBusy) {
		t.Fatalf("second Submit on the same bay = %v, want ErrDeviceBusy", err)
	}
	if !strings.Contains(err.Error(), first.JobID) {
		t.Errorf("busy error %q should name the live job", err)
	}

	if _, err := f.dispatcher.Submit(context.Background(), clubos.ActionRequest{
		Action: "restart-trackman", Location: "Bedford", Bay: "3", RequestedBy: "op42",
	}); err != nil {
		t.Errorf("Submit on a different bay failed: %v", err)
	}
}

func TestSubmitDispatchErrorFreesDevice(t *testing.T) {
	exec := &stubExecutor{
		dispatchFunc: func(call int, _, _ string) (string, error) {
			if call == 1 {
				return "", fmt.Errorf("provider rejected script run: %w", clubos.ErrDispatch)
			}
			return fmt.Sprintf("JOB-%d", call), nil
		},
		pollFunc: func(_ int, _ string) (rmm.StatusReport, error) {
			return rmm.StatusReport{State: clubos.StateCompleted}, nil
		},
	}
	f := newFixture(t, exec)

	req := clubos.ActionRequest{Action: "restart-trackman", Location: "Dartmouth", Bay: "1", RequestedBy: "op42"}
	if _, err := f.dispatcher.Submit(context.Background(), req); !errors.Is(err, clubos.ErrDispatch) {
		t.Fatalf("Submit = %v, want ErrDispatch", err)
	}
	if n := f.trail.size(); n != 0 {
		t.Errorf("failed dispatch left %d audit records", n)
	}

	// The reservation must not leak: the same bay accepts the retry.
	if _, err := f.dispatcher.Submit(context.Background(), req); err != nil {
		t.Fatalf("Submit after failed dispatch = %v, want success", err)
	}
}

func TestTrackerTimesOutSilentJob(t *testing.T) {
	f := newFixture(t, &stubExecutor{}) // provider never goes terminal

	job, err := f.dispatcher.Submit(context.Background(), clubos.ActionRequest{
		Action: "restart-trackman", Location: "Bedford", Bay: "4", RequestedBy: "op42",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, "first poll", func() bool {
		j, ok := f.dispatcher.Job(job.JobID)
		return ok && j.State == clubos.StatePolling
	})

	f.clock.Advance(2 * time.Minute) // past the normal-action deadline

	done := waitTerminal(t, f.dispatcher, job.JobID)
	if done.State != clubos.StateTimedOut {
		t.Fatalf("job ended %s, want timed_out", done.State)
	}
	if !strings.Contains(done.Error, "no terminal status") {
		t.Errorf("timeout detail = %q", done.Error)
	}
	if n := f.trail.finalizations(job.JobID); n != 1 {
		t.Errorf("audit finalized %d times, want exactly 1", n)
	}
	record, _ := f.trail.Lookup(job.JobID)
	if record.FinalState != clubos.StateTimedOut {
		t.Errorf("audit final state = %s, want timed_out", record.FinalState)
	}

	// Timeout frees the device.
	if _, err := f.dispatcher.Submit(context.Background(), clubos.ActionRequest{
		Action: "restart-trackman", Location: "Bedford", Bay: "4", RequestedBy: "op42",
	}); err != nil {
		t.Errorf("device still busy after timeout: %v", err)
	}
}

func TestCriticalJobsGetLongerDeadline(t *testing.T) {
	f := newFixture(t, &stubExecutor{})

	job, err := f.dispatcher.Submit(context.Background(), clubos.ActionRequest{
		Action: "reboot-pc", Location: "Bedford", Bay: "1", RequestedBy: "op42", Confirmed: true,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Two minutes is past the normal deadline but inside the critical one.
	f.clock.Advance(2 * time.Minute)
	waitFor(t, "a few more polls", func() bool {
		j, _ := f.dispatcher.Job(job.JobID)
		return j.State == clubos.StatePolling
	})
	if j, _ := f.dispatcher.Job(job.JobID); j.State.Terminal() {
		t.Fatalf("critical job went %s before its deadline", j.State)
	}

	f.clock.Advance(4 * time.Minute)
	done := waitTerminal(t, f.dispatcher, job.JobID)
	if done.State != clubos.StateTimedOut {
		t.Fatalf("job ended %s, want timed_out", done.State)
	}
}

func TestTrackerFailsJobWhenPollingKeepsErroring(t *testing.T) {
	exec := &stubExecutor{
		pollFunc: func(_ int, _ string) (rmm.StatusReport, error) {
			return rmm.StatusReport{}, errors.New("connection reset")
		},
	}
	f := newFixture(t, exec)

	job, err := f.dispatcher.Submit(context.Background(), clubos.ActionRequest{
		Action: "restart-trackman", Location: "Dartmouth", Bay: "2", RequestedBy: "op42",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	done := waitTerminal(t, f.dispatcher, job.JobID)
	if done.State != clubos.StateFailed {
		t.Fatalf("job ended %s, want failed", done.State)
	}
	if !strings.Contains(done.Error, "status polling failed") {
		t.Errorf("failure detail = %q", done.Error)
	}
	if n := f.trail.finalizations(job.JobID); n != 1 {
		t.Errorf("audit finalized %d times, want exactly 1", n)
	}
}

func TestTrackerCarriesProviderFailureDetail(t *testing.T) {
	exec := &stubExecutor{
		pollFunc: func(_ int, _ string) (rmm.StatusReport, error) {
			return rmm.StatusReport{State: clubos.StateFailed, Detail: "script exited with code 1"}, nil
		},
	}
	f := newFixture(t, exec)

	job, err := f.dispatcher.Submit(context.Background(), clubos.ActionRequest{
		Action: "restart-browser", Location: "Dartmouth", Bay: "3", RequestedBy: "op42",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	done := waitTerminal(t, f.dispatcher, job.JobID)
	if done.State != clubos.StateFailed || done.Error != "script exited with code 1" {
		t.Fatalf("job ended %s/%q, want failed with provider detail", done.State, done.Error)
	}
	waitFor(t, "failure notification", func() bool { return len(f.notifier.messages()) == 1 })
	if msg := f.notifier.messages()[0]; !strings.Contains(msg, "script exited with code 1") {
		t.Errorf("notification %q should carry the failure detail", msg)
	}
}

func TestStatusAnswersFromMemoryThenAudit(t *testing.T) {
	f := newFixture(t, &stubExecutor{})
	ctx := context.Background()

	job, err := f.dispatcher.Submit(ctx, clubos.ActionRequest{
		Action: "restart-trackman", Location: "Bedford", Bay: "1", RequestedBy: "op42",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	got, err := f.dispatcher.Status(ctx, job.JobID)
	if err != nil {
		t.Fatalf("Status for live job failed: %v", err)
	}
	if got.JobID != job.JobID || got.State.Terminal() {
		t.Errorf("live Status = %s/%s", got.JobID, got.State)
	}

	if _, err := f.dispatcher.Status(ctx, "JOB-404"); !errors.Is(err, clubos.ErrNotFound) {
		t.Errorf("Status for unknown job = %v, want ErrNotFound", err)
	}
}

func TestStatusFinalizesOrphanedJobs(t *testing.T) {
	f := newFixture(t, &stubExecutor{})
	ctx := context.Background()

	// A stub left behind by a previous process: dispatched, never finalized,
	// and no tracker in memory.
	f.trail.RecordDispatch(ctx, &clubos.Job{
		StartedAt:   time.Date(2026, 2, 28, 23, 50, 0, 0, time.UTC),
		JobID:       "OLD-1",
		Mode:        clubos.ModeProduction,
		State:       clubos.StateDispatched,
		Action:      "reboot-pc",
		Criticality: clubos.CriticalityCritical,
		Location:    "Bedford",
		Bay:         "2",
		DeviceID:    "DEMO-BED-BAY2",
		RequestedBy: "jamie@clubhouse.golf",
	})

	got, err := f.dispatcher.Status(ctx, "OLD-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if got.State != clubos.StateTimedOut {
		t.Fatalf("orphaned job reported %s, want timed_out", got.State)
	}
	if got.Action != "reboot-pc" || got.Location != "Bedford" || got.Bay != "2" {
		t.Errorf("reconstructed job lost its fields: %+v", got)
	}
	if !strings.Contains(got.Error, "restarted") {
		t.Errorf("detail %q should explain the restart", got.Error)
	}
	if n := f.trail.finalizations("OLD-1"); n != 1 {
		t.Fatalf("audit finalized %d times, want exactly 1", n)
	}

	// Asking again must not finalize twice or change the answer.
	again, err := f.dispatcher.Status(ctx, "OLD-1")
	if err != nil {
		t.Fatalf("second Status failed: %v", err)
	}
	if again.State != clubos.StateTimedOut || f.trail.finalizations("OLD-1") != 1 {
		t.Errorf("second Status changed the record: state %s, finalizations %d",
			again.State, f.trail.finalizations("OLD-1"))
	}
}

func TestDemoModeRunsOnSimulator(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	f := newFixtureWithExecutor(t, rmm.NewSimulator(clk), clubos.ModeDemo, clk)

	job, err := f.dispatcher.Submit(context.Background(), clubos.ActionRequest{
		Action: "restart-trackman", Location: "Bedford", Bay: "1", RequestedBy: "op42",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !strings.HasPrefix(job.JobID, "DEMO-") {
		t.Fatalf("simulator job ID = %q, want DEMO- prefix", job.JobID)
	}
	if job.Mode != clubos.ModeDemo {
		t.Errorf("job mode = %s, want demo", job.Mode)
	}

	waitFor(t, "first poll", func() bool {
		j, _ := f.dispatcher.Job(job.JobID)
		return j.State == clubos.StatePolling
	})

	clk.Advance(6 * time.Second) // past the simulator's completion threshold

	done := waitTerminal(t, f.dispatcher, job.JobID)
	if done.State != clubos.StateCompleted {
		t.Fatalf("demo job ended %s, want completed", done.State)
	}
	if done.Result != "demo action completed" {
		t.Errorf("demo result = %q", done.Result)
	}
}

func TestJobsListsNewestFirst(t *testing.T) {
	exec := &stubExecutor{
		pollFunc: func(_ int, _ string) (rmm.StatusReport, error) {
			return rmm.StatusReport{State: clubos.StateCompleted}, nil
		},
	}
	f := newFixture(t, exec)
	ctx := context.Background()

	bays := []string{"1", "2", "3"}
	for _, bay := range bays {
		if _, err := f.dispatcher.Submit(ctx, clubos.ActionRequest{
			Action: "restart-trackman", Location: "Bedford", Bay: bay, RequestedBy: "op42",
		}); err != nil {
			t.Fatalf("Submit bay %s failed: %v", bay, err)
		}
		f.clock.Advance(time.Second)
	}

	jobs := f.dispatcher.Jobs()
	if len(jobs) != len(bays) {
		t.Fatalf("Jobs returned %d entries, want %d", len(jobs), len(bays))
	}
	for i := 1; i < len(jobs); i++ {
		if jobs[i].StartedAt.After(jobs[i-1].StartedAt) {
			t.Errorf("Jobs[%d] started after Jobs[%d]", i, i-1)
		}
	}
}
