// Package dispatch runs the submit pipeline and tracks every dispatched job
// to its terminal state. Submit returns as soon as the provider acknowledges
// the dispatch; everything after that happens in a per-job tracker goroutine
// and surfaces through job state, never as a submit error.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clock"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/gate"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/metrics"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/notify"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/registry"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/rmm"
)

// Trail is the slice of the audit logger the pipeline needs.
type Trail interface {
	RecordDispatch(ctx context.Context, job *clubos.Job) clubos.AuditRecord
	RecordTerminal(ctx context.Context, jobID string, state clubos.JobState, detail string)
	Lookup(jobID string) (clubos.AuditRecord, bool)
}

// Options wires a Dispatcher. Executor, Devices, Actions, Gate, Audit and
// Metrics are required; the rest default sensibly.
type Options struct {
	Executor rmm.Executor
	Devices  *registry.Devices
	Actions  *registry.Actions
	Gate     gate.Gate
	Audit    Trail
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Clock    clock.Clock
	Mode     clubos.Mode

	PollInterval    time.Duration
	TimeoutNormal   time.Duration
	TimeoutCritical time.Duration
}

// Dispatcher validates, authorizes and dispatches action requests, then
// hands each accepted job to the tracker. Safe for concurrent use.
type Dispatcher struct {
	executor rmm.Executor
	devices  *registry.Devices
	actions  *registry.Actions
	gate     gate.Gate
	audit    Trail
	metrics  *metrics.Metrics
	clock    clock.Clock
	mode     clubos.Mode

	jobs    *jobStore
	tracker *Tracker
}

// New builds a Dispatcher and its tracker. Close releases the tracker's
// goroutines.
func New(opts Options) *Dispatcher {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Noop{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.TimeoutNormal <= 0 {
		opts.TimeoutNormal = defaultTimeoutNormal
	}
	if opts.TimeoutCritical <= 0 {
		opts.TimeoutCritical = defaultTimeoutCritical
	}

	jobs := newJobStore()
	return &Dispatcher{
		executor: opts.Executor,
		devices:  opts.Devices,
		actions:  opts.Actions,
		gate:     opts.Gate,
		audit:    opts.Audit,
		metrics:  opts.Metrics,
		clock:    opts.Clock,
		mode:     opts.Mode,
		jobs:     jobs,
		tracker:  newTracker(opts, jobs),
	}
}

// Close stops the status trackers. In-flight jobs stay at their last
// non-terminal state; their audit stubs finalize as timed_out when a later
// process is asked about them.
func (d *Dispatcher) Close() {
	d.tracker.close()
}

// Submit runs the full pipeline for one request: resolve the action,
// authorize the requester, resolve the device, enforce confirmation,
// dispatch, record the audit stub, start tracking. It returns as soon as
// the provider hands back a job ID.
func (d *Dispatcher) Submit(ctx context.Context, req clubos.ActionRequest) (clubos.Job, error) {
	start := time.Now()

	if err := validateRequest(req); err != nil {
		d.reject("validation")
		return clubos.Job{}, err
	}

	def, err := d.actions.Resolve(req.Action)
	if err != nil {
		d.reject("not_found")
		return clubos.Job{}, err
	}

	minimum := gate.MinimumFor(def.Criticality)
	if !d.gate.Authorize(req.RequestedBy, minimum) {
		d.reject("unauthorized")
		return clubos.Job{}, fmt.Errorf("user %s may not run %s (%s action needs %s): %w",
			req.RequestedBy, req.Action, def.Criticality, minimum, clubos.ErrUnauthorized)
	}

	deviceID, err := d.devices.Resolve(req.Location, req.Bay)
	if err != nil {
		d.reject("not_found")
		return clubos.Job{}, err
	}

	if (def.Criticality == clubos.CriticalityCritical || def.RequiresConfirmation) && !req.Confirmed {
		d.reject("confirmation_required")
		return clubos.Job{}, fmt.Errorf("%s is a %s action: %w", req.Action, def.Criticality, clubos.ErrConfirmationRequired)
	}

	if err := d.jobs.reserve(deviceID); err != nil {
		d.reject("device_busy")
		return clubos.Job{}, err
	}

	jobID, err := d.executor.Dispatch(ctx, deviceID, def.ScriptID)
	if err != nil {
		d.jobs.release(deviceID)
		d.reject(rejectReason(err))
		return clubos.Job{}, err
	}

	job := &clubos.Job{
		StartedAt:   d.clock.Now().UTC(),
		JobID:       jobID,
		Mode:        d.mode,
		State:       clubos.StateDispatched,
		Action:      def.Name,
		Criticality: def.Criticality,
		Location:    req.Location,
		Bay:         req.Bay,
		DeviceID:    deviceID,
		ScriptID:    def.ScriptID,
		RequestedBy: req.RequestedBy,
	}
	d.jobs.bind(job)
	d.audit.RecordDispatch(ctx, job)

	// The tracker mutates the job once watch starts; the caller gets a
	// copy taken before that.
	accepted := *job
	d.tracker.watch(jobID, def.Criticality)

	d.metrics.SubmitsTotal.WithLabelValues(def.Name, string(d.mode)).Inc()
	log.Printf("[INFO] Job %s dispatched: %s at %s bay %s by %s (%s mode) in %v",
		jobID, def.Name, req.Location, req.Bay, req.RequestedBy, d.mode, time.Since(start))

	return accepted, nil
}

// Status reports the state of a job. Jobs this process dispatched are
// answered from memory. A job ID found only in the audit trail belongs to
// an earlier process; its stub is finalized as timed_out on first sight.
func (d *Dispatcher) Status(ctx context.Context, jobID string) (clubos.Job, error) {
	if job, ok := d.jobs.get(jobID); ok {
		return job, nil
	}

	record, ok := d.audit.Lookup(jobID)
	if !ok {
		return clubos.Job{}, fmt.Errorf("unknown job %q: %w", jobID, clubos.ErrNotFound)
	}
	if !record.Finalized() {
		log.Printf("[WARN] Job %s has an open audit stub but no tracker, finalizing as timed_out", jobID)
		d.audit.RecordTerminal(ctx, jobID, clubos.StateTimedOut, "no tracker for job; service restarted before completion")
		record, _ = d.audit.Lookup(jobID)
	}

	// Reconstruct the caller's view from the audit record.
	return clubos.Job{
		StartedAt:   record.CreatedAt,
		CompletedAt: record.FinalizedAt,
		JobID:       record.JobID,
		Mode:        record.Mode,
		State:       record.FinalState,
		Action:      record.Action,
		Location:    record.Location,
		Bay:         record.Bay,
		DeviceID:    record.DeviceID,
		RequestedBy: record.RequestedBy,
		Error:       record.Detail,
	}, nil
}

// Job returns a copy of an in-memory job.
func (d *Dispatcher) Job(jobID string) (clubos.Job, bool) {
	return d.jobs.get(jobID)
}

// Jobs returns copies of all in-memory jobs, newest first.
func (d *Dispatcher) Jobs() []clubos.Job {
	return d.jobs.list()
}

func (d *Dispatcher) reject(reason string) {
	d.metrics.RejectsTotal.WithLabelValues(reason).Inc()
}

func rejectReason(err error) string {
	if errors.Is(err, clubos.ErrCredential) {
		return "credential"
	}
	return "dispatch"
}

func validateRequest(req clubos.ActionRequest) error {
	if !clubos.IsValidActionName(req.Action) {
		return fmt.Errorf("action name %q: %w", req.Action, clubos.ErrInvalidRequest)
	}
	if !clubos.IsValidLocation(req.Location) {
		return fmt.Errorf("location %q: %w", req.Location, clubos.ErrInvalidRequest)
	}
	if !clubos.IsValidBay(req.Bay) {
		return fmt.Errorf("bay %q: %w", req.Bay, clubos.ErrInvalidRequest)
	}
	if !clubos.IsValidUserID(req.RequestedBy) {
		return fmt.Errorf("requested_by %q: %w", req.RequestedBy, clubos.ErrInvalidRequest)
	}
	return nil
}
