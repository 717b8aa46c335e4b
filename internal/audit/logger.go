package audit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clock"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
)

const (
	// Failed durable writes are retried on this cadence.
	retryInterval   = 5 * time.Minute
	failedQueueSize = 100

	// Queries never return more than this many records.
	maxQueryResults = 500
)

// Logger is the audit trail's front door: an in-memory index over the
// durable store. Every dispatch gets a stub record immediately; the first
// terminal report finalizes it and later ones are ignored.
type Logger struct {
	store *Store
	clock clock.Clock

	mu      sync.Mutex
	byJob   map[string]*clubos.AuditRecord
	ordered []*clubos.AuditRecord // oldest first

	failed chan *clubos.AuditRecord
}

// NewLogger builds a Logger over store, rebuilding the index from whatever
// the repository already holds so records survive restarts. The background
// write-retry goroutine runs until ctx is cancelled.
func NewLogger(ctx context.Context, store *Store, clk clock.Clock) (*Logger, error) {
	records, err := store.LoadRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit history: %w", err)
	}

	l := &Logger{
		store:   store,
		clock:   clk,
		byJob:   make(map[string]*clubos.AuditRecord, len(records)),
		ordered: records,
		failed:  make(chan *clubos.AuditRecord, failedQueueSize),
	}
	for _, record := range records {
		l.byJob[record.JobID] = record
	}

	go l.retryFailedWrites(ctx)

	log.Printf("[INFO] Audit logger ready with %d historical records", len(records))
	return l, nil
}

// RecordDispatch appends a stub record for a just-dispatched job and returns
// a copy of it. The stub proves the dispatch happened even if the process
// dies before the job finishes.
func (l *Logger) RecordDispatch(ctx context.Context, job *clubos.Job) clubos.AuditRecord {
	record := &clubos.AuditRecord{
		ID:          uuid.NewString(),
		CreatedAt:   l.clock.Now().UTC(),
		JobID:       job.JobID,
		Action:      job.Action,
		Location:    job.Location,
		Bay:         job.Bay,
		DeviceID:    job.DeviceID,
		RequestedBy: job.RequestedBy,
		Mode:        job.Mode,
	}

	l.mu.Lock()
	l.byJob[job.JobID] = record
	l.ordered = append(l.ordered, record)
	snapshot := *record
	l.mu.Unlock()

	l.persist(ctx, &snapshot)
	log.Printf("[INFO] Audit stub %s recorded for job %s (%s by %s)",
		record.ID, job.JobID, job.Action, job.RequestedBy)
	return snapshot
}

// RecordTerminal finalizes the record for jobID. Idempotent: only the first
// terminal state sticks, repeats are logged and dropped.
func (l *Logger) RecordTerminal(ctx context.Context, jobID string, state clubos.JobState, detail string) {
	if !state.Terminal() {
		log.Printf("[WARN] Refusing to finalize job %s with non-terminal state %q", jobID, state)
		return
	}

	l.mu.Lock()
	record, ok := l.byJob[jobID]
	if !ok {
		l.mu.Unlock()
		log.Printf("[WARN] No audit record for job %s, terminal state %s has nowhere to go", jobID, state)
		return
	}
	if record.Finalized() {
		alreadyState := record.FinalState
		l.mu.Unlock()
		log.Printf("[DEBUG] Job %s already finalized as %s, ignoring %s", jobID, alreadyState, state)
		return
	}
	record.FinalState = state
	record.FinalizedAt = l.clock.Now().UTC()
	record.Detail = detail
	snapshot := *record
	l.mu.Unlock()

	l.persist(ctx, &snapshot)
	log.Printf("[INFO] Audit record %s finalized: job %s %s", snapshot.ID, jobID, state)
}

// Lookup returns a copy of the record for jobID.
func (l *Logger) Lookup(jobID string) (clubos.AuditRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.byJob[jobID]
	if !ok {
		return clubos.AuditRecord{}, false
	}
	return *record, true
}

// Filter narrows a Records query. Zero values match everything.
type Filter struct {
	Location string
	Action   string
	State    clubos.JobState
	Limit    int
}

// Records returns matching records, newest first.
func (l *Logger) Records(filter Filter) []clubos.AuditRecord {
	limit := filter.Limit
	if limit <= 0 || limit > maxQueryResults {
		limit = maxQueryResults
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]clubos.AuditRecord, 0, min(limit, len(l.ordered)))
	for i := len(l.ordered) - 1; i >= 0 && len(out) < limit; i-- {
		record := l.ordered[i]
		if filter.Location != "" && record.Location != filter.Location {
			continue
		}
		if filter.Action != "" && record.Action != filter.Action {
			continue
		}
		if filter.State != "" && record.FinalState != filter.State {
			continue
		}
		out = append(out, *record)
	}
	return out
}

func (l *Logger) persist(ctx context.Context, record *clubos.AuditRecord) {
	err := retry.Do(func() error {
		return l.store.SaveRecord(ctx, record)
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
	if err == nil {
		return
	}

	log.Printf("[WARN] Failed to persist audit record for job %s after %d retries: %v",
		record.JobID, maxRetries, err)
	select {
	case l.failed <- record:
		log.Printf("[INFO] Audit record for job %s queued for retry", record.JobID)
	default:
		log.Printf("[ERROR] Audit retry queue full, durable copy of job %s lost (memory index still has it)",
			record.JobID)
	}
}

func (l *Logger) retryFailedWrites(ctx context.Context) {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.drainFailed(ctx)
		}
	}
}

func (l *Logger) drainFailed(ctx context.Context) {
	for {
		select {
		case record := <-l.failed:
			// The job may have been finalized while the write sat in the
			// queue; save the freshest copy, not the queued snapshot.
			if current, ok := l.Lookup(record.JobID); ok {
				record = &current
			}
			log.Printf("[INFO] Retrying audit write for job %s", record.JobID)
			err := retry.Do(func() error {
				return l.store.SaveRecord(ctx, record)
			}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
			if err != nil {
				// Put it back and stop draining until the next tick; the
				// store is clearly still unhappy.
				select {
				case l.failed <- record:
				default:
					log.Printf("[WARN] Dropping audit record for job %s - queue full", record.JobID)
				}
				return
			}
		default:
			return
		}
	}
}

// Size reports how many records the index holds, for health reporting.
func (l *Logger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ordered)
}
