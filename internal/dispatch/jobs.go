package dispatch

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
)

// jobStore is the in-memory job table. It owns two invariants: a device has
// at most one live job, and a job makes exactly one terminal transition.
type jobStore struct {
	mu   sync.RWMutex
	jobs map[string]*clubos.Job
	busy map[string]string // device ID -> job ID of its live job ("" while reserved)
}

func newJobStore() *jobStore {
	return &jobStore{
		jobs: make(map[string]*clubos.Job),
		busy: make(map[string]string),
	}
}

// reserve marks a device busy before dispatch so two submits cannot race
// each other into the provider. Callers must bind or release afterwards.
func (s *jobStore) reserve(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if jobID, busy := s.busy[deviceID]; busy {
		if jobID != "" {
			return fmt.Errorf("device %s already running job %s: %w", deviceID, jobID, clubos.ErrDeviceBusy)
		}
		return fmt.Errorf("device %s has a dispatch in flight: %w", deviceID, clubos.ErrDeviceBusy)
	}
	s.busy[deviceID] = ""
	return nil
}

// release frees a reserved device after a failed dispatch.
func (s *jobStore) release(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, deviceID)
}

// bind records a dispatched job and ties its device reservation to it.
func (s *jobStore) bind(job *clubos.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = job
	s.busy[job.DeviceID] = job.JobID
}

// get returns a copy of the job.
func (s *jobStore) get(jobID string) (clubos.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return clubos.Job{}, false
	}
	return *job, true
}

// list returns copies of all jobs, newest first.
func (s *jobStore) list() []clubos.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]clubos.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].JobID > out[j].JobID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// markPolling stamps a poll observation on a live job.
func (s *jobStore) markPolling(jobID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.State.Terminal() {
		return
	}
	job.LastPolledAt = at
	if job.State == clubos.StateDispatched {
		job.State = clubos.StatePolling
	}
}

// finish moves a job to a terminal state and frees its device. Reports
// whether this call won the transition; losers must do nothing further.
func (s *jobStore) finish(jobID string, state clubos.JobState, result, detail string, at time.Time) bool {
	if !state.Terminal() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.State.Terminal() {
		return false
	}
	job.State = state
	job.CompletedAt = at
	job.Result = result
	job.Error = detail
	delete(s.busy, job.DeviceID)
	return true
}
