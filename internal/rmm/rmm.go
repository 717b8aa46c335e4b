// Package rmm talks to the remote monitoring and management provider that
// actually reaches the bay PCs. Client speaks the real provider API;
// Simulator fakes it for demo mode. The dispatcher sees only the Executor
// interface, so the two are interchangeable at startup.
package rmm

import (
	"context"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
)

// StatusReport is one poll observation of a dispatched job.
type StatusReport struct {
	// State is the adapter's view of the job. Non-terminal states mean
	// keep polling; Terminal() states end the job.
	State clubos.JobState

	// Result carries provider output for completed jobs.
	Result string

	// Detail carries the failure explanation for failed jobs.
	Detail string
}

// Executor dispatches actions on remote devices and reports job status.
type Executor interface {
	// Dispatch runs a script on a device and returns the provider's job ID.
	// Errors here mean nothing was started.
	Dispatch(ctx context.Context, deviceID, scriptID string) (string, error)

	// PollStatus reports the current state of a previously dispatched job.
	// An error is a failed observation, not a failed job; callers decide
	// when repeated failures become terminal.
	PollStatus(ctx context.Context, jobID string) (StatusReport, error)
}
