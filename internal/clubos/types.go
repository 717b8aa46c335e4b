// Package clubos defines shared data structures for the remote action service.
package clubos

import "time"

// Mode selects which RMM adapter the service runs against. It is computed
// once at startup and never changes for the life of the process.
type Mode string

const (
	ModeDemo       Mode = "demo"
	ModeProduction Mode = "production"
)

// Criticality ranks how disruptive an action is to a live bay.
type Criticality string

const (
	CriticalityNormal   Criticality = "normal"
	CriticalityCritical Criticality = "critical"
)

// JobState tracks a dispatched action through its lifecycle.
type JobState string

const (
	StateDispatched JobState = "dispatched"
	StatePolling    JobState = "polling"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
	StateTimedOut   JobState = "timed_out"
)

// Terminal reports whether a job in this state will never change again.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}

// ActionRequest is one operator request to run an action against a bay PC.
type ActionRequest struct {
	Action      string `json:"action"`
	Location    string `json:"location"`
	Bay         string `json:"bay"`
	RequestedBy string `json:"requested_by"`
	Confirmed   bool   `json:"confirmed,omitempty"`
}

// ActionDefinition describes one remotely runnable action. ScriptID is the
// provider-side identifier; its contents are opaque to this service.
type ActionDefinition struct {
	Name                 string      `json:"name"                  yaml:"name"`
	ScriptID             string      `json:"script_id"             yaml:"script_id"`
	Criticality          Criticality `json:"criticality"           yaml:"criticality"`
	Description          string      `json:"description,omitempty" yaml:"description"`
	RequiresConfirmation bool        `json:"requires_confirmation" yaml:"requires_confirmation"`
}

// Job is the in-memory record of one dispatched action. JobID is whatever
// identifier the adapter returned; demo IDs carry a DEMO- prefix.
type Job struct {
	StartedAt    time.Time   `json:"started_at"`
	LastPolledAt time.Time   `json:"last_polled_at"`
	CompletedAt  time.Time   `json:"completed_at"`
	JobID        string      `json:"job_id"`
	Mode         Mode        `json:"mode"`
	State        JobState    `json:"state"`
	Action       string      `json:"action"`
	Criticality  Criticality `json:"criticality"`
	Location     string      `json:"location"`
	Bay          string      `json:"bay"`
	DeviceID     string      `json:"device_id"`
	ScriptID     string      `json:"script_id"`
	RequestedBy  string      `json:"requested_by"`
	Result       string      `json:"result,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// AuditRecord is the durable trail entry for one dispatched action. It is
// written as a stub at dispatch time and finalized exactly once when the job
// reaches a terminal state. FinalState stays empty until then.
type AuditRecord struct {
	CreatedAt   time.Time `json:"created_at"`
	FinalizedAt time.Time `json:"finalized_at"`
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	Action      string    `json:"action"`
	Location    string    `json:"location"`
	Bay         string    `json:"bay"`
	DeviceID    string    `json:"device_id"`
	RequestedBy string    `json:"requested_by"`
	Mode        Mode      `json:"mode"`
	FinalState  JobState  `json:"final_state,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// Finalized reports whether the record has its terminal outcome written.
func (r *AuditRecord) Finalized() bool {
	return r.FinalState != ""
}

// IsValidActionName validates that an action name contains only safe characters.
func IsValidActionName(name string) bool {
	// Security: Only allow lowercase alphanumeric and hyphen
	const maxActionNameLength = 64
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return name != "" && len(name) <= maxActionNameLength
}

// IsValidLocation validates a facility name. Locations are human-entered
// ("Bedford", "Bayers Lake") so spaces are allowed; path and shell
// metacharacters are not.
func IsValidLocation(location string) bool {
	const maxLocationLength = 64
	for _, r := range location {
		if (r < 'a' || r > 'z') &&
			(r < 'A' || r > 'Z') &&
			(r < '0' || r > '9') &&
			r != ' ' && r != '-' && r != '\'' {
			return false
		}
	}
	return location != "" && len(location) <= maxLocationLength
}

// IsValidBay validates a bay identifier within a facility.
func IsValidBay(bay string) bool {
	const maxBayLength = 16
	for _, r := range bay {
		if (r < 'a' || r > 'z') &&
			(r < 'A' || r > 'Z') &&
			(r < '0' || r > '9') &&
			r != '-' {
			return false
		}
	}
	return bay != "" && len(bay) <= maxBayLength
}

// IsValidDeviceID validates a provider device identifier.
func IsValidDeviceID(deviceID string) bool {
	const maxDeviceIDLength = 64
	for _, r := range deviceID {
		if (r < 'a' || r > 'z') &&
			(r < 'A' || r > 'Z') &&
			(r < '0' || r > '9') &&
			r != '-' && r != '_' {
			return false
		}
	}
	return deviceID != "" && len(deviceID) <= maxDeviceIDLength
}

// IsValidUserID validates a requesting user identifier. Email-shaped IDs are
// common, so @ and . are allowed.
func IsValidUserID(userID string) bool {
	const maxUserIDLength = 128
	for _, r := range userID {
		if (r < 'a' || r > 'z') &&
			(r < 'A' || r > 'Z') &&
			(r < '0' || r > '9') &&
			r != '@' && r != '.' && r != '_' && r != '-' {
			return false
		}
	}
	return userID != "" && len(userID) <= maxUserIDLength
}
