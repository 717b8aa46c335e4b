package clubos

import "testing"

func TestJobStateTerminal(t *testing.T) {
	tests := []struct {
		state    JobState
		terminal bool
	}{
		{StateDispatched, false},
		{StatePolling, false},
		{StateCompleted, true},
		{StateFailed, true},
		{StateTimedOut, true},
		{JobState(""), false},
		{JobState("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.Terminal(); got != tt.terminal {
				t.Errorf("Terminal(%q) = %v, want %v", tt.state, got, tt.terminal)
			}
		})
	}
}

func TestIsValidActionName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"restart-trackman", true},
		{"reboot-pc", true},
		{"", false},
		{"Reboot-PC", false},
		{"restart trackman", false},
		{"restart;rm", false},
		{"../etc/passwd", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidActionName(tt.name); got != tt.valid {
				t.Errorf("IsValidActionName(%q) = %v, want %v", tt.name, got, tt.valid)
			}
		})
	}
}

func TestIsValidLocation(t *testing.T) {
	tests := []struct {
		location string
		valid    bool
	}{
		{"Bedford", true},
		{"Bayers Lake", true},
		{"St-John's", true},
		{"", false},
		{"Bedford/..", false},
		{"Bedford\n", false},
		{"$(reboot)", false},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			if got := IsValidLocation(tt.location); got != tt.valid {
				t.Errorf("IsValidLocation(%q) = %v, want %v", tt.location, got, tt.valid)
			}
		})
	}
}

func TestIsValidBay(t *testing.T) {
	tests := []struct {
		bay   string
		valid bool
	}{
		{"1", true},
		{"12", true},
		{"sim-3", true},
		{"", false},
		{"bay 1", false},
		{"averyverylongbayname", false},
	}

	for _, tt := range tests {
		t.Run(tt.bay, func(t *testing.T) {
			if got := IsValidBay(tt.bay); got != tt.valid {
				t.Errorf("IsValidBay(%q) = %v, want %v", tt.bay, got, tt.valid)
			}
		})
	}
}

func TestIsValidUserID(t *testing.T) {
	tests := []struct {
		userID string
		valid  bool
	}{
		{"op42", true},
		{"jamie@clubhouse.golf", true},
		{"front_desk-1", true},
		{"", false},
		{"user id", false},
		{"user\x00", false},
	}

	for _, tt := range tests {
		t.Run(tt.userID, func(t *testing.T) {
			if got := IsValidUserID(tt.userID); got != tt.valid {
				t.Errorf("IsValidUserID(%q) = %v, want %v", tt.userID, got, tt.valid)
			}
		})
	}
}

func TestAuditRecordFinalized(t *testing.T) {
	rec := AuditRecord{ID: "a1", JobID: "j1"}
	if rec.Finalized() {
		t.Error("stub record should not be finalized")
	}
	rec.FinalState = StateCompleted
	if !rec.Finalized() {
		t.Error("record with final state should be finalized")
	}
}
