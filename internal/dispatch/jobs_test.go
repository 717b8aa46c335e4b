package dispatch

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
)

func storedJob(jobID, deviceID string, startedAt time.Time) *clubos.Job {
	return &clubos.Job{
		StartedAt:   startedAt,
		JobID:       jobID,
		Mode:        clubos.ModeProduction,
		State:       clubos.StateDispatched,
		Action:      "restart-trackman",
		Criticality: clubos.CriticalityNormal,
		Location:    "Bedford",
		Bay:         "1",
		DeviceID:    deviceID,
		ScriptID:    "3100",
		RequestedBy: "op42",
	}
}

func TestReserveBlocksSecondCaller(t *testing.T) {
	s := newJobStore()
	if err := s.reserve("dev-1"); err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}
	if err := s.reserve("dev-1"); !errors.Is(err, clubos.ErrDeviceBusy) {
		t.Fatalf("second reserve = %v, want ErrDeviceBusy", err)
	}
	if err := s.reserve("dev-2"); err != nil {
		t.Errorf("reserve on a different device failed: %v", err)
	}

	s.release("dev-1")
	if err := s.reserve("dev-1"); err != nil {
		t.Errorf("reserve after release failed: %v", err)
	}
}

func TestBusyErrorNamesLiveJob(t *testing.T) {
	s := newJobStore()
	if err := s.reserve("dev-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	s.bind(storedJob("J-1", "dev-1", time.Now()))

	err := s.reserve("dev-1")
	if !errors.Is(err, clubos.ErrDeviceBusy) {
		t.Fatalf("reserve = %v, want ErrDeviceBusy", err)
	}
	if got := err.Error(); !strings.Contains(got, "J-1") {
		t.Errorf("busy error %q should name job J-1", got)
	}
}

func TestFinishFreesDeviceAndWinsOnce(t *testing.T) {
	s := newJobStore()
	if err := s.reserve("dev-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	s.bind(storedJob("J-1", "dev-1", time.Now()))

	at := time.Now().UTC()
	if !s.finish("J-1", clubos.StateCompleted, "ok", "", at) {
		t.Fatal("first finish should win the transition")
	}
	if s.finish("J-1", clubos.StateFailed, "", "too late", at.Add(time.Second)) {
		t.Fatal("second finish should lose")
	}

	job, ok := s.get("J-1")
	if !ok {
		t.Fatal("job disappeared")
	}
	if job.State != clubos.StateCompleted || job.Result != "ok" {
		t.Errorf("job = %s/%q, want completed/ok", job.State, job.Result)
	}
	if !job.CompletedAt.Equal(at) {
		t.Errorf("CompletedAt = %v, want %v", job.CompletedAt, at)
	}
	if err := s.reserve("dev-1"); err != nil {
		t.Errorf("device still busy after terminal transition: %v", err)
	}
}

func TestFinishRejectsNonTerminalState(t *testing.T) {
	s := newJobStore()
	s.bind(storedJob("J-1", "dev-1", time.Now()))
	if s.finish("J-1", clubos.StatePolling, "", "", time.Now()) {
		t.Fatal("finish accepted a non-terminal state")
	}
	if s.finish("J-404", clubos.StateCompleted, "", "", time.Now()) {
		t.Fatal("finish accepted an unknown job")
	}
}

func TestConcurrentFinishHasOneWinner(t *testing.T) {
	s := newJobStore()
	s.bind(storedJob("J-1", "dev-1", time.Now()))

	const racers = 8
	var wg sync.WaitGroup
	wins := make(chan clubos.JobState, racers)
	states := []clubos.JobState{clubos.StateCompleted, clubos.StateFailed, clubos.StateTimedOut}
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(state clubos.JobState) {
			defer wg.Done()
			if s.finish("J-1", state, "", "", time.Now()) {
				wins <- state
			}
		}(states[i%len(states)])
	}
	wg.Wait()
	close(wins)

	var winners []clubos.JobState
	for state := range wins {
		winners = append(winners, state)
	}
	if len(winners) != 1 {
		t.Fatalf("got %d winning transitions, want exactly 1", len(winners))
	}
	job, _ := s.get("J-1")
	if job.State != winners[0] {
		t.Errorf("job state %s does not match winning transition %s", job.State, winners[0])
	}
}

func TestMarkPollingTransitionsOnce(t *testing.T) {
	s := newJobStore()
	s.bind(storedJob("J-1", "dev-1", time.Now()))

	first := time.Date(2026, 3, 1, 9, 0, 2, 0, time.UTC)
	s.markPolling("J-1", first)
	job, _ := s.get("J-1")
	if job.State != clubos.StatePolling {
		t.Fatalf("state after first poll = %s, want polling", job.State)
	}
	if !job.LastPolledAt.Equal(first) {
		t.Errorf("LastPolledAt = %v, want %v", job.LastPolledAt, first)
	}

	second := first.Add(2 * time.Second)
	s.markPolling("J-1", second)
	job, _ = s.get("J-1")
	if job.State != clubos.StatePolling || !job.LastPolledAt.Equal(second) {
		t.Errorf("second poll did not restamp: state %s at %v", job.State, job.LastPolledAt)
	}

	s.finish("J-1", clubos.StateCompleted, "", "", second.Add(time.Second))
	s.markPolling("J-1", second.Add(5*time.Second))
	job, _ = s.get("J-1")
	if !job.LastPolledAt.Equal(second) {
		t.Error("markPolling touched a terminal job")
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newJobStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.bind(storedJob("J-1", "dev-1", base))
	s.bind(storedJob("J-2", "dev-2", base.Add(time.Minute)))
	s.bind(storedJob("J-3", "dev-3", base.Add(30*time.Second)))

	jobs := s.list()
	want := []string{"J-2", "J-3", "J-1"}
	if len(jobs) != len(want) {
		t.Fatalf("list returned %d jobs, want %d", len(jobs), len(want))
	}
	for i, id := range want {
		if jobs[i].JobID != id {
			t.Errorf("list[%d] = %s, want %s", i, jobs[i].JobID, id)
		}
	}
}
