package proctrack_test

import (
	"os/exec"
	"testing"
	"time"

	"soundbite/internal/proctrack"
)

func startSleeper(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleeper: %v", err)
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})
	return cmd
}

func TestRegisterAndLiveness(t *testing.T) {
	tracker := proctrack.New(nil)
	cmd := startSleeper(t)

	tracker.Register(proctrack.Registration{
		EpisodeID: 1,
		Scope:     "summarize",
		RunID:     "run-1",
		PID:       cmd.Process.Pid,
	})

	if !tracker.IsRunning(1) {
		t.Fatal("expected episode 1 to be running")
	}
	if !tracker.IsStageRunning(1, "summarize") {
		t.Fatal("expected summarize stage to be running")
	}
	if tracker.IsStageRunning(1, "discover") {
		t.Fatal("discover stage should not be running")
	}
	if tracker.IsRunning(2) {
		t.Fatal("episode 2 should not be running")
	}

	tracker.Unregister(1, "summarize", "run-1")
	if tracker.IsRunning(1) {
		t.Fatal("expected unregister to remove the entry")
	}
	// Repeated unregistration is a no-op.
	tracker.Unregister(1, "summarize", "run-1")
}

func TestLivenessPrunesExitedProcesses(t *testing.T) {
	tracker := proctrack.New(nil)
	cmd := startSleeper(t)

	tracker.Register(proctrack.Registration{
		EpisodeID: 3,
		Scope:     proctrack.ScopePipeline,
		RunID:     "run-3",
		PID:       cmd.Process.Pid,
	})
	if err := cmd.Process.Kill(); err != nil {
		t.Fatalf("kill sleeper: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for tracker.IsRunning(3) {
		if time.Now().After(deadline) {
			t.Fatal("expected exited process to be pruned")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if regs := tracker.Registrations(3); len(regs) != 0 {
		t.Fatalf("expected no registrations, got %v", regs)
	}
}

func TestAllRegistrationsSpansEpisodes(t *testing.T) {
	tracker := proctrack.New(nil)
	first := startSleeper(t)
	second := startSleeper(t)

	tracker.Register(proctrack.Registration{
		EpisodeID: 10,
		Scope:     "summarize",
		RunID:     "run-10",
		PID:       first.Process.Pid,
	})
	tracker.Register(proctrack.Registration{
		EpisodeID: 11,
		Scope:     "discover",
		RunID:     "run-11",
		PID:       second.Process.Pid,
	})

	byEpisode := map[int64]string{}
	for _, reg := range tracker.AllRegistrations() {
		byEpisode[reg.EpisodeID] = reg.Scope
	}
	if len(byEpisode) != 2 || byEpisode[10] != "summarize" || byEpisode[11] != "discover" {
		t.Fatalf("unexpected registrations: %v", byEpisode)
	}

	if err := second.Process.Kill(); err != nil {
		t.Fatalf("kill sleeper: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		regs := tracker.AllRegistrations()
		if len(regs) == 1 && regs[0].EpisodeID == 10 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected exited process to be pruned, got %v", regs)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestKillForEpisodeTerminates(t *testing.T) {
	tracker := proctrack.New(nil)
	first := startSleeper(t)
	second := startSleeper(t)

	tracker.Register(proctrack.Registration{EpisodeID: 5, Scope: "discover", RunID: "run-5", PID: first.Process.Pid})
	tracker.Register(proctrack.Registration{EpisodeID: 5, Scope: "classify", RunID: "run-5", PID: second.Process.Pid})

	result := tracker.KillForEpisode(5, 2*time.Second)
	if len(result.Failed) != 0 {
		t.Fatalf("unexpected failures: %v", result.Failed)
	}
	if result.Killed != 2 {
		t.Fatalf("expected 2 kills, got %d", result.Killed)
	}
	if tracker.IsRunning(5) {
		t.Fatal("expected episode 5 to have no live processes")
	}
}

func TestKillForEpisodeIsIdempotent(t *testing.T) {
	tracker := proctrack.New(nil)
	cmd := startSleeper(t)

	tracker.Register(proctrack.Registration{EpisodeID: 6, Scope: "respond", RunID: "run-6", PID: cmd.Process.Pid})

	if result := tracker.KillForEpisode(6, 2*time.Second); result.Killed != 1 {
		t.Fatalf("expected 1 kill, got %+v", result)
	}
	// Second sweep finds nothing registered.
	if result := tracker.KillForEpisode(6, time.Second); result.Killed != 0 || len(result.Failed) != 0 {
		t.Fatalf("expected empty second sweep, got %+v", result)
	}
}

func TestKillToleratesAlreadyExited(t *testing.T) {
	tracker := proctrack.New(nil)
	cmd := startSleeper(t)
	pid := cmd.Process.Pid

	tracker.Register(proctrack.Registration{EpisodeID: 7, Scope: "moderate", RunID: "run-7", PID: pid})
	if err := cmd.Process.Kill(); err != nil {
		t.Fatalf("kill sleeper: %v", err)
	}
	// Wait for the reaper goroutine so the pid is really gone.
	time.Sleep(200 * time.Millisecond)

	result := tracker.KillForEpisode(7, time.Second)
	if len(result.Failed) != 0 {
		t.Fatalf("already-exited process must not be a failure: %+v", result.Failed)
	}
}
