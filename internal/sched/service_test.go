package sched

import (
	"errors"
	"sync"
	"testing"
	"time"

	"dailycast/internal/clock"
	"dailycast/internal/state"
	"dailycast/internal/task"
	logx "dailycast/pkg/logx"
)

func zonedAt(date string, hour, minute int) clock.Zoned {
	return clock.Zoned{
		Hour:    hour,
		Minute:  minute,
		DateStr: date,
		TimeStr: time.Date(2025, 1, 1, hour, minute, 0, 0, time.UTC).Format("15:04:05"),
	}
}

type fakeProc struct {
	code    int
	err     error
	release chan struct{}
}

func (p *fakeProc) Wait() (int, error) {
	<-p.release
	return p.code, p.err
}

type fakeSpawner struct {
	mu       sync.Mutex
	startErr error
	code     int
	err      error
	started  []string
	procs    []*fakeProc
}

func (f *fakeSpawner) Start(t task.Task) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, t.Name)
	p := &fakeProc{code: f.code, err: f.err, release: make(chan struct{})}
	f.procs = append(f.procs, p)
	return p, nil
}

func (f *fakeSpawner) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func (f *fakeSpawner) releaseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.procs {
		close(p.release)
	}
	f.procs = nil
}

type fakeStore struct {
	mu    sync.Mutex
	saves int
	last  map[string]*state.TaskState
}

func (f *fakeStore) Load() (map[string]*state.TaskState, error) { return map[string]*state.TaskState{}, nil }

func (f *fakeStore) Save(m map[string]*state.TaskState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	cp := make(map[string]*state.TaskState, len(m))
	for k, v := range m {
		cp[k] = v.Clone()
	}
	f.last = cp
	return nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func newTestService(t *testing.T, sp Spawner, now clock.Zoned, states map[string]*state.TaskState, onDone func(Event)) (*Service, *fakeStore) {
	t.Helper()
	st := &fakeStore{}
	svc := New(Deps{
		Log:     logx.Nop(),
		Clock:   clock.NewResolver("UTC", logx.Nop()),
		Store:   st,
		Spawner: sp,
		Tasks: []task.Task{
			{Name: "paper", Script: "daily_paper_video.py", Args: []string{"--once"}, Hour: 10, Minute: 0},
			{Name: "github", Script: "daily_github_video.py", Args: []string{"--once"}, Hour: 11, Minute: 0},
		},
		States: states,
		Now:    func() clock.Zoned { return now },
		OnDone: onDone,
	})
	return svc, st
}

func TestDuePredicate(t *testing.T) {
	t.Parallel()

	trig := task.Task{Name: "paper", Hour: 14, Minute: 0}
	tests := []struct {
		name string
		now  clock.Zoned
		st   *state.TaskState
		want bool
	}{
		{"before trigger", zonedAt("2025-06-01", 13, 59), nil, false},
		{"at trigger", zonedAt("2025-06-01", 14, 0), nil, true},
		{"after trigger", zonedAt("2025-06-01", 18, 30), nil, true},
		{"running", zonedAt("2025-06-01", 14, 0), &state.TaskState{Running: true}, false},
		{"succeeded today", zonedAt("2025-06-01", 14, 0), &state.TaskState{LastSuccessDate: "2025-06-01"}, false},
		{"succeeded yesterday", zonedAt("2025-06-01", 14, 0), &state.TaskState{LastSuccessDate: "2025-05-31"}, true},
		{"failed today", zonedAt("2025-06-01", 14, 0), &state.TaskState{LastAttemptDate: "2025-06-01", LastError: "boom"}, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			states := map[string]*state.TaskState{}
			if tc.st != nil {
				states["paper"] = tc.st
			}
			svc, _ := newTestService(t, &fakeSpawner{}, tc.now, states, nil)
			svc.mu.Lock()
			got := svc.dueLocked(trig, tc.now)
			svc.mu.Unlock()
			if got != tc.want {
				t.Fatalf("due = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTickStartsDueTasksOnce(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{}
	now := zonedAt("2025-06-01", 11, 30) // both tasks past trigger
	svc, st := newTestService(t, sp, now, nil, nil)

	svc.Tick()
	if got := sp.startCount(); got != 2 {
		t.Fatalf("started %d tasks, want 2", got)
	}

	// Workers still running: repeated ticks must not stack runs.
	svc.Tick()
	svc.Tick()
	if got := sp.startCount(); got != 2 {
		t.Fatalf("started %d tasks after re-tick, want 2", got)
	}

	if st.saveCount() == 0 {
		t.Fatal("expected state persisted on start")
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, name := range []string{"paper", "github"} {
		ts := st.last[name]
		if ts == nil || !ts.Running {
			t.Fatalf("task %s not marked running in persisted state", name)
		}
		if ts.LastReason != ReasonSchedule {
			t.Fatalf("task %s reason = %q, want %q", name, ts.LastReason, ReasonSchedule)
		}
		if ts.LastAttemptDate != "2025-06-01" {
			t.Fatalf("task %s attempt date = %q", name, ts.LastAttemptDate)
		}
	}
}

func TestTriggerManual(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{}
	// Before trigger time and already succeeded today: manual still runs.
	now := zonedAt("2025-06-01", 9, 0)
	states := map[string]*state.TaskState{
		"paper": {LastSuccessDate: "2025-06-01", LastSuccessTime: "08:00:00"},
	}
	done := make(chan Event, 1)
	svc, _ := newTestService(t, sp, now, states, func(ev Event) { done <- ev })

	if err := svc.Trigger("paper", ReasonManual); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if got := sp.startCount(); got != 1 {
		t.Fatalf("started %d, want 1", got)
	}

	// Second trigger while running is a no-op, not an error.
	if err := svc.Trigger("paper", ReasonManual); err != nil {
		t.Fatalf("second Trigger: %v", err)
	}
	if got := sp.startCount(); got != 1 {
		t.Fatalf("started %d after double trigger, want 1", got)
	}

	if err := svc.Trigger("nope", ReasonManual); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("Trigger unknown = %v, want ErrUnknownTask", err)
	}

	sp.releaseAll()
	select {
	case ev := <-done:
		if !ev.Success || ev.Task != "paper" || ev.Reason != ReasonManual {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion event")
	}
}

func TestFinishSuccessAndFailure(t *testing.T) {
	t.Parallel()

	t.Run("exit zero stamps success", func(t *testing.T) {
		t.Parallel()
		sp := &fakeSpawner{}
		now := zonedAt("2025-06-01", 10, 5)
		done := make(chan Event, 1)
		svc, st := newTestService(t, sp, now, nil, func(ev Event) { done <- ev })

		if err := svc.Trigger("paper", ReasonManual); err != nil {
			t.Fatalf("Trigger: %v", err)
		}
		sp.releaseAll()
		<-done

		st.mu.Lock()
		ts := st.last["paper"]
		st.mu.Unlock()
		if ts.Running {
			t.Fatal("still marked running after finish")
		}
		if ts.LastSuccessDate != "2025-06-01" {
			t.Fatalf("success date = %q, want 2025-06-01", ts.LastSuccessDate)
		}
		if ts.LastExitCode == nil || *ts.LastExitCode != 0 {
			t.Fatalf("exit code = %v, want 0", ts.LastExitCode)
		}
		if ts.LastError != "" {
			t.Fatalf("unexpected error %q", ts.LastError)
		}

		// Succeeded today, and github's 11:00 trigger has not come up at
		// 10:05, so a tick starts nothing new.
		svc.Tick()
		if got := sp.startCount(); got != 1 {
			t.Fatalf("started %d, want 1", got)
		}
	})

	t.Run("nonzero exit records failure", func(t *testing.T) {
		t.Parallel()
		sp := &fakeSpawner{code: 137, err: errors.New("signal: killed")}
		now := zonedAt("2025-06-01", 10, 5)
		done := make(chan Event, 1)
		svc, st := newTestService(t, sp, now, nil, func(ev Event) { done <- ev })

		if err := svc.Trigger("paper", ReasonManual); err != nil {
			t.Fatalf("Trigger: %v", err)
		}
		sp.releaseAll()
		ev := <-done
		if ev.Success || ev.ExitCode != 137 {
			t.Fatalf("unexpected event %+v", ev)
		}

		st.mu.Lock()
		ts := st.last["paper"]
		st.mu.Unlock()
		if ts.Running {
			t.Fatal("still marked running after failure")
		}
		if ts.LastSuccessDate != "" {
			t.Fatalf("failure must not stamp success, got %q", ts.LastSuccessDate)
		}
		if ts.LastExitCode == nil || *ts.LastExitCode != 137 {
			t.Fatalf("exit code = %v, want 137", ts.LastExitCode)
		}
		// A worker that ran and died is described by its exit code; the
		// error field is reserved for workers that never started.
		if ts.LastError != "" {
			t.Fatalf("LastError = %q, want empty on non-zero exit", ts.LastError)
		}
		if ev.Err == "" {
			t.Fatal("completion event should still carry the error detail")
		}

		// Failed task is due again on the next tick once not running.
		svc.mu.Lock()
		due := svc.dueLocked(task.Task{Name: "paper", Hour: 10, Minute: 0}, now)
		svc.mu.Unlock()
		if !due {
			t.Fatal("failed task should be due again")
		}
	})

	t.Run("spawn failure", func(t *testing.T) {
		t.Parallel()
		sp := &fakeSpawner{startErr: errors.New("no such interpreter")}
		now := zonedAt("2025-06-01", 10, 5)
		var evs []Event
		svc, st := newTestService(t, sp, now, nil, func(ev Event) { evs = append(evs, ev) })

		if err := svc.Trigger("paper", ReasonManual); err != nil {
			t.Fatalf("Trigger: %v", err)
		}

		// Spawn failures resolve synchronously.
		st.mu.Lock()
		ts := st.last["paper"]
		st.mu.Unlock()
		if ts.Running {
			t.Fatal("running flag stuck after spawn failure")
		}
		if ts.LastExitCode == nil || *ts.LastExitCode != 1 {
			t.Fatalf("exit code = %v, want 1", ts.LastExitCode)
		}
		if ts.LastError == "" {
			t.Fatal("expected LastError set")
		}
		if len(evs) != 1 || evs[0].Success {
			t.Fatalf("unexpected events %+v", evs)
		}
	})
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{}
	now := zonedAt("2025-06-01", 12, 0)
	code := 0
	states := map[string]*state.TaskState{
		"paper": {
			LastAttemptDate: "2025-06-01", LastAttemptTime: "10:00:02",
			LastFinishDate: "2025-06-01", LastFinishTime: "10:09:41",
			LastSuccessDate: "2025-06-01", LastSuccessTime: "10:09:41",
			LastExitCode: &code, LastReason: ReasonSchedule,
		},
	}
	svc, _ := newTestService(t, sp, now, states, nil)
	svc.SetInterpreter("/usr/bin/python3")

	snap := svc.Snapshot()
	if snap.Timezone != "UTC" {
		t.Fatalf("timezone = %q", snap.Timezone)
	}
	if snap.Date != "2025-06-01" {
		t.Fatalf("date = %q", snap.Date)
	}
	if snap.Interpreter != "/usr/bin/python3" {
		t.Fatalf("interpreter = %q", snap.Interpreter)
	}

	pv, ok := snap.Tasks["paper"]
	if !ok {
		t.Fatal("paper missing from snapshot")
	}
	if pv.Schedule != "10:00" {
		t.Fatalf("schedule = %q", pv.Schedule)
	}
	if pv.LastSuccess == nil || pv.LastSuccess.Date != "2025-06-01" {
		t.Fatalf("last success = %+v", pv.LastSuccess)
	}
	if pv.LastExitCode == nil || *pv.LastExitCode != 0 {
		t.Fatalf("exit code = %v", pv.LastExitCode)
	}

	gv := snap.Tasks["github"]
	if gv.LastAttempt != nil || gv.LastFinish != nil || gv.LastSuccess != nil || gv.LastExitCode != nil {
		t.Fatalf("never-run task should have null stamps, got %+v", gv)
	}
}
