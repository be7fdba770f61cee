// Package sched is the heart of the daemon: a polling scheduler that fires
// each registered task at most once per zoned calendar day and supervises
// the spawned worker until it exits.
//
// The due check is a standing condition re-evaluated every tick, not an
// edge trigger: a daemon started (or restarted) after a task's trigger time
// still runs it, as long as it has not succeeded today.
package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dailycast/internal/clock"
	"dailycast/internal/state"
	"dailycast/internal/task"
	logx "dailycast/pkg/logx"
)

// ErrUnknownTask is returned by Trigger for names not in the registry.
var ErrUnknownTask = errors.New("unknown task")

// Trigger reasons recorded in task state.
const (
	ReasonSchedule = "schedule"
	ReasonManual   = "manual"
)

// Event describes a finished worker run, published to the completion hook.
type Event struct {
	Task     string
	Reason   string
	ExitCode int
	Success  bool
	Err      string
	Date     string
	Time     string
}

// Deps wires a Service. Clock, Store and Spawner are required; Now is a
// test seam defaulting to Clock.Now.
type Deps struct {
	Log     logx.Logger
	Clock   *clock.Resolver
	Store   state.Store
	Spawner Spawner

	Tasks    []task.Task
	States   map[string]*state.TaskState
	Interval time.Duration

	// OnDone, when set, receives one Event per finished run. Called with the
	// service lock held; it must not block or call back into the Service.
	OnDone func(Event)

	Now func() clock.Zoned
}

// Service owns the task registry, the in-memory run state and the poll
// loop. All state mutation happens under one mutex; at-most-one run per
// task is enforced by the Running flag, never by timing.
type Service struct {
	log     logx.Logger
	clk     *clock.Resolver
	store   state.Store
	spawner Spawner
	now     func() clock.Zoned
	onDone  func(Event)

	startedAt time.Time

	mu       sync.Mutex
	tasks    []task.Task
	byName   map[string]task.Task
	states   map[string]*state.TaskState
	interval time.Duration
	interp   string
}

func New(d Deps) *Service {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = d.Clock.Now
	}
	if d.Interval <= 0 {
		d.Interval = 30 * time.Second
	}
	if d.States == nil {
		d.States = map[string]*state.TaskState{}
	}
	s := &Service{
		log:       d.Log,
		clk:       d.Clock,
		store:     d.Store,
		spawner:   d.Spawner,
		now:       d.Now,
		onDone:    d.OnDone,
		startedAt: time.Now(),
		states:    d.States,
		interval:  d.Interval,
	}
	s.setTasks(d.Tasks)
	return s
}

// SetTasks swaps the registry (config reload). Run state is keyed by name
// and survives the swap, so a mid-run task keeps its Running flag.
func (s *Service) SetTasks(tasks []task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setTasks(tasks)
}

func (s *Service) setTasks(tasks []task.Task) {
	s.tasks = tasks
	s.byName = make(map[string]task.Task, len(tasks))
	for _, t := range tasks {
		s.byName[t.Name] = t
	}
}

// SetInterval changes the poll cadence; picked up after the next tick.
func (s *Service) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

func (s *Service) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Known reports whether name is a registered task.
func (s *Service) Known(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byName[name]
	return ok
}

// Run drives the poll loop until ctx is canceled. One due evaluation runs
// immediately so a restart just past trigger time does not wait a full
// interval.
func (s *Service) Run(ctx context.Context) error {
	s.Tick()
	cur := s.Interval()
	ticker := time.NewTicker(cur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick()
			if iv := s.Interval(); iv != cur {
				cur = iv
				ticker.Reset(cur)
			}
		}
	}
}

// Tick evaluates every task against one consistent zoned now and starts
// whatever is due.
func (s *Service) Tick() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if s.dueLocked(t, now) {
			s.startLocked(t, ReasonSchedule, now)
		}
	}
}

// dueLocked is the standing once-per-day condition: not already running,
// no success stamped for today's zoned date, and the zoned wall clock has
// reached the trigger time.
func (s *Service) dueLocked(t task.Task, now clock.Zoned) bool {
	st := s.states[t.Name]
	if st != nil {
		if st.Running {
			return false
		}
		if st.LastSuccessDate == now.DateStr {
			return false
		}
	}
	return now.MinuteOfDay() >= t.TriggerMinute()
}

// Trigger starts a task outside the schedule. Unknown names return
// ErrUnknownTask; a task already running is a logged no-op — the manual
// path ignores the once-per-day stamp but never doubles up a worker.
func (s *Service) Trigger(name, reason string) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byName[name]
	if !ok {
		return ErrUnknownTask
	}
	if st := s.states[name]; st != nil && st.Running {
		s.log.Info("trigger ignored, task already running",
			logx.String("task", name), logx.String("reason", reason))
		return nil
	}
	s.startLocked(t, reason, now)
	return nil
}

// startLocked stamps the attempt, persists, and spawns the worker. The
// Running flag is set before spawning so a concurrent tick or trigger
// cannot double-start.
func (s *Service) startLocked(t task.Task, reason string, now clock.Zoned) {
	st := s.states[t.Name]
	if st == nil {
		st = &state.TaskState{}
		s.states[t.Name] = st
	}
	st.Running = true
	st.LastAttemptDate = now.DateStr
	st.LastAttemptTime = now.TimeStr
	st.LastReason = reason
	st.LastError = ""
	s.persistLocked()

	s.log.Info("starting task",
		logx.String("task", t.Name), logx.String("script", t.Script),
		logx.String("reason", reason), logx.String("at", now.TimeStr))

	proc, err := s.spawner.Start(t)
	if err != nil {
		s.log.Error("spawn failed", logx.String("task", t.Name), logx.Err(err))
		s.spawnFailedLocked(t.Name, reason, err, s.now())
		return
	}

	go func() {
		code, werr := proc.Wait()
		s.finish(t.Name, reason, code, werr)
	}()
}

func (s *Service) finish(name, reason string, code int, runErr error) {
	now := s.now()
	s.mu.Lock()
	s.finishLocked(name, reason, code, runErr, now)
	s.mu.Unlock()
}

// finishLocked records the outcome of a worker that actually ran. Only exit
// code 0 stamps a success date, which is what arms the next-day due check;
// any failure leaves the task eligible again on the next poll (and the
// Running flag keeps polls from stacking runs, so a persistently failing
// task retries once per interval). A non-zero exit is described by its exit
// code alone — LastError is the spawn-failure field and stays empty here,
// though the detail still reaches the log and the completion event.
func (s *Service) finishLocked(name, reason string, code int, runErr error, now clock.Zoned) {
	st := s.states[name]
	if st == nil {
		st = &state.TaskState{}
		s.states[name] = st
	}
	st.Running = false
	st.LastFinishDate = now.DateStr
	st.LastFinishTime = now.TimeStr
	c := code
	st.LastExitCode = &c

	ev := Event{Task: name, Reason: reason, ExitCode: code, Date: now.DateStr, Time: now.TimeStr}
	if code == 0 && runErr == nil {
		st.LastSuccessDate = now.DateStr
		st.LastSuccessTime = now.TimeStr
		ev.Success = true
		s.log.Info("task finished", logx.String("task", name), logx.Int("exit_code", code))
	} else {
		msg := fmt.Sprintf("exit status %d", code)
		if runErr != nil {
			msg = runErr.Error()
		}
		ev.Err = msg
		s.log.Error("task failed",
			logx.String("task", name), logx.Int("exit_code", code), logx.String("error", msg))
	}
	s.persistLocked()

	if s.onDone != nil {
		s.onDone(ev)
	}
}

// spawnFailedLocked records a worker that never started (interpreter or
// script missing, permission denied). This is the only path that populates
// LastError; for retry purposes it counts as a failed run with exit code 1.
func (s *Service) spawnFailedLocked(name, reason string, err error, now clock.Zoned) {
	st := s.states[name]
	if st == nil {
		st = &state.TaskState{}
		s.states[name] = st
	}
	st.Running = false
	st.LastFinishDate = now.DateStr
	st.LastFinishTime = now.TimeStr
	c := 1
	st.LastExitCode = &c
	st.LastError = err.Error()
	s.persistLocked()

	if s.onDone != nil {
		s.onDone(Event{
			Task: name, Reason: reason, ExitCode: 1,
			Err: err.Error(), Date: now.DateStr, Time: now.TimeStr,
		})
	}
}

// persistLocked saves the full state document. Persistence failures are
// logged and swallowed: the in-memory state stays authoritative and a later
// save will catch up.
func (s *Service) persistLocked() {
	if s.store == nil {
		return
	}
	if err := s.store.Save(s.states); err != nil {
		s.log.Error("state save failed", logx.Err(err))
	}
}
