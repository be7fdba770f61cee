package sched

import "time"

// Stamp is one zoned calendar timestamp in a snapshot.
type Stamp struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// TaskView is the externally visible run state of one task.
type TaskView struct {
	Schedule     string `json:"schedule"`
	Running      bool   `json:"running"`
	LastAttempt  *Stamp `json:"last_attempt"`
	LastFinish   *Stamp `json:"last_finish"`
	LastSuccess  *Stamp `json:"last_success"`
	LastExitCode *int   `json:"last_exit_code"`
	LastReason   string `json:"last_reason,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

// Snapshot is the full status document served by the control plane.
type Snapshot struct {
	Timezone      string              `json:"timezone"`
	Date          string              `json:"date"`
	Time          string              `json:"time"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Interpreter   string              `json:"interpreter"`
	Tasks         map[string]TaskView `json:"tasks"`
}

// Interpreter path shown in snapshots; set once at wiring time.
func (s *Service) SetInterpreter(path string) {
	s.mu.Lock()
	s.interp = path
	s.mu.Unlock()
}

// Snapshot builds a consistent point-in-time view.
func (s *Service) Snapshot() Snapshot {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make(map[string]TaskView, len(s.tasks))
	for _, t := range s.tasks {
		v := TaskView{Schedule: t.Schedule()}
		if st := s.states[t.Name]; st != nil {
			v.Running = st.Running
			v.LastAttempt = stamp(st.LastAttemptDate, st.LastAttemptTime)
			v.LastFinish = stamp(st.LastFinishDate, st.LastFinishTime)
			v.LastSuccess = stamp(st.LastSuccessDate, st.LastSuccessTime)
			if st.LastExitCode != nil {
				c := *st.LastExitCode
				v.LastExitCode = &c
			}
			v.LastReason = st.LastReason
			v.LastError = st.LastError
		}
		views[t.Name] = v
	}

	return Snapshot{
		Timezone:      s.clk.Zone(),
		Date:          now.DateStr,
		Time:          now.TimeStr,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Interpreter:   s.interp,
		Tasks:         views,
	}
}

func stamp(date, tm string) *Stamp {
	if date == "" {
		return nil
	}
	return &Stamp{Date: date, Time: tm}
}
