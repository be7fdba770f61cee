package state

import "errors"

var ErrDisabled = errors.New("state store disabled")

// Config configures run-state persistence.
//
// Driver values:
//   - "file": single JSON document, temp-file + atomic rename (default)
//   - "sqlite": SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout string // Go duration string, sqlite only
}

// TaskState is the persisted per-task run bookkeeping. Date/time stamps are
// zoned calendar strings ("2006-01-02" / "15:04:05"); empty means "never".
type TaskState struct {
	Running bool `json:"running"`

	LastAttemptDate string `json:"last_attempt_date,omitempty"`
	LastAttemptTime string `json:"last_attempt_time,omitempty"`
	LastFinishDate  string `json:"last_finish_date,omitempty"`
	LastFinishTime  string `json:"last_finish_time,omitempty"`
	LastSuccessDate string `json:"last_success_date,omitempty"`
	LastSuccessTime string `json:"last_success_time,omitempty"`

	LastExitCode *int   `json:"last_exit_code,omitempty"`
	LastReason   string `json:"last_reason,omitempty"`
	// LastError is set only when the worker could not be spawned at all;
	// a worker that ran and exited non-zero is described by LastExitCode.
	LastError string `json:"last_error,omitempty"`
}

// Clone returns a copy safe to hand out in snapshots.
func (s *TaskState) Clone() *TaskState {
	if s == nil {
		return nil
	}
	cp := *s
	if s.LastExitCode != nil {
		v := *s.LastExitCode
		cp.LastExitCode = &v
	}
	return &cp
}
