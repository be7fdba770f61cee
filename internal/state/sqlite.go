//go:build sqlite
// +build sqlite

package state

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "dailycast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("state.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if bt := strings.TrimSpace(cfg.BusyTimeout); bt != "" {
		if d, err := time.ParseDuration(bt); err == nil && d > 0 {
			_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", d.Milliseconds()))
		}
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate() error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.Exec(string(b))
	return err
}

func (s *sqliteStore) Load() (map[string]*TaskState, error) {
	out := map[string]*TaskState{}
	rows, err := s.db.Query(
		`SELECT name, running, last_attempt_date, last_attempt_time,
		        last_finish_date, last_finish_time, last_success_date,
		        last_success_time, last_exit_code, last_reason, last_error
		   FROM task_state`)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name    string
			running int
			ad, at  sql.NullString
			fd, ft  sql.NullString
			sd, st2 sql.NullString
			code    sql.NullInt64
			reason  sql.NullString
			lastErr sql.NullString
		)
		if err := rows.Scan(&name, &running, &ad, &at, &fd, &ft, &sd, &st2, &code, &reason, &lastErr); err != nil {
			return map[string]*TaskState{}, err
		}
		ts := &TaskState{
			Running:         running != 0,
			LastAttemptDate: ad.String,
			LastAttemptTime: at.String,
			LastFinishDate:  fd.String,
			LastFinishTime:  ft.String,
			LastSuccessDate: sd.String,
			LastSuccessTime: st2.String,
			LastReason:      reason.String,
			LastError:       lastErr.String,
		}
		if code.Valid {
			v := int(code.Int64)
			ts.LastExitCode = &v
		}
		out[name] = ts
	}
	if err := rows.Err(); err != nil {
		return map[string]*TaskState{}, err
	}
	return out, nil
}

func (s *sqliteStore) Save(m map[string]*TaskState) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for name, ts := range m {
		if ts == nil {
			ts = &TaskState{}
		}
		running := 0
		if ts.Running {
			running = 1
		}
		var code sql.NullInt64
		if ts.LastExitCode != nil {
			code = sql.NullInt64{Int64: int64(*ts.LastExitCode), Valid: true}
		}
		_, err := tx.Exec(
			`INSERT INTO task_state(name, running, last_attempt_date, last_attempt_time,
			                        last_finish_date, last_finish_time, last_success_date,
			                        last_success_time, last_exit_code, last_reason, last_error)
			 VALUES(?,?,?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(name) DO UPDATE SET
			   running=excluded.running,
			   last_attempt_date=excluded.last_attempt_date,
			   last_attempt_time=excluded.last_attempt_time,
			   last_finish_date=excluded.last_finish_date,
			   last_finish_time=excluded.last_finish_time,
			   last_success_date=excluded.last_success_date,
			   last_success_time=excluded.last_success_time,
			   last_exit_code=excluded.last_exit_code,
			   last_reason=excluded.last_reason,
			   last_error=excluded.last_error`,
			name, running,
			nullStr(ts.LastAttemptDate), nullStr(ts.LastAttemptTime),
			nullStr(ts.LastFinishDate), nullStr(ts.LastFinishTime),
			nullStr(ts.LastSuccessDate), nullStr(ts.LastSuccessTime),
			code, nullStr(ts.LastReason), nullStr(ts.LastError),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
