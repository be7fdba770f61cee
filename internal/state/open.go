package state

import (
	"errors"
	"strings"

	logx "dailycast/pkg/logx"
)

// Store is the durable mapping from task name to run bookkeeping. The
// running process owns the in-memory copy; the on-disk copy is advisory and
// read only at startup for crash/restart continuity.
type Store interface {
	// Load reads the persisted document. A missing document yields an empty
	// mapping and nil error; an unreadable/corrupt one yields an empty
	// mapping and the underlying error so the caller can log it — startup
	// must never hard-fail on bad state.
	Load() (map[string]*TaskState, error)
	// Save rewrites the full document durably.
	Save(map[string]*TaskState) error
	Close() error
}

// Open initializes the configured store. An empty driver selects "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown state driver: " + driver)
	}
}
