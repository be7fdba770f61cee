package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "dailycast/pkg/logx"
)

// fileStore keeps the whole mapping in one pretty-printed JSON document.
// Writes go to a temp file in the same directory followed by an atomic
// rename, so a crash mid-write never leaves a truncated state file.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("state.path is required for file driver")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Load() (map[string]*TaskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*TaskState{}, nil
		}
		return map[string]*TaskState{}, err
	}

	var m map[string]*TaskState
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]*TaskState{}, err
	}
	if m == nil {
		m = map[string]*TaskState{}
	}
	for name, st := range m {
		if st == nil {
			m[name] = &TaskState{}
		}
	}
	return m, nil
}

func (s *fileStore) Save(m map[string]*TaskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		// Best-effort cleanup; the canonical file is still the previous one.
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *fileStore) Close() error { return nil }
