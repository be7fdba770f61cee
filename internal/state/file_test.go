package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	logx "dailycast/pkg/logx"
)

func openTestStore(t *testing.T) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scheduler_state.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st, path
}

func TestLoadMissingFileYieldsEmpty(t *testing.T) {
	t.Parallel()
	st, _ := openTestStore(t)
	m, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m) != 0 {
		t.Fatalf("expected empty mapping, got %d entries", len(m))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	st, _ := openTestStore(t)

	code := 137
	in := map[string]*TaskState{
		"paper": {
			Running:         false,
			LastAttemptDate: "2025-08-01",
			LastAttemptTime: "10:00:12",
			LastFinishDate:  "2025-08-01",
			LastFinishTime:  "10:41:03",
			LastSuccessDate: "2025-07-31",
			LastSuccessTime: "10:39:55",
			LastExitCode:    &code,
			LastReason:      "schedule",
			LastError:       "signal: killed",
		},
		"github": {},
	}
	if err := st.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Simulated restart: a fresh load must reproduce every field.
	out, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in["paper"], out["paper"])
	}
}

func TestLoadCorruptFileYieldsEmptyWithError(t *testing.T) {
	t.Parallel()
	st, path := openTestStore(t)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt write: %v", err)
	}

	m, err := st.Load()
	if err == nil {
		t.Fatal("expected error for corrupt state file")
	}
	if len(m) != 0 {
		t.Fatalf("expected empty mapping, got %d entries", len(m))
	}

	// Subsequent Save must overwrite the corrupt file with valid JSON.
	if err := st.Save(map[string]*TaskState{"paper": {Running: true}}); err != nil {
		t.Fatalf("Save after corruption: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var chk map[string]*TaskState
	if err := json.Unmarshal(b, &chk); err != nil {
		t.Fatalf("state file not valid JSON after save: %v", err)
	}
	if !chk["paper"].Running {
		t.Fatal("saved state lost running flag")
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	t.Parallel()
	st, path := openTestStore(t)
	if err := st.Save(map[string]*TaskState{"github": {}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("canonical file missing: %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
