package janitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "dailycast/pkg/logx"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestSweep(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, filepath.Join(dir, "temp_clip_001.mp4"))
	touch(t, filepath.Join(dir, "speech_0.wav"))
	touch(t, filepath.Join(dir, "script.json"))
	touch(t, filepath.Join(dir, "thumbnail.png"))
	if err := os.MkdirAll(filepath.Join(dir, "output_audio"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	touch(t, filepath.Join(dir, "output_audio", "part1.wav"))
	// A directory matched by the temp_ pattern is removed recursively.
	if err := os.MkdirAll(filepath.Join(dir, "temp_frames"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	// Must survive.
	touch(t, filepath.Join(dir, "daily_paper_video.py"))
	touch(t, filepath.Join(dir, "final_video.mp4"))
	touch(t, filepath.Join(dir, "scheduler_state.json"))

	removed, err := Sweep(dir)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 6 {
		t.Fatalf("removed = %d, want 6", removed)
	}

	for _, gone := range []string{"temp_clip_001.mp4", "speech_0.wav", "script.json", "thumbnail.png", "output_audio", "temp_frames"} {
		if _, err := os.Stat(filepath.Join(dir, gone)); !os.IsNotExist(err) {
			t.Fatalf("%s still present", gone)
		}
	}
	for _, kept := range []string{"daily_paper_video.py", "final_video.mp4", "scheduler_state.json"} {
		if _, err := os.Stat(filepath.Join(dir, kept)); err != nil {
			t.Fatalf("%s was removed", kept)
		}
	}
}

func TestSweepEmptyDir(t *testing.T) {
	t.Parallel()

	removed, err := Sweep(t.TempDir())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
}

func TestNewDisabledAndInvalid(t *testing.T) {
	t.Parallel()

	svc, err := New(Config{Enabled: false}, time.UTC, logx.Nop())
	if err != nil || svc != nil {
		t.Fatalf("disabled janitor = (%v, %v), want (nil, nil)", svc, err)
	}
	// Nil-safe lifecycle.
	svc.Start()
	svc.Stop()

	if _, err := New(Config{Enabled: true, At: "25:99"}, time.UTC, logx.Nop()); err == nil {
		t.Fatal("expected error for invalid sweep time")
	}
}

func TestNewSchedules(t *testing.T) {
	t.Parallel()

	svc, err := New(Config{Enabled: true, At: "03:00", Dir: t.TempDir()}, time.UTC, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if svc == nil {
		t.Fatal("enabled janitor is nil")
	}
	entries := svc.c.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}
