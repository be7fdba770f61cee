// Package janitor removes the intermediate artifacts the video workers
// leave in the work directory (temp media chunks, speech segments, the
// per-run script and thumbnail). Runs once a day on a cron schedule in the
// daemon's zone.
package janitor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"dailycast/internal/task"
	logx "dailycast/pkg/logx"
)

// Artifacts matched inside the work directory. Workers recreate all of
// these on their next run.
var (
	globPatterns = []string{"temp_*", "speech_*"}
	exactNames   = []string{"script.json", "thumbnail.png"}
	dirNames     = []string{"output_audio"}
)

type Config struct {
	Enabled bool
	At      string // "HH:MM", default 03:00
	Dir     string // work directory to sweep
}

type Service struct {
	log logx.Logger
	dir string
	c   *cron.Cron
}

// New schedules the daily sweep in loc. Returns (nil, nil) when disabled.
func New(cfg Config, loc *time.Location, log logx.Logger) (*Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	at := cfg.At
	if at == "" {
		at = "03:00"
	}
	h, m, err := task.ParseHHMM(at)
	if err != nil {
		return nil, fmt.Errorf("janitor time: %w", err)
	}

	s := &Service{log: log, dir: cfg.Dir, c: cron.New(cron.WithLocation(loc))}
	if _, err := s.c.AddFunc(fmt.Sprintf("%d %d * * *", m, h), s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the cron loop; nil-safe like the notifier.
func (s *Service) Start() {
	if s == nil {
		return
	}
	s.c.Start()
}

// Stop halts scheduling; an in-progress sweep finishes.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	<-s.c.Stop().Done()
}

func (s *Service) sweep() {
	removed, err := Sweep(s.dir)
	if err != nil {
		s.log.Warn("cleanup incomplete", logx.String("dir", s.dir), logx.Int("removed", removed), logx.Err(err))
		return
	}
	s.log.Info("cleanup done", logx.String("dir", s.dir), logx.Int("removed", removed))
}

// Sweep deletes worker artifacts under dir and reports how many entries
// were removed. Missing entries are not errors; the first removal failure
// is returned after attempting the rest.
func Sweep(dir string) (int, error) {
	removed := 0
	var firstErr error

	remove := func(path string) {
		if _, err := os.Stat(path); err != nil {
			return
		}
		if err := os.RemoveAll(path); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		removed++
	}

	for _, pat := range globPatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pat))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, m := range matches {
			remove(m)
		}
	}
	for _, name := range exactNames {
		remove(filepath.Join(dir, name))
	}
	for _, name := range dirNames {
		remove(filepath.Join(dir, name))
	}
	return removed, firstErr
}
