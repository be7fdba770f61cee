// Package task defines the fixed, ordered registry of daily jobs the
// scheduler drives. Tasks are built once at startup (or config reload) and
// immutable afterwards; argument augmentation from test/limit settings is a
// configuration-time decision.
package task

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"dailycast/internal/config"
	logx "dailycast/pkg/logx"
)

// DefaultHour/DefaultMinute are the documented fallback trigger time used
// when a configured HH:MM value does not parse. A bad environment value must
// not stop the whole process.
const (
	DefaultHour   = 10
	DefaultMinute = 0
)

// Task is one named job backed by an external worker script.
type Task struct {
	Name   string
	Script string
	Args   []string
	Env    map[string]string

	Hour   int
	Minute int
}

// Schedule returns the daily trigger time as "HH:MM".
func (t Task) Schedule() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// TriggerMinute is the trigger time as minute-of-day, for due comparisons.
func (t Task) TriggerMinute() int { return t.Hour*60 + t.Minute }

// Built-in tasks mirror the daily worker scripts this daemon supervises.
// limitFlag is the per-task bounded numeric argument: max papers for the
// paper pipeline, lookback days for the github one.
type builtin struct {
	name      string
	script    string
	at        string
	limitFlag string
}

var builtins = []builtin{
	{name: "paper", script: "daily_paper_video.py", at: "10:00", limitFlag: "--papers"},
	{name: "github", script: "daily_github_video.py", at: "11:00", limitFlag: "--days"},
}

// Build produces the ordered task set: built-ins first, then any extra
// script tasks from config sorted by name. Returns at least the enabled
// built-ins; configuration problems degrade to defaults, never to an error.
func Build(cfg *config.Config, log logx.Logger) []Task {
	var out []Task

	for _, b := range builtins {
		tc := cfg.Tasks[b.name]
		if tc.Disabled {
			log.Info("task disabled via config", logx.String("task", b.name))
			continue
		}
		out = append(out, assemble(b.name, b.script, b.at, b.limitFlag, tc, log))
	}

	// Extra tasks: anything in config that is not a built-in and names a script.
	extra := make([]string, 0, len(cfg.Tasks))
	for name := range cfg.Tasks {
		if isBuiltin(name) {
			continue
		}
		extra = append(extra, name)
	}
	sort.Strings(extra)
	for _, name := range extra {
		tc := cfg.Tasks[name]
		if tc.Disabled {
			continue
		}
		if strings.TrimSpace(tc.Script) == "" {
			log.Warn("extra task has no script; skipping", logx.String("task", name))
			continue
		}
		out = append(out, assemble(name, tc.Script, tc.At, tc.LimitFlag, tc, log))
	}

	return out
}

func isBuiltin(name string) bool {
	for _, b := range builtins {
		if b.name == name {
			return true
		}
	}
	return false
}

func assemble(name, script, defaultAt, limitFlag string, tc config.TaskConfig, log logx.Logger) Task {
	at := strings.TrimSpace(tc.At)
	if at == "" {
		at = defaultAt
	}
	h, m, err := ParseHHMM(at)
	if err != nil {
		log.Warn("invalid trigger time; using default",
			logx.String("task", name), logx.String("at", at),
			logx.String("default", fmt.Sprintf("%02d:%02d", DefaultHour, DefaultMinute)), logx.Err(err))
		h, m = DefaultHour, DefaultMinute
	}

	args := []string{"--once"}
	args = append(args, tc.Args...)
	if tc.Test {
		args = append(args, "--test")
	}
	if tc.Limit > 0 && limitFlag != "" {
		args = append(args, limitFlag, strconv.Itoa(tc.Limit))
	}

	var env map[string]string
	if len(tc.Env) > 0 {
		env = make(map[string]string, len(tc.Env))
		for k, v := range tc.Env {
			env[k] = v
		}
	}

	return Task{Name: name, Script: script, Args: args, Env: env, Hour: h, Minute: m}
}

// ParseHHMM accepts "H:MM" or "HH:MM" with hour in [0,23] and minute in [0,59].
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
