package sched

import (
	"bytes"
	"os"
	"os/exec"
	"strings"

	"dailycast/internal/task"
	logx "dailycast/pkg/logx"
)

// Spawner starts one worker process for a task. The returned Process
// reports the exit code once the worker finishes.
type Spawner interface {
	Start(t task.Task) (Process, error)
}

// Process is a handle to a started worker.
type Process interface {
	// Wait blocks until the worker exits and returns its exit code.
	// A non-nil error carries detail beyond the code (signal, wait failure).
	Wait() (int, error)
}

// standardPaths are always merged into the worker PATH so scripts find
// system tools regardless of how the daemon itself was launched
// (systemd units carry a minimal PATH).
var standardPaths = []string{"/usr/local/bin", "/usr/bin", "/bin"}

// ExecSpawner runs workers via the configured interpreter with the work
// directory and environment contract the pipeline scripts expect.
//
// Workers are deliberately not bound to a context: daemon shutdown leaves
// in-flight renders running to completion rather than killing them mid-way.
type ExecSpawner struct {
	Interpreter string
	Dir         string
	ExtraPaths  []string
	Log         logx.Logger
}

func (e *ExecSpawner) Start(t task.Task) (Process, error) {
	argv := append([]string{t.Script}, t.Args...)
	cmd := exec.Command(e.Interpreter, argv...)
	cmd.Dir = e.Dir
	cmd.Env = workerEnv(os.Environ(), t.Env, e.ExtraPaths)

	out := &lineWriter{log: e.Log, task: t.Name, stream: "stdout"}
	errw := &lineWriter{log: e.Log, task: t.Name, stream: "stderr"}
	cmd.Stdout = out
	cmd.Stderr = errw

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, out: out, errw: errw}, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	out  *lineWriter
	errw *lineWriter
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	p.out.Close()
	p.errw.Close()
	if err == nil {
		return 0, nil
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode(), err
	}
	return -1, err
}

// ResolveInterpreter picks the python executable workers run under. The
// config override wins; otherwise python3 then python from PATH; as a last
// resort the bare name is returned and spawn will fail with a clear error.
func ResolveInterpreter(override string) string {
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return "python3"
}

// workerEnv merges the process environment with per-task overrides, rebuilds
// PATH with the standard directories merged in, and forces PYTHONUNBUFFERED
// so worker output arrives line by line instead of on exit.
func workerEnv(base []string, overrides map[string]string, extraPaths []string) []string {
	env := append([]string(nil), base...)
	for k, v := range overrides {
		env = setEnv(env, k, v)
	}
	env = setEnv(env, "PATH", augmentPath(getEnv(env, "PATH"), extraPaths))
	env = setEnv(env, "PYTHONUNBUFFERED", "1")
	return env
}

func getEnv(env []string, key string) string {
	prefix := key + "="
	for i := len(env) - 1; i >= 0; i-- {
		if strings.HasPrefix(env[i], prefix) {
			return env[i][len(prefix):]
		}
	}
	return ""
}

func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// augmentPath appends standard and configured directories to cur, keeping
// the existing order and dropping duplicates and empties.
func augmentPath(cur string, extra []string) string {
	seen := map[string]struct{}{}
	var parts []string
	add := func(p string) {
		if p == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		parts = append(parts, p)
	}
	for _, p := range strings.Split(cur, string(os.PathListSeparator)) {
		add(p)
	}
	for _, p := range standardPaths {
		add(p)
	}
	for _, p := range extra {
		add(strings.TrimSpace(p))
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

// lineWriter buffers a worker stream and logs one entry per complete line,
// tagged with the task name. The trailing partial line, if any, is flushed
// on Close so nothing a worker printed is lost.
type lineWriter struct {
	log    logx.Logger
	task   string
	stream string
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) Close() error {
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
	return nil
}

func (w *lineWriter) emit(line []byte) {
	msg := strings.TrimSuffix(string(line), "\r")
	fields := []logx.Field{logx.String("task", w.task), logx.String("stream", w.stream)}
	if w.stream == "stderr" {
		w.log.Warn(msg, fields...)
		return
	}
	w.log.Info(msg, fields...)
}
