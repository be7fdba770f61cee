// Package httpapi is the local control plane: a health snapshot and a
// manual trigger endpoint. It is deliberately unauthenticated and binds to
// loopback by default; anything reachable here is equivalent to local shell
// access on the box.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"dailycast/internal/sched"
	logx "dailycast/pkg/logx"
)

// Scheduler is the part of the scheduler the control plane talks to.
type Scheduler interface {
	Known(name string) bool
	Trigger(name, reason string) error
	Snapshot() sched.Snapshot
}

type Config struct {
	Addr string
	// TriggerRatePerMin caps manual /run requests. Health is never limited.
	TriggerRatePerMin int
}

type Service struct {
	cfg     Config
	log     logx.Logger
	sched   Scheduler
	limiter *rate.Limiter
}

func New(cfg Config, s Scheduler, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	perMin := cfg.TriggerRatePerMin
	if perMin <= 0 {
		perMin = 6
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		sched:   s,
		limiter: rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin),
	}
}

// Run serves until ctx is canceled. A bind failure is returned so the
// hosting restart loop retries with backoff while the scheduler keeps
// running; the control plane is never load-bearing for scheduling.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.log.Error("control plane listen failed", logx.String("addr", s.cfg.Addr), logx.Err(err))
		return err
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("control plane listening", logx.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the route table; split out for httptest.
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(s.route)
}

func (s *Service) route(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path := r.URL.Path
	switch {
	case path == "/health":
		s.writeJSON(w, http.StatusOK, s.sched.Snapshot())
	case strings.HasPrefix(path, "/run/"):
		s.handleRun(w, r, strings.TrimPrefix(path, "/run/"))
	case path == "/run" || path == "/run/":
		s.writeError(w, http.StatusBadRequest, "missing task name")
	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Service) handleRun(w http.ResponseWriter, r *http.Request, name string) {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "/") {
		s.writeError(w, http.StatusBadRequest, "bad task path")
		return
	}
	if !s.sched.Known(name) {
		s.writeError(w, http.StatusNotFound, "unknown task: "+name)
		return
	}
	if !s.limiter.Allow() {
		s.writeError(w, http.StatusTooManyRequests, "trigger rate exceeded")
		return
	}

	s.log.Info("manual trigger", logx.String("task", name), logx.String("remote", r.RemoteAddr))
	if err := s.sched.Trigger(name, sched.ReasonManual); err != nil {
		// Registry and scheduler disagree only across a reload race.
		s.writeError(w, http.StatusNotFound, "unknown task: "+name)
		return
	}
	s.writeJSON(w, http.StatusAccepted, s.sched.Snapshot())
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		s.log.Error("response encode failed", logx.Err(err))
		body = []byte(`{"error": "encoding failure"}`)
		status = http.StatusInternalServerError
	}
	body = append(body, '\n')
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Service) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorBody{Error: msg})
}
