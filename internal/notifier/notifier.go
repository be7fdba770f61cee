// Package notifier pushes run outcomes to a Telegram chat. It is strictly
// best-effort: the queue drops when full and send failures are logged, so a
// dead bot token can never stall the scheduler.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"dailycast/internal/sched"
	logx "dailycast/pkg/logx"
)

type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	RatePerSec float64
	// OnSuccess also announces clean finishes; failures are always sent.
	OnSuccess bool
}

// sender is the slice of *tele.Bot the worker needs; swapped in tests.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Service struct {
	log       logx.Logger
	bot       sender
	chat      tele.ChatID
	onSuccess bool
	limiter   *rate.Limiter
	queue     chan string
	dropped   uint64
}

// New builds the notifier, or (nil, nil) when disabled/unconfigured so the
// caller can wire it conditionally.
func New(cfg Config, log logx.Logger) (*Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if strings.TrimSpace(cfg.Token) == "" || cfg.ChatID == 0 {
		return nil, errors.New("notifier enabled but token or chat_id missing")
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return newWith(cfg, bot, log), nil
}

func newWith(cfg Config, bot sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	per := cfg.RatePerSec
	if per <= 0 {
		per = 0.5
	}
	return &Service{
		log:       log,
		bot:       bot,
		chat:      tele.ChatID(cfg.ChatID),
		onSuccess: cfg.OnSuccess,
		limiter:   rate.NewLimiter(rate.Limit(per), 3),
		queue:     make(chan string, 32),
	}
}

// Notify enqueues one event. Never blocks; over a full queue the event is
// counted and dropped.
func (s *Service) Notify(ev sched.Event) {
	if s == nil {
		return
	}
	if ev.Success && !s.onSuccess {
		return
	}
	select {
	case s.queue <- format(ev):
	default:
		atomic.AddUint64(&s.dropped, 1)
	}
}

// Dropped reports how many events were discarded on a full queue.
func (s *Service) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return atomic.LoadUint64(&s.dropped)
}

// Run drains the queue until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
			if err := s.send(msg); err != nil {
				s.log.Warn("notification send failed", logx.Err(err))
			}
		}
	}
}

func (s *Service) send(msg string) error {
	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(s.chat, msg)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(15 * time.Second):
		return errors.New("telegram send timed out")
	}
}

func format(ev sched.Event) string {
	if ev.Success {
		return fmt.Sprintf("✅ %s finished (%s, %s %s)", ev.Task, ev.Reason, ev.Date, ev.Time)
	}
	msg := fmt.Sprintf("❌ %s failed with exit code %d (%s, %s %s)", ev.Task, ev.ExitCode, ev.Reason, ev.Date, ev.Time)
	if ev.Err != "" && ev.Err != "exit status" {
		msg += "\n" + ev.Err
	}
	return msg
}
