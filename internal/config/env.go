package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	logx "dailycast/pkg/logx"
)

// Environment variables recognized on top of the config file. Per-task
// variables use the upper-cased task name, e.g. DAILYCAST_PAPER_TIME=09:30.
const (
	EnvTZ          = "DAILYCAST_TZ"
	EnvPollMS      = "DAILYCAST_POLL_MS"
	EnvHTTPPort    = "DAILYCAST_HTTP_PORT"
	EnvInterpreter = "DAILYCAST_PYTHON"

	envTaskTimeSuffix  = "_TIME"
	envTaskTestSuffix  = "_TEST"
	envTaskLimitSuffix = "_LIMIT"
	envTaskPrefix      = "DAILYCAST_"
)

// ApplyEnv layers recognized environment variables over cfg in place.
// Malformed values are logged and ignored — environment mistakes must not
// stop the daemon.
func ApplyEnv(cfg *Config, log logx.Logger) {
	if v := strings.TrimSpace(os.Getenv(EnvTZ)); v != "" {
		cfg.Timezone = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPollMS)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollIntervalMS = n
		} else if !log.IsZero() {
			log.Warn("ignoring invalid poll interval", logx.String("var", EnvPollMS), logx.String("value", v))
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvHTTPPort)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < 65536 {
			cfg.HTTP.Port = n
		} else if !log.IsZero() {
			log.Warn("ignoring invalid http port", logx.String("var", EnvHTTPPort), logx.String("value", v))
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvInterpreter)); v != "" {
		cfg.Worker.Interpreter = v
	}

	// Per-task overrides for every task that could exist: built-ins plus any
	// task the file declares.
	names := map[string]struct{}{"paper": {}, "github": {}}
	for name := range cfg.Tasks {
		names[strings.ToLower(name)] = struct{}{}
	}
	for name := range names {
		upper := strings.ToUpper(name)
		tc := TaskConfig{}
		if cfg.Tasks != nil {
			tc = cfg.Tasks[name]
		}
		touched := false

		if v := strings.TrimSpace(os.Getenv(envTaskPrefix + upper + envTaskTimeSuffix)); v != "" {
			tc.At = v
			touched = true
		}
		if v := strings.TrimSpace(os.Getenv(envTaskPrefix + upper + envTaskTestSuffix)); v != "" {
			tc.Test = truthy(v)
			touched = true
		}
		if v := strings.TrimSpace(os.Getenv(envTaskPrefix + upper + envTaskLimitSuffix)); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				tc.Limit = n
				touched = true
			} else if !log.IsZero() {
				log.Warn("ignoring invalid task limit",
					logx.String("var", envTaskPrefix+upper+envTaskLimitSuffix),
					logx.String("value", v))
			}
		}

		if touched {
			if cfg.Tasks == nil {
				cfg.Tasks = map[string]TaskConfig{}
			}
			cfg.Tasks[name] = tc
		}
	}
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// ParseDurationField parses an optional Go duration string from the config,
// naming the offending field in the error. Empty means unset.
func ParseDurationField(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", field, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", field, raw)
	}
	return d, nil
}

// ---- Effective values (defaults applied) ----

const (
	defaultPollInterval = 30 * time.Second
	defaultHTTPAddr     = "127.0.0.1"
	defaultHTTPPort     = 8787
	defaultStatePath    = "./scheduler_state.json"
	defaultBootFile     = "./boot.log"
)

func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalMS > 0 {
		return time.Duration(c.PollIntervalMS) * time.Millisecond
	}
	return defaultPollInterval
}

func (c *Config) HTTPListenAddr() string {
	addr := strings.TrimSpace(c.HTTP.Addr)
	if addr == "" {
		addr = defaultHTTPAddr
	}
	port := c.HTTP.Port
	if port <= 0 || port > 65535 {
		port = defaultHTTPPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

func (c *Config) TriggerRatePerMin() int {
	if c.HTTP.TriggerRatePerMin > 0 {
		return c.HTTP.TriggerRatePerMin
	}
	return 6
}

func (c *Config) StatePath() string {
	if p := strings.TrimSpace(c.State.Path); p != "" {
		return p
	}
	return defaultStatePath
}

func (c *Config) BootFile() string {
	if p := strings.TrimSpace(c.Logging.BootFile); p != "" {
		return p
	}
	return defaultBootFile
}

func (c *Config) WorkDir() string {
	if d := strings.TrimSpace(c.Worker.WorkDir); d != "" {
		return d
	}
	return "."
}

func (c *Config) JanitorAt() string {
	if c.Janitor != nil {
		if at := strings.TrimSpace(c.Janitor.At); at != "" {
			return at
		}
	}
	return "03:00"
}
