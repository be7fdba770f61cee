package app

import (
	"strings"
	"testing"

	"dailycast/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *config.Config
		wantErr string
	}{
		{"nil", nil, ""},
		{"empty", &config.Config{}, ""},
		{"good timezone", &config.Config{Timezone: "UTC"}, ""},
		{"bad timezone", &config.Config{Timezone: "Mars/Olympus"}, "timezone"},
		{"negative poll", &config.Config{PollIntervalMS: -1}, "poll_interval_ms"},
		{"bad port", &config.Config{HTTP: config.HTTPConfig{Port: 70000}}, "http.port"},
		{
			"bad task time",
			&config.Config{Tasks: map[string]config.TaskConfig{"paper": {At: "25:00"}}},
			"tasks.paper.at",
		},
		{
			"good task time",
			&config.Config{Tasks: map[string]config.TaskConfig{"paper": {At: "9:30"}}},
			"",
		},
		{
			"negative limit",
			&config.Config{Tasks: map[string]config.TaskConfig{"github": {Limit: -2}}},
			"tasks.github.limit",
		},
		{
			"bad janitor time",
			&config.Config{Janitor: &config.JanitorConfig{At: "3am"}},
			"janitor.at",
		},
		{
			"bad busy timeout",
			&config.Config{State: config.StateConfig{BusyTimeout: "fast"}},
			"state.busy_timeout",
		},
		{
			"good busy timeout",
			&config.Config{State: config.StateConfig{BusyTimeout: "5s"}},
			"",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := validate(tc.cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("validate = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}
