package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected http address: %s", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != "pulse.db" {
		t.Fatalf("unexpected database path: %s", cfg.DatabasePath)
	}
	if cfg.Timezone.String() != "Asia/Tokyo" {
		t.Fatalf("unexpected timezone: %s", cfg.Timezone)
	}
	if cfg.Parallelism != 4 {
		t.Fatalf("unexpected parallelism: %d", cfg.Parallelism)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Fatalf("unexpected cache ttl: %s", cfg.CacheTTL)
	}
	if cfg.SweepInterval != 4*time.Hour {
		t.Fatalf("unexpected sweep interval: %s", cfg.SweepInterval)
	}
	if cfg.SweepWindow != 7 {
		t.Fatalf("unexpected sweep window: %d", cfg.SweepWindow)
	}
	if cfg.SweepBudget != 30*time.Minute {
		t.Fatalf("unexpected sweep budget: %s", cfg.SweepBudget)
	}
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	configViper := NewViper()
	configViper.Set("aggregation.timezone", "Mars/Olympus_Mons")

	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected an error for an unknown zone")
	}
}

func TestLoadAcceptsExplicitTimezone(t *testing.T) {
	configViper := NewViper()
	configViper.Set("aggregation.timezone", "America/New_York")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Timezone.String() != "America/New_York" {
		t.Fatalf("unexpected timezone: %s", cfg.Timezone)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    any
		fragment string
	}{
		{name: "empty database path", key: "database.path", value: "  ", fragment: "database.path"},
		{name: "zero parallelism", key: "aggregation.parallelism", value: 0, fragment: "parallelism"},
		{name: "zero sweep window", key: "sweep.window_days", value: 0, fragment: "window_days"},
		{name: "zero sweep interval", key: "sweep.interval_minutes", value: 0, fragment: "interval_minutes"},
		{name: "zero sweep budget", key: "sweep.run_budget_minutes", value: 0, fragment: "run_budget"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set(tc.key, tc.value)

			_, err := Load(configViper)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.fragment) {
				t.Fatalf("expected error mentioning %q, got %v", tc.fragment, err)
			}
		})
	}
}
