package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gpuwatch/internal/task/scheduler"
	logx "gpuwatch/pkg/logx"
)

// Validate reports every problem found in cfg (joined). cfg is expected to
// have passed through ApplyDefaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	n := 0
	for _, r := range cfg.Recipients {
		if strings.TrimSpace(r) != "" {
			n++
		}
	}
	if n == 0 {
		add("recipients: at least one recipient is required")
	}
	if cfg.SendLimit <= 0 {
		add("send_limit: must be > 0 (got %d)", cfg.SendLimit)
	}

	p := cfg.Policy
	if r := p.MemoryRatio; r != nil && (*r < 0 || *r > 1) {
		add("policy.memory_ratio: must be within [0,1] (got %v)", *r)
	}
	if u := p.UtilizationPercent; u != nil && (*u < 0 || *u > 100) {
		add("policy.utilization_percent: must be within [0,100] (got %v)", *u)
	}
	if p.BusyTolerance != nil && *p.BusyTolerance < 0 {
		add("policy.busy_tolerance: must be >= 0 (got %d)", *p.BusyTolerance)
	}

	for _, s := range []struct{ path, raw string }{
		{"schedule.poll", cfg.Schedule.Poll},
		{"schedule.reset", cfg.Schedule.Reset},
		{"schedule.heartbeat", cfg.Schedule.Heartbeat},
	} {
		if _, err := scheduler.ParseSchedule(s.raw); err != nil {
			add("%s: %w", s.path, err)
		}
	}
	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("schedule.timezone: unknown zone %q", tz)
		}
	}

	for _, d := range []struct{ path, raw string }{
		{"schedule.job_timeout", cfg.Schedule.JobTimeout},
		{"transport.backoff", cfg.Transport.Backoff},
		{"transport.timeout", cfg.Transport.Timeout},
		{"telemetry.timeout", cfg.Telemetry.Timeout},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	t := cfg.Transport
	switch strings.ToLower(strings.TrimSpace(t.Kind)) {
	case "", "bark":
	case "telegram":
		if strings.TrimSpace(t.Telegram.Token) == "" {
			add("transport.telegram.token: required for the telegram transport")
		}
	default:
		add("transport.kind: unknown transport %q", t.Kind)
	}
	if t.MaxAttempts < 0 {
		add("transport.max_attempts: must be >= 0")
	}
	if t.RatePerSec < 0 {
		add("transport.rate_per_sec: must be >= 0")
	}
	if t.HistorySize < 0 {
		add("transport.history_size: must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Telemetry.Driver)) {
	case "", "smi", "nvidia-smi", "static":
	default:
		add("telemetry.driver: unknown driver %q", cfg.Telemetry.Driver)
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.HTTP.Enabled && strings.TrimSpace(cfg.HTTP.Addr) == "" {
		add("http.addr: required when http is enabled")
	}

	return errors.Join(errs...)
}
