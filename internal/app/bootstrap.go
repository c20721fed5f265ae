package app

import (
	"fmt"
	"strings"
	"time"

	"gpuwatch/internal/availability"
	"gpuwatch/internal/config"
	"gpuwatch/internal/metrics"
	"gpuwatch/internal/monitor"
	"gpuwatch/internal/netaddr"
	"gpuwatch/internal/notifier"
	"gpuwatch/internal/telemetry"
	logx "gpuwatch/pkg/logx"
)

const defaultSMITimeout = 10 * time.Second

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
	}
}

// Policy resolves the occupancy thresholds, keeping defaults for unset fields.
func Policy(cfg *config.Config) availability.Policy {
	p := availability.DefaultPolicy()
	if cfg.Policy.MemoryRatio != nil {
		p.MemoryRatio = *cfg.Policy.MemoryRatio
	}
	if cfg.Policy.UtilizationPercent != nil {
		p.UtilizationPercent = *cfg.Policy.UtilizationPercent
	}
	if cfg.Policy.BusyTolerance != nil {
		p.BusyTolerance = *cfg.Policy.BusyTolerance
	}
	return p
}

func mapMonitorConfig(cfg *config.Config, loc *time.Location) monitor.Config {
	return monitor.Config{
		SendLimit:       cfg.SendLimit,
		NotifyOnStartup: cfg.NotifyOnStartup,
		Policy:          Policy(cfg),
		Messages: monitor.Messages{
			Available:      cfg.Messages.Available,
			Occupied:       cfg.Messages.Occupied,
			HeartbeatTitle: cfg.Messages.HeartbeatTitle,
		},
		Schedules: monitor.Schedules{
			Poll:      cfg.Schedule.Poll,
			Reset:     cfg.Schedule.Reset,
			Heartbeat: cfg.Schedule.Heartbeat,
		},
		Location: loc,
	}
}

// titleFunc returns the configured fixed title, or the outbound LAN address
// looked up on every send.
func titleFunc(cfg *config.Config) func() string {
	if t := strings.TrimSpace(cfg.Title); t != "" {
		return func() string { return t }
	}
	return netaddr.LocalIP
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	t := cfg.Transport
	backoff := notifier.DefaultBackoff
	if strings.TrimSpace(t.Backoff) != "" {
		d, err := config.ParseDurationField("transport.backoff", t.Backoff)
		if err != nil {
			return notifier.Config{}, err
		}
		backoff = d
	}
	return notifier.Config{
		MaxAttempts: t.MaxAttempts,
		Backoff:     backoff,
		RatePerSec:  t.RatePerSec,
		HistorySize: t.HistorySize,
	}, nil
}

func mapTransportConfig(cfg *config.Config) (notifier.TransportConfig, error) {
	t := cfg.Transport
	timeout, err := config.ParseDurationField("transport.timeout", t.Timeout)
	if err != nil {
		return notifier.TransportConfig{}, err
	}
	return notifier.TransportConfig{
		Kind:    t.Kind,
		BaseURL: t.BaseURL,
		Token:   t.Telegram.Token,
		Timeout: timeout,
	}, nil
}

func mapTelemetryConfig(cfg *config.Config) (telemetry.Config, error) {
	t := cfg.Telemetry
	timeout, err := config.ParseDurationOrDefault("telemetry.timeout", t.Timeout, defaultSMITimeout)
	if err != nil {
		return telemetry.Config{}, err
	}
	static := make([]telemetry.Reading, 0, len(t.Static))
	for i, r := range t.Static {
		static = append(static, telemetry.Reading{
			Index:              i,
			ProcessCount:       r.ProcessCount,
			MemoryUsedRatio:    r.MemoryUsedRatio,
			UtilizationPercent: r.UtilizationPercent,
		})
	}
	return telemetry.Config{Driver: t.Driver, SMIPath: t.NvidiaSMI, Timeout: timeout, Static: static}, nil
}

// OpenTelemetry builds the configured provider. The caller must Init it.
func OpenTelemetry(cfg *config.Config, log logx.Logger) (telemetry.Provider, error) {
	tc, err := mapTelemetryConfig(cfg)
	if err != nil {
		return nil, err
	}
	return telemetry.Open(tc, log.With(logx.String("comp", "telemetry")))
}

// OpenDispatcher builds the configured transport and dispatcher. mx may be nil.
func OpenDispatcher(cfg *config.Config, deliverer notifier.Deliverer, mx *metrics.Metrics, log logx.Logger) (*notifier.Dispatcher, error) {
	if deliverer == nil {
		tc, err := mapTransportConfig(cfg)
		if err != nil {
			return nil, err
		}
		d, err := notifier.OpenDeliverer(tc)
		if err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		deliverer = d
	}
	nc, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	return notifier.New(nc, cfg.Recipients, deliverer, log.With(logx.String("comp", "notifier")),
		notifier.WithObserver(func(o notifier.Outcome) { mx.Delivery(o.Attempts, o.OK()) }),
	)
}
