package config

import "strings"

const (
	DefaultSendLimit         = 4
	DefaultTimezone          = "Asia/Shanghai"
	DefaultPollSchedule      = "1m"
	DefaultResetSchedule     = "40m"
	DefaultHeartbeatSchedule = "0 10-17/2 * * *" // 10:00, 12:00, 14:00, 16:00
	DefaultTransport         = "bark"
	DefaultTelemetryDriver   = "smi"
	DefaultHTTPAddr          = "127.0.0.1:9321"
)

// ApplyDefaults fills omitted fields in place. Thresholds, message texts and
// transport tuning are left zero; their owning packages default them.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.SendLimit == 0 {
		cfg.SendLimit = DefaultSendLimit
	}
	s := &cfg.Schedule
	if strings.TrimSpace(s.Poll) == "" {
		s.Poll = DefaultPollSchedule
	}
	if strings.TrimSpace(s.Reset) == "" {
		s.Reset = DefaultResetSchedule
	}
	if strings.TrimSpace(s.Heartbeat) == "" {
		s.Heartbeat = DefaultHeartbeatSchedule
	}
	if strings.TrimSpace(s.Timezone) == "" {
		s.Timezone = DefaultTimezone
	}
	if strings.TrimSpace(cfg.Transport.Kind) == "" {
		cfg.Transport.Kind = DefaultTransport
	}
	if strings.TrimSpace(cfg.Telemetry.Driver) == "" {
		cfg.Telemetry.Driver = DefaultTelemetryDriver
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
}
