package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Config is the on-disk configuration. JSON, YAML and TOML files share these
// keys; YAML and TOML are coerced to JSON before strict decoding.
type Config struct {
	// Recipients accepts a single key or a list of keys.
	Recipients Recipients `json:"recipients"`

	// SendLimit caps notifications per rate-limit window. Default 4.
	SendLimit int `json:"send_limit,omitempty"`

	// Title is a fixed title for availability notifications.
	// Empty means the host's outbound LAN address, resolved at send time.
	Title string `json:"title,omitempty"`

	// NotifyOnStartup lets the first poll after start announce the current
	// signal. Off by default.
	NotifyOnStartup bool `json:"notify_on_startup,omitempty"`

	Policy    PolicyConfig    `json:"policy"`
	Schedule  ScheduleConfig  `json:"schedule"`
	Transport TransportConfig `json:"transport"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Messages  MessagesConfig  `json:"messages"`
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
}

// Recipients is a list of recipient keys that also decodes from a bare
// string. Numbers are kept verbatim so Telegram chat IDs can be unquoted.
type Recipients []string

func (r *Recipients) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*r = nil
		return nil
	case []any:
		list := make(Recipients, 0, len(t))
		for i, item := range t {
			key, ok := recipientKey(item)
			if !ok {
				return fmt.Errorf("recipients[%d]: expected a string or a number, got %T", i, item)
			}
			list = append(list, key)
		}
		*r = list
		return nil
	default:
		key, ok := recipientKey(t)
		if !ok {
			return fmt.Errorf("recipients: expected a string, a number or a list, got %T", t)
		}
		if strings.TrimSpace(key) == "" {
			*r = nil
			return nil
		}
		*r = Recipients{key}
		return nil
	}
}

func recipientKey(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

// PolicyConfig overrides the occupancy thresholds. Unset fields keep defaults
// (memory_ratio 0.03, utilization_percent 5, busy_tolerance 1); pointers keep
// an explicit 0.
type PolicyConfig struct {
	MemoryRatio        *float64 `json:"memory_ratio,omitempty"`
	UtilizationPercent *float64 `json:"utilization_percent,omitempty"`
	// Pointer so an explicit 0 ("any occupied device means busy") survives.
	BusyTolerance *int `json:"busy_tolerance,omitempty"`
}

// ScheduleConfig holds the job triggers. Each value is a cron expression,
// an @descriptor, or an interval ("1m", "00:40").
type ScheduleConfig struct {
	Poll      string `json:"poll,omitempty"`
	Reset     string `json:"reset,omitempty"`
	Heartbeat string `json:"heartbeat,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	// JobTimeout bounds a single run (Go duration). Empty means none.
	JobTimeout string `json:"job_timeout,omitempty"`
}

// TransportConfig selects and tunes the push transport.
//
// All durations are Go duration strings (e.g. "200ms", "10s").
type TransportConfig struct {
	Kind        string `json:"kind,omitempty"`     // "bark" (default) or "telegram"
	BaseURL     string `json:"base_url,omitempty"` // bark relay, or Bot API endpoint for telegram
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Backoff     string `json:"backoff,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`

	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
}

type TelemetryConfig struct {
	Driver    string          `json:"driver,omitempty"` // "smi" (default) or "static"
	NvidiaSMI string          `json:"nvidia_smi,omitempty"`
	Timeout   string          `json:"timeout,omitempty"`
	Static    []StaticReading `json:"static,omitempty"`
}

// StaticReading is one fixed device reading for the static driver.
type StaticReading struct {
	ProcessCount       int     `json:"process_count"`
	MemoryUsedRatio    float64 `json:"memory_used_ratio"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

type MessagesConfig struct {
	Available      string `json:"available,omitempty"`
	Occupied       string `json:"occupied,omitempty"`
	HeartbeatTitle string `json:"heartbeat_title,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// HTTPConfig controls the optional status server.
//
// Prefer binding to localhost; the server has no authentication.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9321"
}
