package config

import (
	"reflect"
	"sort"
	"strings"

	logx "gpuwatch/pkg/logx"
)

// LiveSections are applied on reload without a restart.
var LiveSections = map[string]bool{"logging": true}

// SummarizeConfigChange returns the changed top-level sections (sorted) and
// safe structured attrs for logging. Recipient keys and tokens are never
// included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Recipients, newCfg.Recipients) {
		changed = append(changed, "recipients")
		attrs = append(attrs, logx.Int("recipients.count", len(newCfg.Recipients)))
	}
	if oldCfg.SendLimit != newCfg.SendLimit || oldCfg.NotifyOnStartup != newCfg.NotifyOnStartup ||
		strings.TrimSpace(oldCfg.Title) != strings.TrimSpace(newCfg.Title) {
		changed = append(changed, "gate")
		attrs = append(attrs,
			logx.Int("send_limit", newCfg.SendLimit),
			logx.Bool("notify_on_startup", newCfg.NotifyOnStartup),
			logx.Bool("title_fixed", strings.TrimSpace(newCfg.Title) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Policy, newCfg.Policy) {
		changed = append(changed, "policy")
		attrs = append(attrs,
			logx.Any("policy.memory_ratio", newCfg.Policy.MemoryRatio),
			logx.Any("policy.utilization_percent", newCfg.Policy.UtilizationPercent),
		)
	}
	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.String("schedule.poll", newCfg.Schedule.Poll),
			logx.String("schedule.reset", newCfg.Schedule.Reset),
			logx.String("schedule.heartbeat", newCfg.Schedule.Heartbeat),
			logx.String("schedule.timezone", newCfg.Schedule.Timezone),
		)
	}
	if oldCfg.Transport != newCfg.Transport {
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.kind", newCfg.Transport.Kind),
			logx.Int("transport.max_attempts", newCfg.Transport.MaxAttempts),
			logx.Bool("transport.token_set", strings.TrimSpace(newCfg.Transport.Telegram.Token) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Telemetry, newCfg.Telemetry) {
		changed = append(changed, "telemetry")
		attrs = append(attrs, logx.String("telemetry.driver", newCfg.Telemetry.Driver))
	}
	if oldCfg.Messages != newCfg.Messages {
		changed = append(changed, "messages")
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired filters changed down to sections that only take effect
// after a restart.
func RestartRequired(changed []string) []string {
	out := make([]string, 0, len(changed))
	for _, s := range changed {
		if !LiveSections[s] {
			out = append(out, s)
		}
	}
	return out
}
