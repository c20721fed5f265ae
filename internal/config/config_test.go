package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDecodeJSONDefaults(t *testing.T) {
	cfg, err := Decode("c.json", []byte(`{"recipients": "KEY1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual([]string(cfg.Recipients), []string{"KEY1"}) {
		t.Fatalf("recipients = %v", cfg.Recipients)
	}
	if cfg.SendLimit != 4 {
		t.Fatalf("send_limit = %d", cfg.SendLimit)
	}
	if cfg.Schedule.Poll != "1m" || cfg.Schedule.Reset != "40m" || cfg.Schedule.Heartbeat != "0 10-17/2 * * *" {
		t.Fatalf("schedule defaults = %+v", cfg.Schedule)
	}
	if cfg.Schedule.Timezone != "Asia/Shanghai" {
		t.Fatalf("timezone = %q", cfg.Schedule.Timezone)
	}
	if cfg.Transport.Kind != "bark" || cfg.Telemetry.Driver != "smi" {
		t.Fatalf("transport/telemetry defaults = %q/%q", cfg.Transport.Kind, cfg.Telemetry.Driver)
	}
	if cfg.HTTP.Enabled || cfg.HTTP.Addr != DefaultHTTPAddr {
		t.Fatalf("http = %+v", cfg.HTTP)
	}
}

func TestDecodeYAML(t *testing.T) {
	src := `
recipients:
  - KEY1
  - KEY2
send_limit: 2
policy:
  busy_tolerance: 0
schedule:
  poll: "@every 30s"
logging:
  level: debug
`
	cfg, err := Decode("c.yaml", []byte(src))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cfg.Recipients) != 2 || cfg.SendLimit != 2 {
		t.Fatalf("unexpected %+v", cfg)
	}
	if cfg.Policy.BusyTolerance == nil || *cfg.Policy.BusyTolerance != 0 {
		t.Fatalf("explicit zero tolerance lost: %v", cfg.Policy.BusyTolerance)
	}
	if cfg.Schedule.Poll != "@every 30s" {
		t.Fatalf("poll = %q", cfg.Schedule.Poll)
	}
}

func TestDecodeTOML(t *testing.T) {
	src := `
recipients = ["KEY1"]
send_limit = 3

[transport]
kind = "bark"
base_url = "https://relay.example"
max_attempts = 5
backoff = "100ms"

[telemetry]
driver = "static"

[[telemetry.static]]
process_count = 1
memory_used_ratio = 0.5
utilization_percent = 90.0
`
	cfg, err := Decode("c.toml", []byte(src))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.SendLimit != 3 || cfg.Transport.MaxAttempts != 5 || cfg.Transport.BaseURL != "https://relay.example" {
		t.Fatalf("unexpected %+v", cfg)
	}
	if len(cfg.Telemetry.Static) != 1 || cfg.Telemetry.Static[0].ProcessCount != 1 {
		t.Fatalf("static = %+v", cfg.Telemetry.Static)
	}
}

func TestDecodeNumericChatIDs(t *testing.T) {
	cases := []struct {
		name, path, src string
	}{
		{"yaml list", "c.yaml", "recipients: [-1001234567890, 42]\ntransport: {kind: telegram, telegram: {token: \"1:x\"}}\n"},
		{"toml list", "c.toml", "recipients = [-1001234567890, 42]\n[transport]\nkind = \"telegram\"\n[transport.telegram]\ntoken = \"1:x\"\n"},
		{"json list", "c.json", `{"recipients":[-1001234567890,"42"],"transport":{"kind":"telegram","telegram":{"token":"1:x"}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Decode(tc.path, []byte(tc.src))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual([]string(cfg.Recipients), []string{"-1001234567890", "42"}) {
				t.Fatalf("recipients = %v", cfg.Recipients)
			}
		})
	}

	cfg, err := Decode("c.yaml", []byte("recipients: -1001234567890\ntransport: {kind: telegram, telegram: {token: \"1:x\"}}\n"))
	if err != nil {
		t.Fatalf("decode scalar: %v", err)
	}
	if !reflect.DeepEqual([]string(cfg.Recipients), []string{"-1001234567890"}) {
		t.Fatalf("recipients = %v", cfg.Recipients)
	}
}

func TestDecodeExplicitZeroThresholds(t *testing.T) {
	cfg, err := Decode("c.yaml", []byte("recipients: K\npolicy: {memory_ratio: 0, utilization_percent: 0}\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p := cfg.Policy
	if p.MemoryRatio == nil || *p.MemoryRatio != 0 || p.UtilizationPercent == nil || *p.UtilizationPercent != 0 {
		t.Fatalf("explicit zero thresholds lost: %+v", p)
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := []struct {
		name, path, src, want string
	}{
		{"unknown key", "c.json", `{"recipients":"K","nope":1}`, "unknown field"},
		{"no recipients", "c.json", `{"recipients":[]}`, "recipients"},
		{"blank recipient", "c.json", `{"recipients":"  "}`, "recipients"},
		{"negative limit", "c.json", `{"recipients":"K","send_limit":-1}`, "send_limit"},
		{"bad schedule", "c.json", `{"recipients":"K","schedule":{"poll":"soon"}}`, "schedule.poll"},
		{"bad timezone", "c.json", `{"recipients":"K","schedule":{"timezone":"Mars/Olympus"}}`, "schedule.timezone"},
		{"bad duration", "c.json", `{"recipients":"K","transport":{"backoff":"fast"}}`, "transport.backoff"},
		{"bad transport", "c.json", `{"recipients":"K","transport":{"kind":"pigeon"}}`, "transport.kind"},
		{"telegram no token", "c.json", `{"recipients":"1","transport":{"kind":"telegram"}}`, "token"},
		{"bad driver", "c.json", `{"recipients":"K","telemetry":{"driver":"nvml2"}}`, "telemetry.driver"},
		{"bad level", "c.json", `{"recipients":"K","logging":{"level":"loud"}}`, "logging.level"},
		{"bad memory ratio", "c.json", `{"recipients":"K","policy":{"memory_ratio":2}}`, "policy.memory_ratio"},
		{"bool recipient", "c.json", `{"recipients":[true]}`, "recipients[0]"},
		{"trailing", "c.json", `{"recipients":"K"} {}`, "trailing"},
		{"yaml unknown key", "c.yml", "recipients: K\nextra: 1\n", "unknown field"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.path, []byte(tc.src))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a, _ := Decode("a.json", []byte(`{"recipients":"K"}`))
	b, _ := Decode("b.json", []byte(`{"recipients":"K","send_limit":9,"logging":{"level":"debug"}}`))

	changed, attrs := SummarizeConfigChange(a, b)
	if !reflect.DeepEqual(changed, []string{"gate", "logging"}) {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
	if got := RestartRequired(changed); !reflect.DeepEqual(got, []string{"gate"}) {
		t.Fatalf("restart required = %v", got)
	}
}

func TestManagerWatchPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gpuwatch.json")
	if err := os.WriteFile(path, []byte(`{"recipients":"K"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`{"recipients":"K","logging":{"level":"debug"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("reload not committed")
	}
}

func TestManagerKeepsConfigOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gpuwatch.json")
	if err := os.WriteFile(path, []byte(`{"recipients":"K"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	before, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"recipients":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reload()
	if m.Get() != before {
		t.Fatalf("invalid reload replaced the config")
	}
}
