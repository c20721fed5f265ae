package telemetry

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "gpuwatch/pkg/logx"
)

const (
	defaultSMIPath    = "nvidia-smi"
	defaultSMITimeout = 10 * time.Second
)

// SMIConfig configures the nvidia-smi backed provider.
type SMIConfig struct {
	Path    string        // binary path; default "nvidia-smi"
	Timeout time.Duration // per invocation
}

// runFunc executes a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// SMI reads GPU metrics by shelling out to nvidia-smi.
//
// DeviceCount refreshes a snapshot of every device (two invocations);
// ReadDevice serves from that snapshot so a full poll costs one refresh.
type SMI struct {
	cfg SMIConfig
	log logx.Logger
	run runFunc

	mu     sync.Mutex
	ready  bool
	snap   []Reading
	lookup func(string) (string, error)
}

func NewSMI(cfg SMIConfig, log logx.Logger) *SMI {
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = defaultSMIPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMITimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SMI{cfg: cfg, log: log, run: execRun, lookup: exec.LookPath}
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(string(out))
		}
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func (s *SMI) Init(_ context.Context) error {
	path, err := s.lookup(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("nvidia-smi not found: %w", err)
	}
	s.mu.Lock()
	s.cfg.Path = path
	s.ready = true
	s.mu.Unlock()
	s.log.Debug("telemetry initialized", logx.String("driver", "smi"), logx.String("path", path))
	return nil
}

func (s *SMI) Close() error {
	s.mu.Lock()
	s.ready = false
	s.snap = nil
	s.mu.Unlock()
	return nil
}

func (s *SMI) DeviceCount(ctx context.Context) (int, error) {
	snap, err := s.refresh(ctx)
	if err != nil {
		return 0, err
	}
	return len(snap), nil
}

func (s *SMI) ReadDevice(ctx context.Context, index int) (Reading, error) {
	s.mu.Lock()
	snap := s.snap
	s.mu.Unlock()
	if snap == nil {
		var err error
		if snap, err = s.refresh(ctx); err != nil {
			return Reading{}, err
		}
	}
	if index < 0 || index >= len(snap) {
		return Reading{}, fmt.Errorf("device index %d out of range (0..%d)", index, len(snap)-1)
	}
	return snap[index], nil
}

func (s *SMI) refresh(ctx context.Context) ([]Reading, error) {
	s.mu.Lock()
	ready := s.ready
	path := s.cfg.Path
	timeout := s.cfg.Timeout
	s.mu.Unlock()
	if !ready {
		return nil, ErrNotInitialized
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	gpuOut, err := s.run(cctx, path,
		"--query-gpu=index,uuid,memory.used,memory.total,utilization.gpu",
		"--format=csv,noheader,nounits")
	if err != nil {
		return nil, err
	}
	appsOut, err := s.run(cctx, path,
		"--query-compute-apps=gpu_uuid,pid",
		"--format=csv,noheader")
	if err != nil {
		return nil, err
	}

	procs, err := parseComputeApps(appsOut)
	if err != nil {
		return nil, err
	}
	snap, err := parseGPUQuery(gpuOut, procs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return snap, nil
}

// parseGPUQuery parses `--query-gpu=index,uuid,memory.used,memory.total,utilization.gpu`.
func parseGPUQuery(out []byte, procs map[string]int) ([]Reading, error) {
	rows, err := readCSV(out)
	if err != nil {
		return nil, fmt.Errorf("parse gpu query: %w", err)
	}
	readings := make([]Reading, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("parse gpu query: expected 5 columns, got %d", len(row))
		}
		idx, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("parse gpu index %q: %w", row[0], err)
		}
		used, err := parseMetric(row[2])
		if err != nil {
			return nil, fmt.Errorf("gpu %d memory.used: %w", idx, err)
		}
		total, err := parseMetric(row[3])
		if err != nil {
			return nil, fmt.Errorf("gpu %d memory.total: %w", idx, err)
		}
		util, err := parseMetric(row[4])
		if err != nil {
			return nil, fmt.Errorf("gpu %d utilization.gpu: %w", idx, err)
		}
		ratio := 0.0
		if total > 0 {
			ratio = used / total
		}
		readings = append(readings, Reading{
			Index:              idx,
			ProcessCount:       procs[row[1]],
			MemoryUsedRatio:    ratio,
			UtilizationPercent: util,
		})
	}
	return readings, nil
}

// parseComputeApps counts compute processes per GPU UUID.
func parseComputeApps(out []byte) (map[string]int, error) {
	rows, err := readCSV(out)
	if err != nil {
		return nil, fmt.Errorf("parse compute apps: %w", err)
	}
	counts := map[string]int{}
	for _, row := range rows {
		if len(row) == 0 || row[0] == "" {
			continue
		}
		// nvidia-smi prints a human sentence instead of rows on some versions.
		if strings.HasPrefix(strings.ToLower(row[0]), "no running") {
			continue
		}
		counts[row[0]]++
	}
	return counts, nil
}

func readCSV(out []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(out))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// parseMetric parses a nounits numeric column; "[N/A]" reads as zero.
func parseMetric(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(strings.ToUpper(s), "N/A") {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
