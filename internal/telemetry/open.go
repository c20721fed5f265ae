package telemetry

import (
	"errors"
	"strings"
	"time"

	logx "gpuwatch/pkg/logx"
)

// Config selects and configures a Provider.
//
// Driver values:
//   - "smi" (default): nvidia-smi
//   - "static": fixed readings (dry runs)
type Config struct {
	Driver  string
	SMIPath string
	Timeout time.Duration
	Static  []Reading
}

// Open builds the configured provider. The caller still has to Init it.
func Open(cfg Config, log logx.Logger) (Provider, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "smi", "nvidia-smi":
		return NewSMI(SMIConfig{Path: cfg.SMIPath, Timeout: cfg.Timeout}, log), nil
	case "static":
		return NewStatic(cfg.Static...), nil
	default:
		return nil, errors.New("unknown telemetry driver: " + driver)
	}
}
