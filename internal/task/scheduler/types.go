package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	logx "gpuwatch/pkg/logx"
)

// Config controls the scheduler (trigger) service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Shanghai"; empty means Local
}

// Job is a declarative schedule entry.
type Job struct {
	Name     string
	Schedule string        // see ParseSchedule
	Timeout  time.Duration // 0 means no per-run deadline
	Run      func(ctx context.Context) error
}

type scheduleDef struct {
	job     Job
	spec    ParsedSpec
	entryID cron.EntryID

	running atomic.Bool

	// guarded by Service.statMu
	runs     uint64
	skipped  uint64
	failed   uint64
	lastRun  time.Time
	lastTook time.Duration
	lastErr  string
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	c    *cron.Cron
	defs []*scheduleDef

	runCtx    context.Context
	runCancel context.CancelFunc
	inflight  sync.WaitGroup

	statMu sync.Mutex
}

type ScheduleInfo struct {
	Name     string        `json:"name"`
	Spec     string        `json:"spec"`
	Kind     string        `json:"kind"`
	Timeout  time.Duration `json:"timeout,omitempty"`
	Next     time.Time     `json:"next,omitempty"`
	Prev     time.Time     `json:"prev,omitempty"`
	Running  bool          `json:"running"`
	Runs     uint64        `json:"runs"`
	Skipped  uint64        `json:"skipped"`
	Failed   uint64        `json:"failed"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	LastTook time.Duration `json:"last_took,omitempty"`
	LastErr  string        `json:"last_err,omitempty"`
}

type Snapshot struct {
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}
