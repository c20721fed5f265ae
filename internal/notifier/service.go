package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	logx "gpuwatch/pkg/logx"

	"golang.org/x/time/rate"
)

var ErrNoRecipients = errors.New("notifier: no recipients configured")

// Observer is told about every finished recipient send. Optional.
type Observer func(o Outcome)

// Dispatcher sends notifications to a fixed recipient list.
//
// It is safe for concurrent use.
type Dispatcher struct {
	log        logx.Logger
	deliverer  Deliverer
	recipients []string
	cfg        Config
	limiter    *rate.Limiter
	observe    Observer

	// In-memory history (for /status)
	hmu     sync.Mutex
	history []HistoryItem
}

type Option func(*Dispatcher)

func WithObserver(fn Observer) Option {
	return func(d *Dispatcher) { d.observe = fn }
}

func New(cfg Config, recipients []string, deliverer Deliverer, log logx.Logger, opts ...Option) (*Dispatcher, error) {
	if deliverer == nil {
		return nil, errors.New("notifier: deliverer required")
	}
	keys := NormalizeRecipients(recipients)
	if len(keys) == 0 {
		return nil, ErrNoRecipients
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	// Defaults
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = DefaultRatePerSec
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}

	d := &Dispatcher{
		log:        log,
		deliverer:  deliverer,
		recipients: keys,
		cfg:        cfg,
		// Token bucket: burst = rate per sec, so one fan-out rarely waits.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// NormalizeRecipients trims keys, drops empties and duplicates, keeps order.
func NormalizeRecipients(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, k := range in {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Recipients returns a copy of the recipient list.
func (d *Dispatcher) Recipients() []string {
	return append([]string(nil), d.recipients...)
}

// SendToAll delivers n to every recipient in list order.
//
// A failing recipient never blocks the others; the returned outcomes are
// informational and callers are free to ignore them.
func (d *Dispatcher) SendToAll(ctx context.Context, n Notification) []Outcome {
	if n.ID == "" {
		n = NewNotification(n.Title, n.Body)
	}
	out := make([]Outcome, 0, len(d.recipients))
	for _, key := range d.recipients {
		out = append(out, d.sendOne(ctx, key, n))
	}
	return out
}

func (d *Dispatcher) sendOne(ctx context.Context, key string, n Notification) Outcome {
	log := d.log.With(logx.String("id", n.ID), logx.String("recipient", MaskKey(key)), logx.String("via", d.deliverer.Name()))
	maxAttempts := d.cfg.MaxAttempts

	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++

		// Rate limit (honor cancellation).
		if err := d.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		err := d.deliverer.Deliver(ctx, key, n.Title, n.Body)
		if err == nil {
			lastErr = nil
			log.Info("notification sent", logx.String("title", n.Title), logx.String("body", n.Body), logx.Int("attempt", attempt))
			break
		}
		lastErr = err
		log.Debug("send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts || ctx.Err() != nil {
			break
		}
		if !sleepCtx(ctx, d.cfg.Backoff) {
			lastErr = ctx.Err()
			break
		}
	}

	if lastErr != nil {
		lastErr = fmt.Errorf("giving up after %d attempt(s): %w", attempt, lastErr)
		log.Error("notification dropped", logx.Err(lastErr), logx.String("title", n.Title))
	}

	o := Outcome{Recipient: key, Attempts: attempt, Err: lastErr}
	d.appendHistory(n, o)
	if d.observe != nil {
		d.observe(o)
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *Dispatcher) Snapshot() []HistoryItem {
	d.hmu.Lock()
	out := append([]HistoryItem(nil), d.history...)
	d.hmu.Unlock()
	return out
}

func (d *Dispatcher) appendHistory(n Notification, o Outcome) {
	it := HistoryItem{At: time.Now(), ID: n.ID, Recipient: MaskKey(o.Recipient), Title: n.Title, Attempts: o.Attempts}
	if o.Err != nil {
		it.Error = o.Err.Error()
	}
	d.hmu.Lock()
	d.history = append(d.history, it)
	if len(d.history) > d.cfg.HistorySize {
		d.history = d.history[len(d.history)-d.cfg.HistorySize:]
	}
	d.hmu.Unlock()
}

// MaskKey hides most of a recipient key in logs and status output.
func MaskKey(k string) string {
	if len(k) <= 6 {
		return k
	}
	return k[:4] + "..." + k[len(k)-2:]
}
