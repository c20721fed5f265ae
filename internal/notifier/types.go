package notifier

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxAttempts = 10
	DefaultBackoff     = 200 * time.Millisecond
	DefaultRatePerSec  = 5
	defaultHistorySize = 100
)

// Config controls retry and pacing.
type Config struct {
	MaxAttempts int           // total tries per recipient (default 10)
	Backoff     time.Duration // fixed wait between tries (default 200ms)
	RatePerSec  int           // shared outbound pacing (default 5)
	HistorySize int
}

// Deliverer performs a single delivery attempt.
type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, recipient, title, body string) error
}

// Notification is one message to fan out.
type Notification struct {
	ID    string
	Title string
	Body  string
	At    time.Time
}

// NewNotification stamps a notification with a fresh ID.
func NewNotification(title, body string) Notification {
	return Notification{ID: uuid.NewString(), Title: title, Body: body, At: time.Now()}
}

// Outcome is the per-recipient result of SendToAll.
type Outcome struct {
	Recipient string
	Attempts  int
	Err       error
}

func (o Outcome) OK() bool { return o.Err == nil }

type HistoryItem struct {
	At        time.Time `json:"at"`
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Title     string    `json:"title"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
}
