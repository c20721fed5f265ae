package notifier

import (
	"errors"
	"strings"
	"time"
)

// TransportConfig selects a Deliverer.
//
// Kind values:
//   - "bark" (default): push relay at BaseURL
//   - "telegram": bot Token, recipients are chat IDs; BaseURL overrides the
//     Bot API endpoint
type TransportConfig struct {
	Kind    string
	BaseURL string
	Token   string
	Timeout time.Duration
}

func OpenDeliverer(cfg TransportConfig) (Deliverer, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	switch kind {
	case "", "bark":
		return NewBark(BarkConfig{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}), nil
	case "telegram":
		return NewTelegram(TelegramConfig{Token: cfg.Token, APIURL: cfg.BaseURL, Timeout: cfg.Timeout})
	default:
		return nil, errors.New("unknown transport kind: " + kind)
	}
}
