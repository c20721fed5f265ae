package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

type TelegramConfig struct {
	Token string
	// APIURL overrides the Bot API endpoint (self-hosted server). Empty means
	// api.telegram.org.
	APIURL  string
	Timeout time.Duration
}

// Telegram delivers to chats; recipient keys are numeric chat IDs.
type Telegram struct {
	bot *tele.Bot
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// Offline skips the getMe round-trip at construction; sends still go out.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Deliver(ctx context.Context, key, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram recipient %q is not a chat id: %w", key, err)
	}
	text := title
	if body != "" {
		text += "\n" + body
	}
	// telebot takes no context; an abandoned send still ends at the client timeout.
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
