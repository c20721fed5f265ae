package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBarkURL = "https://api.day.app"

type BarkConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Bark delivers through a Bark-style push relay:
//
//	GET <base>/<key>/<title>/<body>/?isArchive=1
//
// Certificate verification is off and environment proxies are ignored.
type Bark struct {
	base   string
	client *http.Client
}

func NewBark(cfg BarkConfig) *Bark {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBarkURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tr := &http.Transport{
		Proxy:               nil,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: timeout,
	}
	return &Bark{base: base, client: &http.Client{Transport: tr, Timeout: timeout}}
}

func (b *Bark) Name() string { return "bark" }

// URL builds the relay URL for one message.
func (b *Bark) URL(key, title, body string) string {
	return fmt.Sprintf("%s/%s/%s/%s/?isArchive=1",
		b.base, url.PathEscape(key), url.PathEscape(title), url.PathEscape(body))
}

func (b *Bark) Deliver(ctx context.Context, key, title, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.URL(key, title, body), http.NoBody)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("relay returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}
