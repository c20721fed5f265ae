package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "gpuwatch/pkg/logx"
)

func TestBarkDeliverSelfSignedTLS(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"code":200,"message":"success"}`))
	}))
	defer srv.Close()

	b := NewBark(BarkConfig{BaseURL: srv.URL + "/", Timeout: 2 * time.Second})
	if err := b.Deliver(context.Background(), "KEY123", "current time", "2026-10-19, 14:00:00"); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if gotPath != "/KEY123/current time/2026-10-19, 14:00:00/" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotQuery != "isArchive=1" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
}

func TestBarkNon2xxIsError(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewBark(BarkConfig{BaseURL: srv.URL})
	err := b.Deliver(context.Background(), "k", "t", "b")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected 400 error, got %v", err)
	}
}

func TestBarkIgnoresProxyEnv(t *testing.T) {
	t.Setenv("HTTPS_PROXY", "http://127.0.0.1:1")
	t.Setenv("HTTP_PROXY", "http://127.0.0.1:1")

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := NewBark(BarkConfig{BaseURL: srv.URL})
	if err := b.Deliver(context.Background(), "k", "t", "b"); err != nil {
		t.Fatalf("deliver through proxy env: %v", err)
	}
}

func TestDispatcherRetriesAgainstRelay(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	disp, err := New(Config{Backoff: time.Millisecond, RatePerSec: 100}, []string{"k"}, NewBark(BarkConfig{BaseURL: srv.URL}), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	out := disp.SendToAll(context.Background(), NewNotification("t", "b"))
	if !out[0].OK() || out[0].Attempts != 3 {
		t.Fatalf("unexpected outcome %+v", out[0])
	}
}

func TestOpenDeliverer(t *testing.T) {
	d, err := OpenDeliverer(TransportConfig{})
	if err != nil || d.Name() != "bark" {
		t.Fatalf("default deliverer = %v, %v", d, err)
	}
	if _, err := OpenDeliverer(TransportConfig{Kind: "telegram"}); err == nil {
		t.Fatal("expected error for telegram without token")
	}
	if _, err := OpenDeliverer(TransportConfig{Kind: "pigeon"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestBarkURLEscapesSegments(t *testing.T) {
	b := NewBark(BarkConfig{})
	got := b.URL("k", "a/b", "GPU 可用")
	if !strings.HasPrefix(got, DefaultBarkURL+"/k/a%2Fb/GPU%20%E5%8F%AF%E7%94%A8/") {
		t.Fatalf("unexpected url %q", got)
	}
}
