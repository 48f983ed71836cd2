package kef

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

// newTestTransport points a transport at an httptest server.
func newTestTransport(t *testing.T, srv *httptest.Server, commandTimeout time.Duration) *Transport {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return NewTransport(TransportConfig{
		Address:        u.Hostname(),
		Port:           port,
		CommandTimeout: commandTimeout,
		PollTimeout:    time.Second,
	})
}

func TestTransportGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/getData" {
			t.Errorf("path = %q, want /api/getData", r.URL.Path)
		}
		if got := r.URL.Query().Get("path"); got != PathVolume {
			t.Errorf("query path = %q, want %q", got, PathVolume)
		}
		w.Write([]byte(`[{"type":"i32_","i32_":40}]`)) //nolint:errcheck
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, 2*time.Second)
	body, err := tr.Get(context.Background(), EncodeGet(PathVolume))
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}

	v, err := DecodeGetResponse(body)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if v.Int != 40 {
		t.Errorf("volume = %d, want 40", v.Int)
	}
}

func TestTransportHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, 2*time.Second)
	_, err := tr.Get(context.Background(), EncodeGet(PathVolume))
	if !errors.Is(err, ErrHTTPStatus) {
		t.Fatalf("got %v, want ErrHTTPStatus", err)
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error %q does not carry the status code", err)
	}
}

func TestTransportTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	tr := newTestTransport(t, srv, 50*time.Millisecond)
	_, err := tr.Get(context.Background(), EncodeGet(PathVolume))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
}

func TestTransportConnectFailed(t *testing.T) {
	// A closed server refuses connections.
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	srv.Close()

	tr := newTestTransport(t, srv, time.Second)
	_, err := tr.Get(context.Background(), EncodeGet(PathVolume))
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("got %v, want ErrConnectFailed", err)
	}
}

func TestTransportCancellationPassesThrough(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	tr := newTestTransport(t, srv, 10*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := tr.Get(ctx, EncodeGet(PathVolume))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectFailed) {
		t.Errorf("cancellation was misclassified as a transport failure: %v", err)
	}
}

func TestTransportSetTarget(t *testing.T) {
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`["first"]`)) //nolint:errcheck
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`["second"]`)) //nolint:errcheck
	}))
	defer second.Close()

	tr := newTestTransport(t, first, time.Second)

	u, _ := url.Parse(second.URL)
	port, _ := strconv.Atoi(u.Port())
	tr.SetTarget(u.Hostname(), port)

	body, err := tr.Get(context.Background(), EncodeGet(PathVolume))
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(body) != `["second"]` {
		t.Errorf("body = %s, want response from second server", body)
	}
}
