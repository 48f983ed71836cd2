package kef

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"
)

// Device API endpoints.
const (
	endpointGetData     = "/api/getData"
	endpointSetData     = "/api/setData"
	endpointModifyQueue = "/api/event/modifyQueue"
	endpointPollQueue   = "/api/event/pollQueue"
)

// pollTimeoutMargin is added to the client-side deadline of a long poll so
// the device's server-side hold can elapse before we give up locally.
const pollTimeoutMargin = 5 * time.Second

// maxResponseBytes caps response bodies; device responses are tiny.
const maxResponseBytes = 1 << 16

// TransportConfig holds settings for a device transport.
type TransportConfig struct {
	// Address and Port identify the device's control endpoint.
	Address string
	Port    int

	// CommandTimeout bounds command and single-value read exchanges.
	CommandTimeout time.Duration

	// PollTimeout is the server-side hold requested on long polls.
	PollTimeout time.Duration
}

// Transport performs HTTP exchanges against one speaker's control API.
//
// A transport is owned by exactly one Session and never shared: the
// long-poll queue it targets is per-client device state. It carries no
// retry logic; retry policy belongs to the owning session, which has the
// failure-count context to decide.
//
// All methods are safe for concurrent use; the target address may be
// swapped while exchanges are in flight (DHCP lease changes).
type Transport struct {
	mu      sync.RWMutex
	baseURL string

	client         *http.Client
	commandTimeout time.Duration
	pollTimeout    time.Duration
}

// NewTransport creates a transport for the given device address.
func NewTransport(cfg TransportConfig) *Transport {
	commandTimeout := cfg.CommandTimeout
	if commandTimeout <= 0 {
		commandTimeout = 5 * time.Second
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}

	t := &Transport{
		// Per-request deadlines come from contexts; the client itself has
		// no global timeout so long polls are not cut short.
		client:         &http.Client{},
		commandTimeout: commandTimeout,
		pollTimeout:    pollTimeout,
	}
	t.SetTarget(cfg.Address, cfg.Port)
	return t
}

// SetTarget repoints the transport at a new address, superseding the old
// one. An exchange already in flight completes (or fails) against the old
// address; subsequent exchanges use the new one.
func (t *Transport) SetTarget(address string, port int) {
	t.mu.Lock()
	t.baseURL = fmt.Sprintf("http://%s", net.JoinHostPort(address, fmt.Sprintf("%d", port)))
	t.mu.Unlock()
}

// Target returns the current base URL, for logging.
func (t *Transport) Target() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.baseURL
}

// PollHold returns the server-side hold requested on long polls.
func (t *Transport) PollHold() time.Duration {
	return t.pollTimeout
}

// Get performs a single-value read via /api/getData.
func (t *Transport) Get(ctx context.Context, query url.Values) ([]byte, error) {
	return t.exchange(ctx, endpointGetData, query, t.commandTimeout)
}

// Set performs a property write via /api/setData.
func (t *Transport) Set(ctx context.Context, query url.Values) ([]byte, error) {
	return t.exchange(ctx, endpointSetData, query, t.commandTimeout)
}

// Subscribe registers a long-poll queue via /api/event/modifyQueue.
func (t *Transport) Subscribe(ctx context.Context, query url.Values) ([]byte, error) {
	return t.exchange(ctx, endpointModifyQueue, query, t.commandTimeout)
}

// Poll performs one long-poll exchange via /api/event/pollQueue. The
// client-side deadline exceeds the requested server-side hold so a quiet
// device answers "no change" before we abandon the connection. A returned
// ErrTimeout means the device did not answer at all.
func (t *Transport) Poll(ctx context.Context, query url.Values) ([]byte, error) {
	return t.exchange(ctx, endpointPollQueue, query, t.pollTimeout+pollTimeoutMargin)
}

// exchange performs one HTTP GET request/response against the device.
func (t *Transport) exchange(ctx context.Context, endpoint string, query url.Values, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqURL := t.Target() + endpoint + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classifyError(ctx, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-side close

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyError(ctx, err)
	}
	return body, nil
}

// classifyError maps network failures onto the transport error taxonomy.
// Caller cancellation passes through untranslated so sessions can tell
// teardown apart from device failure.
func classifyError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrConnectionReset, err)
	}

	return fmt.Errorf("%w: %w", ErrConnectFailed, err)
}
