package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/kefd/internal/infrastructure/config"
	"github.com/nerrad567/kefd/internal/infrastructure/logging"
	"github.com/nerrad567/kefd/internal/kef"
	"github.com/nerrad567/kefd/internal/speaker"
)

// fakeControl is a scripted registry for handler tests.
type fakeControl struct {
	mu       sync.Mutex
	speakers map[string]speaker.Speaker
	commands []kef.Command
	cmdErr   error
	bus      *speaker.Bus
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		speakers: make(map[string]speaker.Speaker),
		bus:      speaker.NewBus(),
	}
}

func (f *fakeControl) ListSpeakers() []speaker.Speaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]speaker.Speaker, 0, len(f.speakers))
	for _, sp := range f.speakers {
		out = append(out, sp)
	}
	return out
}

func (f *fakeControl) GetSpeaker(identity string) (speaker.Speaker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp, ok := f.speakers[identity]
	if !ok {
		return speaker.Speaker{}, fmt.Errorf("%w: %s", speaker.ErrUnknownSpeaker, identity)
	}
	return sp, nil
}

func (f *fakeControl) IssueCommand(_ context.Context, identity string, cmd kef.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.speakers[identity]; !ok {
		return fmt.Errorf("%w: %s", speaker.ErrUnknownSpeaker, identity)
	}
	if f.cmdErr != nil {
		return f.cmdErr
	}
	f.commands = append(f.commands, cmd)
	return nil
}

func (f *fakeControl) Forget(identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.speakers[identity]; !ok {
		return fmt.Errorf("%w: %s", speaker.ErrUnknownSpeaker, identity)
	}
	delete(f.speakers, identity)
	return nil
}

func (f *fakeControl) Subscribe() *speaker.Subscription { return f.bus.Subscribe() }

func (f *fakeControl) add(sp speaker.Speaker) {
	f.mu.Lock()
	f.speakers[sp.Identity] = sp
	f.mu.Unlock()
}

func testServer(t *testing.T) (*Server, *fakeControl) {
	t.Helper()

	control := newFakeControl()
	log := logging.New(config.Logging{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.API{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeouts{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocket{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  log,
		Control: control,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	srv.hub = NewHub(srv.wsCfg, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return srv, control
}

func livingRoom() speaker.Speaker {
	st := kef.State{Power: kef.PowerOn, Source: kef.SourceWifi, Volume: 30}
	return speaker.Speaker{
		Identity:     "kef-1",
		Name:         "Living Room",
		Model:        "LS50 Wireless II",
		Address:      "192.168.1.40",
		Port:         80,
		State:        &st,
		Connectivity: kef.ConnectivityConnected,
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleListSpeakers(t *testing.T) {
	srv, control := testServer(t)
	control.add(livingRoom())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/speakers", nil)
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Speakers []speaker.Speaker `json:"speakers"`
		Count    int               `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Count != 1 || len(body.Speakers) != 1 {
		t.Fatalf("count = %d, speakers = %d", body.Count, len(body.Speakers))
	}
	if body.Speakers[0].Identity != "kef-1" {
		t.Errorf("identity = %s", body.Speakers[0].Identity)
	}
}

func TestHandleGetSpeaker(t *testing.T) {
	srv, control := testServer(t)
	control.add(livingRoom())
	router := srv.buildRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/speakers/kef-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var sp speaker.Speaker
	if err := json.Unmarshal(rec.Body.Bytes(), &sp); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if sp.State == nil || sp.State.Volume != 30 {
		t.Errorf("speaker = %+v", sp)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/speakers/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown speaker status = %d, want 404", rec.Code)
	}
}

func TestHandleCommand(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		body       string
		cmdErr     error
		wantStatus int
	}{
		{
			name:       "set volume accepted",
			target:     "kef-1",
			body:       `{"type":"set_volume","volume":42}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "toggle mute accepted",
			target:     "kef-1",
			body:       `{"type":"toggle_mute"}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "unknown speaker",
			target:     "nope",
			body:       `{"type":"toggle_mute"}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "malformed json",
			target:     "kef-1",
			body:       `{broken`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown command type",
			target:     "kef-1",
			body:       `{"type":"explode"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "volume out of range",
			target:     "kef-1",
			body:       `{"type":"set_volume","volume":250}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown source",
			target:     "kef-1",
			body:       `{"type":"set_source","source":"coaxial"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "speaker timeout",
			target:     "kef-1",
			body:       `{"type":"toggle_mute"}`,
			cmdErr:     kef.ErrTimeout,
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "speaker unreachable",
			target:     "kef-1",
			body:       `{"type":"toggle_mute"}`,
			cmdErr:     kef.ErrConnectFailed,
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, control := testServer(t)
			control.add(livingRoom())
			control.cmdErr = tt.cmdErr

			url := "/api/v1/speakers/" + tt.target + "/command"
			req := httptest.NewRequest(http.MethodPost, url, bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			srv.buildRouter().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestHandleForgetSpeaker(t *testing.T) {
	srv, control := testServer(t)
	control.add(livingRoom())
	router := srv.buildRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/speakers/kef-1", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/speakers/kef-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("no X-Request-ID generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "caller-supplied" {
		t.Errorf("X-Request-ID = %q, want the caller's value", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/speakers", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestWebSocketReceivesBroadcast(t *testing.T) {
	srv, _ := testServer(t)

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()

	// Wait for the client to register with the hub.
	deadline := time.Now().Add(time.Second)
	for srv.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	srv.hub.Broadcast("state_changed", livingRoom())

	//nolint:errcheck // Deadline on a test connection
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading broadcast: %v", err)
	}
	if msg.Type != WSTypeEvent || msg.EventType != "state_changed" {
		t.Errorf("message = %+v", msg)
	}
}

func TestWebSocketSubscribeNarrowsChannels(t *testing.T) {
	srv, _ := testServer(t)

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()

	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{"connectivity_changed"}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("writing subscribe: %v", err)
	}

	//nolint:errcheck // Deadline on a test connection
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("reading subscribe ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	// A state event is filtered out; a connectivity event arrives.
	srv.hub.Broadcast("state_changed", livingRoom())
	srv.hub.Broadcast("connectivity_changed", livingRoom())

	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if msg.EventType != "connectivity_changed" {
		t.Errorf("event type = %q, want the subscribed channel only", msg.EventType)
	}
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name    string
		cmd     kef.Command
		wantErr bool
	}{
		{"valid power", kef.Command{Type: kef.CmdSetPower, Power: kef.PowerOn}, false},
		{"invalid power", kef.Command{Type: kef.CmdSetPower, Power: "hibernate"}, true},
		{"valid source", kef.Command{Type: kef.CmdSetSource, Source: kef.SourceTV}, false},
		{"invalid source", kef.Command{Type: kef.CmdSetSource, Source: "coaxial"}, true},
		{"volume low edge", kef.Command{Type: kef.CmdSetVolume, Volume: 0}, false},
		{"volume high edge", kef.Command{Type: kef.CmdSetVolume, Volume: 100}, false},
		{"volume negative", kef.Command{Type: kef.CmdSetVolume, Volume: -1}, true},
		{"toggle mute", kef.Command{Type: kef.CmdToggleMute}, false},
		{"unknown type", kef.Command{Type: "explode"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCommand(tt.cmd)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateCommand(%+v) error = %v, wantErr %t", tt.cmd, err, tt.wantErr)
			}
		})
	}
}
