package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/KevinKickass/OpenTransportCore/internal/api/websocket"
	"github.com/KevinKickass/OpenTransportCore/internal/auth"
	"github.com/KevinKickass/OpenTransportCore/internal/config"
	"github.com/KevinKickass/OpenTransportCore/internal/interfaces"
	"github.com/KevinKickass/OpenTransportCore/internal/machine"
	"github.com/KevinKickass/OpenTransportCore/internal/station"
	"github.com/KevinKickass/OpenTransportCore/internal/storage"
)

// memTransport is a register file standing in for the PLC.
type memTransport struct {
	mu   sync.Mutex
	regs map[uint16]uint16
	down bool
}

func newMemTransport() *memTransport {
	return &memTransport{regs: make(map[uint16]uint16)}
}

func (m *memTransport) Open(context.Context) error { return nil }
func (m *memTransport) Close() error               { return nil }
func (m *memTransport) SetAutoOpen(bool)           {}
func (m *memTransport) SetAutoClose(bool)          {}

func (m *memTransport) ReadHoldingRegisters(_ context.Context, addr, quantity uint16) ([]uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, errors.New("link down")
	}
	out := make([]uint16, quantity)
	for i := range out {
		out[i] = m.regs[addr+uint16(i)]
	}
	return out, nil
}

func (m *memTransport) WriteSingleRegister(_ context.Context, addr, value uint16) error {
	return m.WriteMultipleRegisters(context.Background(), addr, []uint16{value})
}

func (m *memTransport) WriteMultipleRegisters(_ context.Context, addr uint16, values []uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errors.New("link down")
	}
	for i, v := range values {
		m.regs[addr+uint16(i)] = v
	}
	return nil
}

func (m *memTransport) get(addr uint16) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[addr]
}

func (m *memTransport) setDown(down bool) {
	m.mu.Lock()
	m.down = down
	m.mu.Unlock()
}

type fakeLifecycle struct {
	cfg        *config.Config
	station    *station.Station
	controller *machine.Controller
	healthy    bool
}

func (f *fakeLifecycle) Config() *config.Config                 { return f.cfg }
func (f *fakeLifecycle) Station() *station.Station              { return f.station }
func (f *fakeLifecycle) Poller() *station.Poller                { return nil }
func (f *fakeLifecycle) MachineController() *machine.Controller { return f.controller }
func (f *fakeLifecycle) Journal() *storage.PostgresClient       { return nil }
func (f *fakeLifecycle) Shutdown(context.Context) error         { return nil }

func (f *fakeLifecycle) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{State: "RUNNING", LinkHealthy: f.healthy}
}

type testEnv struct {
	transport *memTransport
	handler   http.Handler
}

func newTestEnv(t *testing.T, authCfg config.AuthConfig) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	transport := newMemTransport()
	st := station.New(transport, station.Config{
		Retry:     station.RetryPolicy{MaxAttempts: 2},
		RootTopic: "Transport_out",
	}, logger, nil)

	cfg := &config.Config{Auth: authCfg}
	authService := auth.NewService(authCfg, logger)
	lm := &fakeLifecycle{
		cfg:        cfg,
		station:    st,
		controller: machine.NewController(logger, st, nil, st.Topics()),
		healthy:    true,
	}

	srv := NewServer(cfg, lm, logger, websocket.NewHub(logger, authService), authService)
	return &testEnv{transport: transport, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, w, &resp)
	return resp.Error.Code
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{})

	w := env.do(t, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestListChannels(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{})

	w := env.do(t, http.MethodGet, "/api/v1/channels", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}

	var resp struct {
		Channels []struct {
			ID        string   `json:"id"`
			Kind      string   `json:"kind"`
			Addresses []string `json:"addresses"`
		} `json:"channels"`
		Count int `json:"count"`
	}
	decode(t, w, &resp)

	if resp.Count != 27 {
		t.Errorf("count = %d, want 27", resp.Count)
	}
	first := resp.Channels[0]
	if first.ID != "A" || first.Kind != "conveyor" {
		t.Fatalf("first channel = %+v", first)
	}
	if len(first.Addresses) != 2 || first.Addresses[0] != "+1.0" || first.Addresses[1] != "+1.1" {
		t.Errorf("addresses of A = %v", first.Addresses)
	}
}

func TestConveyorForward(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{})

	w := env.do(t, http.MethodPost, "/api/v1/conveyors/A/forward", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}

	var info struct {
		State string `json:"state"`
	}
	decode(t, w, &info)
	if info.State != "forward" {
		t.Errorf("state = %q", info.State)
	}
	// A lives in bits 0 and 1, word offset 1
	if got := env.transport.get(station.OutputBase + 1); got != 0x0001 {
		t.Errorf("output word = 0x%04X, want 0x0001", got)
	}
}

func TestStationErrorMapping(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{})

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"unknown device", http.MethodPost, "/api/v1/conveyors/Z/forward", nil, http.StatusNotFound, "STATION_404"},
		{"wrong kind", http.MethodPost, "/api/v1/conveyors/C/forward", nil, http.StatusBadRequest, "STATION_400"},
		{"wrong kind on get", http.MethodGet, "/api/v1/switches/A", nil, http.StatusBadRequest, "STATION_400"},
		{"invalid position", http.MethodPut, "/api/v1/switches/C/position", map[string]int{"position": 5}, http.StatusBadRequest, "STATION_400"},
		{"invalid speed", http.MethodPut, "/api/v1/conveyors/A/speed", map[string]int{"speed": 30001}, http.StatusBadRequest, "STATION_400"},
		{"missing speed", http.MethodPut, "/api/v1/conveyors/A/speed", map[string]int{}, http.StatusBadRequest, "STATION_400"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, tc.method, tc.path, tc.body, "")
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tc.status, w.Body)
			}
			if code := errorCode(t, w); code != tc.code {
				t.Errorf("code = %q, want %q", code, tc.code)
			}
		})
	}
}

func TestSwitchPosition(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{})

	w := env.do(t, http.MethodPut, "/api/v1/switches/C/position", map[string]int{"position": 2}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	// C occupies bits 4..7 of word offset 1, position 2 is bit 6
	if got := env.transport.get(station.OutputBase + 1); got != 1<<6 {
		t.Errorf("output word = 0x%04X, want 0x0040", got)
	}

	w = env.do(t, http.MethodGet, "/api/v1/switches", nil, "")
	var resp struct {
		Switches []struct {
			ID       string `json:"id"`
			Position string `json:"position"`
		} `json:"switches"`
	}
	decode(t, w, &resp)
	if resp.Switches[0].ID != "C" || resp.Switches[0].Position != "2" {
		t.Errorf("switch C = %+v", resp.Switches[0])
	}
	if resp.Switches[1].Position != "unknown" {
		t.Errorf("switch F = %+v, want unknown", resp.Switches[1])
	}
}

func TestConveyorSpeedAndSensors(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{})

	w := env.do(t, http.MethodPut, "/api/v1/conveyors/G/speed", map[string]int{"speed": 1200}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	// group B of bank 1 is written last, G is its first value register
	if got := env.transport.get(8025); got != 1200 {
		t.Errorf("value register 8025 = %d, want 1200", got)
	}
	if got := env.transport.get(8024); got != 0x0900 {
		t.Errorf("select register 8024 = 0x%04X, want 0x0900", got)
	}

	// begin sensor of G: input bit 16, word offset 0
	env.transport.WriteSingleRegister(context.Background(), station.InputBase, 0x0001)

	w = env.do(t, http.MethodGet, "/api/v1/conveyors/G", nil, "")
	var info struct {
		Speed   int             `json:"speed"`
		Sensors map[string]bool `json:"sensors"`
	}
	decode(t, w, &info)
	if info.Speed != 1200 {
		t.Errorf("speed = %d", info.Speed)
	}
	if !info.Sensors["workpiece_begin"] || info.Sensors["workpiece_end"] {
		t.Errorf("sensors = %v", info.Sensors)
	}
}

func TestTransportUnavailable(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{})
	env.transport.setDown(true)

	w := env.do(t, http.MethodPost, "/api/v1/separators/V1/set", nil, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if code := errorCode(t, w); code != "STATION_503" {
		t.Errorf("code = %q", code)
	}
}

func TestMachineCommands(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{})

	w := env.do(t, http.MethodPost, "/api/v1/machine/command", map[string]string{"command": "reset"}, "")
	if w.Code != http.StatusConflict {
		t.Errorf("reset from stopped: status = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/machine/command", map[string]string{"command": "fly"}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown command: status = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/machine/command", map[string]string{"command": "home"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("home: status = %d: %s", w.Code, w.Body)
	}

	w = env.do(t, http.MethodGet, "/api/v1/machine/status", nil, "")
	var status machine.MachineStatus
	decode(t, w, &status)
	if status.State != machine.StateReady {
		t.Errorf("state = %q, want ready", status.State)
	}
}

func TestEmergencyLocksOutActuation(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{})

	w := env.do(t, http.MethodPost, "/api/v1/machine/command", map[string]string{"command": "emergency"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("emergency: status = %d: %s", w.Code, w.Body)
	}

	locked := []struct {
		method string
		path   string
		body   interface{}
	}{
		{http.MethodPost, "/api/v1/conveyors/A/forward", nil},
		{http.MethodPost, "/api/v1/conveyors/A/backward", nil},
		{http.MethodPut, "/api/v1/conveyors/speed", map[string]int{"speed": 30000}},
		{http.MethodPut, "/api/v1/conveyors/G/speed", map[string]int{"speed": 1200}},
		{http.MethodPut, "/api/v1/switches/C/position", map[string]int{"position": 2}},
		{http.MethodPost, "/api/v1/separators/V1/set", nil},
		{http.MethodPost, "/api/v1/separators/V1/reset", nil},
	}
	for _, tt := range locked {
		w := env.do(t, tt.method, tt.path, tt.body, "")
		if w.Code != http.StatusConflict {
			t.Errorf("%s %s: status = %d, want 409", tt.method, tt.path, w.Code)
			continue
		}
		if code := errorCode(t, w); code != "MACHINE_409" {
			t.Errorf("%s %s: code = %q", tt.method, tt.path, code)
		}
	}
	if got := env.transport.get(station.OutputBase + 1); got != 0 {
		t.Errorf("output word = %#04x, want untouched", got)
	}
	if got := env.transport.get(8025); got != 0 {
		t.Errorf("speed register = %d, want untouched", got)
	}

	// stopping stays possible
	if w := env.do(t, http.MethodPost, "/api/v1/conveyors/A/stop", nil, ""); w.Code != http.StatusOK {
		t.Errorf("stop during emergency: status = %d: %s", w.Code, w.Body)
	}

	w = env.do(t, http.MethodPost, "/api/v1/machine/command", map[string]string{"command": "reset"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("reset: status = %d: %s", w.Code, w.Body)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/conveyors/A/forward", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("forward after reset: status = %d: %s", w.Code, w.Body)
	}
	if got := env.transport.get(station.OutputBase + 1); got != 0x0001 {
		t.Errorf("output word = %#04x, want 0x0001", got)
	}
}

func TestEventsWithoutJournal(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{})

	w := env.do(t, http.MethodGet, "/api/v1/events", nil, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAuthFlow(t *testing.T) {
	secret, err := auth.GenerateClientSecret()
	if err != nil {
		t.Fatal(err)
	}
	hash, err := auth.NewSecretHasher().WithCost(1024, 1).Hash(secret)
	if err != nil {
		t.Fatal(err)
	}

	env := newTestEnv(t, config.AuthConfig{
		Enabled:        true,
		JWTSecretEnv:   "OTC_REST_TEST_SECRET",
		AccessTokenTTL: time.Minute,
		Clients:        []config.ClientConfig{{Name: "mes", SecretHash: hash, Role: auth.RoleOperator}},
	})

	if w := env.do(t, http.MethodGet, "/api/v1/channels", nil, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("without token: status = %d", w.Code)
	}

	w := env.do(t, http.MethodPost, "/api/v1/auth/token", map[string]string{"client": "mes", "secret": "otc_wrong"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/auth/token", map[string]string{"client": "mes", "secret": secret}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("token: status = %d: %s", w.Code, w.Body)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, w, &tok)

	if w := env.do(t, http.MethodGet, "/api/v1/channels", nil, tok.AccessToken); w.Code != http.StatusOK {
		t.Errorf("with token: status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/conveyors/A/stop", nil, tok.AccessToken); w.Code != http.StatusOK {
		t.Errorf("operator stop: status = %d", w.Code)
	}
	// raw register access needs the technician role
	if w := env.do(t, http.MethodGet, "/api/v1/registers/outputs", nil, tok.AccessToken); w.Code != http.StatusForbidden {
		t.Errorf("operator registers: status = %d, want 403", w.Code)
	}
}
