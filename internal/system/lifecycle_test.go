package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/KevinKickass/OpenTransportCore/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Station: config.StationConfig{
			Address:      "127.0.0.1",
			Port:         1502,
			UnitID:       1,
			Timeout:      100 * time.Millisecond,
			PollInterval: 50 * time.Millisecond,
		},
		Telemetry: config.TelemetryConfig{RootTopic: "Transport_out", BufferSize: 16},
	}
}

func servingStatus(t *testing.T, lm *LifecycleManager) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := lm.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: StationService})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	return resp.Status
}

func TestLinkHealthDrivesGRPCHealth(t *testing.T) {
	lm := NewLifecycleManager(nil, testConfig(), zaptest.NewLogger(t))

	if got := servingStatus(t, lm); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("initial status = %v", got)
	}

	lm.onLinkHealth(true, nil)
	if got := servingStatus(t, lm); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("after link up = %v", got)
	}
	if !lm.GetCurrentStatus().LinkHealthy {
		t.Error("status should report a healthy link")
	}

	lm.onLinkHealth(false, errors.New("timeout"))
	if got := servingStatus(t, lm); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after link down = %v", got)
	}
}

func TestCurrentStatus(t *testing.T) {
	lm := NewLifecycleManager(nil, testConfig(), zaptest.NewLogger(t))

	status := lm.GetCurrentStatus()
	if status.State != "INITIALIZING" {
		t.Errorf("state = %q", status.State)
	}
	if status.StationEndpoint != "127.0.0.1:1502" {
		t.Errorf("endpoint = %q", status.StationEndpoint)
	}
	if status.JournalAvailable || status.PollerRunning {
		t.Errorf("status = %+v", status)
	}
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to SystemState
		ok       bool
	}{
		{StateInitializing, StateRunning, true},
		{StateRunning, StateStopping, true},
		{StateStopping, StateStopped, true},
		{StateError, StateStopping, true},
		{StateStopped, StateRunning, false},
		{StateRunning, StateInitializing, false},
	}

	for _, tc := range tests {
		err := ValidateTransition(tc.from, tc.to)
		if (err == nil) != tc.ok {
			t.Errorf("%s -> %s: err = %v, want ok=%v", tc.from, tc.to, err, tc.ok)
		}
	}
}
