package system

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/KevinKickass/OpenTransportCore/internal/api/rest"
	"github.com/KevinKickass/OpenTransportCore/internal/api/websocket"
	"github.com/KevinKickass/OpenTransportCore/internal/auth"
	"github.com/KevinKickass/OpenTransportCore/internal/config"
	"github.com/KevinKickass/OpenTransportCore/internal/interfaces"
	"github.com/KevinKickass/OpenTransportCore/internal/machine"
	"github.com/KevinKickass/OpenTransportCore/internal/modbus"
	"github.com/KevinKickass/OpenTransportCore/internal/station"
	"github.com/KevinKickass/OpenTransportCore/internal/storage"
	"github.com/KevinKickass/OpenTransportCore/internal/telemetry"
)

// StationService is the gRPC health service name reflecting the PLC link.
const StationService = "opentransportcore.Station"

type LifecycleManager struct {
	config            *config.Config
	storage           *storage.PostgresClient
	client            *modbus.Client
	station           *station.Station
	poller            *station.Poller
	dispatcher        *telemetry.Dispatcher
	wsHub             *websocket.Hub
	authService       *auth.Service
	machineController *machine.Controller
	logger            *zap.Logger

	restServer *rest.Server
	grpcServer *grpc.Server
	health     *health.Server

	stateMu      sync.RWMutex
	currentState SystemState
	linkHealthy  bool

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager wires the station stack. db may be nil when the
// event journal is disabled.
func NewLifecycleManager(db *storage.PostgresClient, cfg *config.Config, logger *zap.Logger) *LifecycleManager {
	dispatcher := telemetry.NewDispatcher(cfg.Telemetry.BufferSize, logger.Named("telemetry"))

	client := modbus.NewClient(cfg.Station.Endpoint(), uint8(cfg.Station.UnitID), cfg.Station.Timeout)
	st := station.New(client, station.Config{
		Retry: station.RetryPolicy{
			MaxAttempts: cfg.Station.Retry.MaxAttempts,
			Backoff:     cfg.Station.Retry.Backoff,
			Timeout:     cfg.Station.Retry.Timeout,
		},
		RootTopic:      cfg.Telemetry.RootTopic,
		RegisterEvents: cfg.Telemetry.RegisterEvents,
	}, logger.Named("station"), dispatcher)

	authService := auth.NewService(cfg.Auth, logger.Named("auth"))

	lm := &LifecycleManager{
		config:            cfg,
		storage:           db,
		client:            client,
		station:           st,
		dispatcher:        dispatcher,
		wsHub:             websocket.NewHub(logger.Named("websocket"), authService),
		authService:       authService,
		machineController: machine.NewController(logger.Named("machine"), st, dispatcher, st.Topics()),
		logger:            logger,
		health:            health.NewServer(),
		currentState:      StateInitializing,
		shutdownChan:      make(chan struct{}),
	}
	lm.poller = station.NewPoller(st, cfg.Station.PollInterval, logger.Named("poller"), lm.onLinkHealth)
	lm.health.SetServingStatus(StationService, healthpb.HealthCheckResponse_NOT_SERVING)

	return lm
}

// Start starts the entire system
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenTransportCore",
		zap.String("station", lm.config.Station.Endpoint()))

	lm.setState(StateInitializing)

	lm.addSinks()
	lm.dispatcher.Start()
	go lm.wsHub.Run()

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	if err := lm.poller.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start poller: %w", err))
		return err
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Strings("sinks", lm.dispatcher.Sinks()))

	return nil
}

// addSinks registers the configured telemetry sinks. A broker that cannot
// be reached is logged and skipped, the station works without it.
func (lm *LifecycleManager) addSinks() {
	tc := lm.config.Telemetry
	logger := lm.logger.Named("telemetry")

	if tc.MQTT.Enabled {
		if sink, err := telemetry.NewMQTTSink(tc.MQTT, logger); err != nil {
			lm.logger.Warn("MQTT sink disabled", zap.Error(err))
		} else {
			lm.dispatcher.AddSink(sink)
		}
	}
	if tc.Valkey.Enabled {
		if sink, err := telemetry.NewValkeySink(tc.Valkey, logger); err != nil {
			lm.logger.Warn("Valkey sink disabled", zap.Error(err))
		} else {
			lm.dispatcher.AddSink(sink)
		}
	}
	if tc.Kafka.Enabled {
		if sink, err := telemetry.NewKafkaSink(tc.Kafka, logger); err != nil {
			lm.logger.Warn("Kafka sink disabled", zap.Error(err))
		} else {
			lm.dispatcher.AddSink(sink)
		}
	}

	if lm.storage != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := lm.storage.EnsureSchema(ctx); err != nil {
			lm.logger.Warn("Event journal disabled", zap.Error(err))
		} else {
			lm.dispatcher.AddSink(storage.NewJournalSink(lm.storage))
		}
	}

	lm.dispatcher.AddSink(lm.wsHub)
}

// onLinkHealth is called by the poller whenever the PLC link changes.
func (lm *LifecycleManager) onLinkHealth(healthy bool, err error) {
	lm.stateMu.Lock()
	lm.linkHealthy = healthy
	lm.stateMu.Unlock()

	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	lm.health.SetServingStatus(StationService, status)
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		shutdownErr = lm.gracefulShutdown(ctx)
		lm.setState(StateStopped)

		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has completed.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	// 1. Poller zuerst, danach kommen keine Sensor-Events mehr
	lm.poller.Stop()

	// 2. REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 3. gRPC Server graceful stop
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.health.Shutdown()
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		err = fmt.Errorf("shutdown timeout exceeded")
	}
	select {
	case err = <-errChan:
	default:
	}

	// 4. Telemetry last so the final events still go out, then the link
	lm.dispatcher.Stop()
	if cerr := lm.client.Close(); cerr != nil {
		lm.logger.Warn("Failed to close station connection", zap.Error(cerr))
	}

	if err == nil {
		lm.logger.Info("Graceful shutdown completed")
	}
	return err
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger.Named("rest"), lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if state != lm.currentState {
		if err := ValidateTransition(lm.currentState, state); err != nil {
			lm.logger.Warn("Unexpected system state transition", zap.Error(err))
		}
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.setState(StateError)
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	return interfaces.SystemStatus{
		State:            lm.currentState.String(),
		StationEndpoint:  lm.client.Address(),
		LinkHealthy:      lm.linkHealthy,
		PollerRunning:    lm.poller.IsRunning(),
		Sinks:            lm.dispatcher.Sinks(),
		DroppedEvents:    lm.dispatcher.Dropped(),
		JournalAvailable: lm.storage != nil,
	}
}

// Station returns the station API
func (lm *LifecycleManager) Station() *station.Station {
	return lm.station
}

// Poller returns the sensor poller
func (lm *LifecycleManager) Poller() *station.Poller {
	return lm.poller
}

// MachineController returns the machine controller
func (lm *LifecycleManager) MachineController() *machine.Controller {
	return lm.machineController
}

// Journal returns the event journal, nil when the database is disabled
func (lm *LifecycleManager) Journal() *storage.PostgresClient {
	return lm.storage
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}
