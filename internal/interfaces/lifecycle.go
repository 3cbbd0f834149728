package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenTransportCore/internal/config"
	"github.com/KevinKickass/OpenTransportCore/internal/machine"
	"github.com/KevinKickass/OpenTransportCore/internal/station"
	"github.com/KevinKickass/OpenTransportCore/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string   `json:"state"`
	StationEndpoint  string   `json:"station_endpoint"`
	LinkHealthy      bool     `json:"link_healthy"`
	PollerRunning    bool     `json:"poller_running"`
	Sinks            []string `json:"sinks"`
	DroppedEvents    uint64   `json:"dropped_events"`
	JournalAvailable bool     `json:"journal_available"`
}

type LifecycleManager interface {
	Config() *config.Config
	Station() *station.Station
	Poller() *station.Poller
	MachineController() *machine.Controller
	// Journal returns nil when the database is disabled.
	Journal() *storage.PostgresClient
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
