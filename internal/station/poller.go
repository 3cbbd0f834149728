package station

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenTransportCore/internal/telemetry"
)

// DefaultPollInterval is used when the poller is given a non-positive interval.
const DefaultPollInterval = 100 * time.Millisecond

// HealthFunc is told about every change of the PLC link state.
type HealthFunc func(healthy bool, err error)

// Poller reads all sensors cyclically and emits an event for every input
// that changed since the previous cycle.
type Poller struct {
	station  *Station
	interval time.Duration
	logger   *zap.Logger
	onHealth HealthFunc

	stopChan chan struct{} // neu pro Start
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex

	last    map[sensorKey]bool
	healthy *bool
}

type sensorKey struct {
	device DeviceID
	role   Role
}

func NewPoller(station *Station, interval time.Duration, logger *zap.Logger, onHealth HealthFunc) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		logger.Warn("Invalid poll interval, using default",
			zap.Duration("interval", interval),
			zap.Duration("default", DefaultPollInterval))
		interval = DefaultPollInterval
	}
	return &Poller{
		station:  station,
		interval: interval,
		logger:   logger,
		onHealth: onHealth,
		last:     make(map[sensorKey]bool),
	}
}

// Start startet das zyklische Polling
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.wg.Add(1)

	go p.pollLoop(p.stopChan)

	p.logger.Info("Sensor poller started", zap.Duration("interval", p.interval))

	return nil
}

// Stop stoppt das Polling
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stop := p.stopChan
	p.mu.Unlock()

	close(stop)
	p.wg.Wait()

	p.logger.Info("Sensor poller stopped")
}

// IsRunning gibt an ob Poller läuft
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Snapshot returns the sensor readings of the last successful cycle.
func (p *Poller) Snapshot() map[DeviceID]map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[DeviceID]map[string]bool)
	for key, value := range p.last {
		ch, err := Lookup(key.device)
		if err != nil {
			continue
		}
		if out[key.device] == nil {
			out[key.device] = make(map[string]bool)
		}
		out[key.device][sensorName(ch.Kind, key.role)] = value
	}
	return out
}

func (p *Poller) pollLoop(stop <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.Poll(context.Background())
		}
	}
}

// Poll runs a single cycle.
func (p *Poller) Poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	readings, err := p.station.ReadSensors(ctx)
	if err != nil {
		p.logger.Error("Sensor poll failed", zap.Error(err))
		p.setHealth(false, err)
		return
	}
	p.setHealth(true, nil)

	var changed []SensorReading
	p.mu.Lock()
	for _, r := range readings {
		key := sensorKey{device: r.Device, role: r.Sensor.Role}
		prev, seen := p.last[key]
		if !seen || prev != r.Value {
			changed = append(changed, r)
		}
		p.last[key] = r.Value
	}
	p.mu.Unlock()

	topics := p.station.Topics()
	for _, r := range changed {
		topic := topics.Device(r.Sensor.Kind.String(), string(r.Device), r.Sensor.Name)
		p.station.emit(telemetry.KindSensor, topic, r.Device, r.Value)
	}
}

func (p *Poller) setHealth(healthy bool, err error) {
	p.mu.Lock()
	changed := p.healthy == nil || *p.healthy != healthy
	p.healthy = &healthy
	p.mu.Unlock()

	if !changed {
		return
	}

	if healthy {
		p.logger.Info("PLC link up")
	} else {
		p.logger.Warn("PLC link down", zap.Error(err))
	}
	p.station.emit(telemetry.KindLink, p.station.Topics().Link(), "", healthy)
	if p.onHealth != nil {
		p.onHealth(healthy, err)
	}
}
