// Package flux drives the beamline flux sensor: a calibrated photodiode whose
// current is converted to photon flux.
package flux

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"beamhub/pkg/bus"
	"beamhub/pkg/hwobj"
)

const (
	fluxUID       = "3d9e1c77-84ab-49f2-9e60-61b7d2a0c9f8"
	deviceName    = "Flux Sensor"
	deviceType    = hwobj.TypeFluxMeter
	driverName    = "Flux Sensor Driver"
	driverVersion = "1.0"
)

// Command codes understood by the sensor controller.
const (
	cmdMeasure byte = 'M' // Trigger a measurement, reply carries the current
)

type connState int

const (
	connStateDisconnected connState = iota
	connStateConnecting
	connStateConnected
)

// currentMsg is the change notification published on the "current" channel.
type currentMsg struct {
	Current float64 `json:"current"`
}

// transmissionMsg is the change notification published on the "transmission" channel.
type transmissionMsg struct {
	Value float64 `json:"value"`
}

type Driver struct {
	number  int
	store   *store
	state   connState
	emitter *hwobj.Emitter
	logger  log.FieldLogger

	config Config

	client *bus.Client
	cancel context.CancelFunc

	mu      sync.RWMutex
	reading hwobj.FluxReading
}

func NewDriver(number int, db *bolt.DB, emitter *hwobj.Emitter, logger log.FieldLogger) (*Driver, error) {
	store, err := NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %v", err)
	}

	driver := Driver{
		number:  number,
		store:   store,
		state:   connStateDisconnected,
		emitter: emitter,
		logger:  logger,
	}

	return &driver, nil
}

func (d *Driver) Close() {
	d.logger.Info("Closing flux driver")

	if d.connectionState() == connStateDisconnected {
		if d.cancel != nil {
			d.cancel()
			d.cancel = nil
		}
		return
	}
	if err := d.Disconnect(); err != nil {
		d.logger.Errorf("failed to disconnect: %v", err)
	}
}

// connectionState and setConnectionState guard the connection state, which the
// HTTP handlers read concurrently with Connect and Disconnect.
func (d *Driver) connectionState() connState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Driver) setConnectionState(state connState) {
	d.mu.Lock()
	d.state = state
	d.mu.Unlock()
}

func (d *Driver) Connect() error {
	config, err := d.store.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to get flux config: %v", err)
	}

	d.mu.Lock()
	if d.state != connStateDisconnected {
		d.mu.Unlock()
		return fmt.Errorf("driver is already connected")
	}
	d.state = connStateConnecting
	d.config = config
	d.mu.Unlock()

	client, err := bus.Connect(config.Config, d.logger)
	if err != nil {
		d.setConnectionState(connStateDisconnected)
		return fmt.Errorf("failed to connect to device bus: %v", err)
	}
	d.client = client

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.run(ctx)

	d.setConnectionState(connStateConnected)
	d.logger.Info("Connected to flux sensor controller")

	return nil
}

func (d *Driver) Disconnect() error {
	d.mu.Lock()
	if d.state != connStateConnected {
		d.mu.Unlock()
		return hwobj.ErrNotConnected
	}
	d.state = connStateDisconnected
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.client.Close()
	d.logger.Info("Disconnected from flux sensor controller")
	return nil
}

func (d *Driver) run(ctx context.Context) {
	if err := d.client.Watch("current", d.currentHandler); err != nil {
		d.logger.Errorf("Failed to watch current channel: %v", err)
		return
	}
	defer d.client.Unwatch("current")

	if err := d.client.Watch("transmission", d.transmissionHandler); err != nil {
		d.logger.Errorf("Failed to watch transmission channel: %v", err)
		return
	}
	defer d.client.Unwatch("transmission")

	<-ctx.Done()
}

func (d *Driver) currentHandler(payload []byte) {
	var msg currentMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.logger.Errorf("Failed to unmarshal current message: %v", err)
		return
	}

	d.updateCurrent(msg.Current)
}

func (d *Driver) transmissionHandler(payload []byte) {
	var msg transmissionMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.logger.Errorf("Failed to unmarshal transmission message: %v", err)
		return
	}

	d.mu.Lock()
	d.reading.Transmission = msg.Value
	d.mu.Unlock()
}

func (d *Driver) updateCurrent(current float64) {
	d.mu.RLock()
	cfg := d.config
	d.mu.RUnlock()

	flux, below := computeFlux(current, cfg)
	if below {
		d.logger.Warnf("Current %g A below dark-current floor, reporting zero flux", current)
	}

	d.mu.Lock()
	d.reading.Current = current
	d.reading.Flux = flux
	d.reading.MeasuredAt = time.Now()
	d.mu.Unlock()

	d.emitter.Emit(deviceName, "fluxChanged", flux)
}

// computeFlux converts a detector current to photon flux. Currents below the
// configured floor count as no beam.
func computeFlux(current float64, cfg Config) (flux float64, belowFloor bool) {
	if current < cfg.MinCurrent {
		return 0, true
	}
	return current * cfg.CalibrationFactor, false
}

func (d *Driver) Connecting() bool {
	return d.connectionState() == connStateConnecting
}

func (d *Driver) Connected() bool {
	return d.connectionState() == connStateConnected
}

func (d *Driver) ObjectInfo() hwobj.ObjectInfo {
	return hwobj.ObjectInfo{
		Name:        deviceName,
		Description: "Calibrated photodiode flux sensor",
		Type:        deviceType,
		Number:      d.number,
		UniqueID:    fluxUID,
	}
}

func (d *Driver) DriverInfo() hwobj.DriverInfo {
	return hwobj.DriverInfo{
		Name:             driverName,
		Version:          driverVersion,
		InterfaceVersion: 1,
	}
}

func (d *Driver) GetState() []hwobj.StateProperty {
	props := []hwobj.StateProperty{
		{
			Name:  "TimeStamp",
			Value: time.Now().Format(time.RFC3339),
		},
	}

	if d.connectionState() == connStateConnected {
		props = append(props, d.LastReading().ToProperties()...)
	}

	return props
}

func (d *Driver) LastReading() hwobj.FluxReading {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.reading
}

// Measure triggers a measurement on the controller and folds the replied
// current into the reading.
func (d *Driver) Measure() (hwobj.FluxReading, error) {
	if d.connectionState() != connStateConnected {
		return hwobj.FluxReading{}, hwobj.ErrNotConnected
	}

	reply, err := d.client.Command(string(cmdMeasure))
	if err != nil {
		return hwobj.FluxReading{}, err
	}

	current, err := strconv.ParseFloat(reply.Value, 64)
	if err != nil {
		return hwobj.FluxReading{}, fmt.Errorf("invalid current in reply: %v", err)
	}

	d.updateCurrent(current)
	return d.LastReading(), nil
}

func (d *Driver) SetTransmission(transmission float64) error {
	if d.connectionState() != connStateConnected {
		return hwobj.ErrNotConnected
	}

	if transmission < 0 || transmission > 100 {
		return fmt.Errorf("transmission %g outside [0, 100]", transmission)
	}

	return d.client.WriteChannel("transmission", transmissionMsg{Value: transmission})
}
