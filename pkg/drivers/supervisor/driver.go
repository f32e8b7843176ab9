// Package supervisor drives the beamline supervisor, the controller that
// sequences the beamline between sample-view, collect and transfer phases.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"beamhub/pkg/bus"
	"beamhub/pkg/hwobj"
)

const (
	supervisorUID = "b8356f02-6c1d-41f9-bd42-7e9a8a3c5e20"
	deviceName    = "Beamline Supervisor"
	deviceType    = hwobj.TypeSupervisor
	driverName    = "Beamline Supervisor Driver"
	driverVersion = "1.0"
)

// Command codes understood by the supervisor controller.
const (
	cmdGoSampleView byte = 'V'
	cmdGoCollect    byte = 'C'
)

type connState int

const (
	connStateDisconnected connState = iota
	connStateConnecting
	connStateConnected
)

// phaseMsg is the change notification published on the "phase" channel.
type phaseMsg struct {
	Phase int `json:"phase"`
	State int `json:"state"` // 1 when the supervisor state machine is ON
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

	mu     sync.RWMutex
	phase  hwobj.Phase
	svOn   bool
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
	d.logger.Info("Closing supervisor driver")

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
		return fmt.Errorf("failed to get supervisor config: %v", err)
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
	d.logger.Info("Connected to supervisor controller")

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
	d.logger.Info("Disconnected from supervisor controller")
	return nil
}

func (d *Driver) run(ctx context.Context) {
	if err := d.client.Watch("phase", d.phaseHandler); err != nil {
		d.logger.Errorf("Failed to watch phase channel: %v", err)
		return
	}
	defer d.client.Unwatch("phase")

	<-ctx.Done()
}

func (d *Driver) phaseHandler(payload []byte) {
	var msg phaseMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.logger.Errorf("Failed to unmarshal phase message: %v", err)
		return
	}

	phase := phaseFromCode(msg.Phase)
	d.logger.Debugf("Supervisor phase: %s", phase)

	d.mu.Lock()
	changed := d.phase != phase
	d.phase = phase
	d.svOn = msg.State == 1
	d.mu.Unlock()

	if changed {
		d.emitter.Emit(deviceName, "phaseChanged", phase.String())
	}
}

// phaseFromCode maps the controller phase code to a beamline phase. Codes
// outside the known set report as unknown.
func phaseFromCode(code int) hwobj.Phase {
	switch code {
	case 1:
		return hwobj.PhaseSampleView
	case 2:
		return hwobj.PhaseCollect
	case 3:
		return hwobj.PhaseTransfer
	}
	return hwobj.PhaseUnknown
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
		Description: "Beamline phase supervisor",
		Type:        deviceType,
		Number:      d.number,
		UniqueID:    supervisorUID,
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
		props = append(props, d.Status().ToProperties()...)
	}

	return props
}

func (d *Driver) Status() hwobj.SupervisorStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return hwobj.SupervisorStatus{
		Phase: d.phase,
		Ready: ready(d.phase, d.svOn),
	}
}

// ready reports whether the beamline can be operated: the supervisor state
// machine is on and the phase is one users can work in.
func ready(phase hwobj.Phase, on bool) bool {
	if !on {
		return false
	}
	return phase == hwobj.PhaseSampleView || phase == hwobj.PhaseCollect
}

// TransferAllowed implements the sample changer's transfer guard: a sample
// may only move while the beamline sits in the transfer phase.
func (d *Driver) TransferAllowed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.phase == hwobj.PhaseTransfer && d.svOn
}

func (d *Driver) GoSampleView() error {
	if d.connectionState() != connStateConnected {
		return hwobj.ErrNotConnected
	}

	_, err := d.client.Command(string(cmdGoSampleView))
	return err
}

func (d *Driver) GoCollect() error {
	if d.connectionState() != connStateConnected {
		return hwobj.ErrNotConnected
	}

	_, err := d.client.Command(string(cmdGoCollect))
	return err
}
