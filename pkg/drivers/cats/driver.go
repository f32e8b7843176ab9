// Package cats drives a CATS-style robotic sample changer.
package cats

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
	catsUID       = "e1a4c9b8-52d3-4e6f-8a17-0cdd94b2f6a5"
	deviceName    = "Sample Changer"
	deviceType    = hwobj.TypeSampleChanger
	driverName    = "CATS Sample Changer Driver"
	driverVersion = "1.0"
)

// Command codes understood by the changer controller.
const (
	cmdMount  byte = 'M' // Mount a sample, argument "lid,sample"
	cmdUnload byte = 'U' // Unload the mounted sample
	cmdAbort  byte = 'A' // Abort the running path
)

type connState int

const (
	connStateDisconnected connState = iota
	connStateConnecting
	connStateConnected
)

// stateMsg is the change notification published on the "state" channel.
type stateMsg struct {
	State string `json:"state"`
	Path  int    `json:"path"`
}

// sampleMsg is the change notification published on the "sample" channel.
type sampleMsg struct {
	Lid     int `json:"lid"`
	Sample  int `json:"sample"`
	Mounted int `json:"mounted"`
}

// TransferGuard tells the changer whether the beamline currently allows a
// sample transfer. The supervisor driver implements it.
type TransferGuard interface {
	TransferAllowed() bool
}

type Driver struct {
	number  int
	store   *store
	state   connState
	emitter *hwobj.Emitter
	guard   TransferGuard
	logger  log.FieldLogger

	config Config

	client *bus.Client
	cancel context.CancelFunc

	mu     sync.RWMutex
	status hwobj.ChangerStatus
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

// SetGuard installs the transfer guard. Without a guard every load is allowed.
func (d *Driver) SetGuard(guard TransferGuard) {
	d.guard = guard
}

func (d *Driver) Close() {
	d.logger.Info("Closing sample changer driver")

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
		return fmt.Errorf("failed to get sample changer config: %v", err)
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
	d.logger.Info("Connected to sample changer controller")

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
	d.logger.Info("Disconnected from sample changer controller")
	return nil
}

func (d *Driver) run(ctx context.Context) {
	if err := d.client.Watch("state", d.stateHandler); err != nil {
		d.logger.Errorf("Failed to watch state channel: %v", err)
		return
	}
	defer d.client.Unwatch("state")

	if err := d.client.Watch("sample", d.sampleHandler); err != nil {
		d.logger.Errorf("Failed to watch sample channel: %v", err)
		return
	}
	defer d.client.Unwatch("sample")

	<-ctx.Done()
}

func (d *Driver) stateHandler(payload []byte) {
	var msg stateMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.logger.Errorf("Failed to unmarshal state message: %v", err)
		return
	}

	state, err := parseState(msg.State)
	if err != nil {
		d.logger.Warnf("Unknown changer state: %v", err)
		state = hwobj.ChangerFault
	}

	d.logger.Debugf("Changer state: %+v", msg)

	d.mu.Lock()
	stateChanged := d.status.State != state
	pathChanged := d.status.PathRunning != (msg.Path == 1)
	d.status.State = state
	d.status.PathRunning = msg.Path == 1
	d.mu.Unlock()

	if stateChanged {
		d.emitter.Emit(deviceName, "stateChanged", state.String())
	}
	if pathChanged {
		d.emitter.Emit(deviceName, "pathRunningChanged", msg.Path == 1)
	}
}

func (d *Driver) sampleHandler(payload []byte) {
	var msg sampleMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.logger.Errorf("Failed to unmarshal sample message: %v", err)
		return
	}

	d.logger.Debugf("Loaded sample: %+v", msg)

	address := hwobj.SampleAddress{Lid: msg.Lid, Sample: msg.Sample}

	d.mu.Lock()
	changed := d.status.LoadedSample != address || d.status.SampleOnDiff != (msg.Mounted == 1)
	d.status.LoadedSample = address
	d.status.SampleOnDiff = msg.Mounted == 1
	d.mu.Unlock()

	if changed {
		d.emitter.Emit(deviceName, "loadedSampleChanged", address)
	}
}

// parseState maps the controller state string to a changer state.
func parseState(s string) (hwobj.ChangerState, error) {
	switch s {
	case "IDLE":
		return hwobj.ChangerIdle, nil
	case "LOADING":
		return hwobj.ChangerLoading, nil
	case "UNLOADING":
		return hwobj.ChangerUnloading, nil
	case "FAULT", "ERROR":
		return hwobj.ChangerFault, nil
	}
	return hwobj.ChangerFault, fmt.Errorf("unknown state string: %q", s)
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
		Description: "Robotic sample changer",
		Type:        deviceType,
		Number:      d.number,
		UniqueID:    catsUID,
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

func (d *Driver) Status() hwobj.ChangerStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

func (d *Driver) Load(address hwobj.SampleAddress) error {
	if d.connectionState() != connStateConnected {
		return hwobj.ErrNotConnected
	}

	if err := d.checkLoadAllowed(address); err != nil {
		return err
	}

	_, err := d.client.Command(fmt.Sprintf("%c=%d,%d", cmdMount, address.Lid, address.Sample))
	return err
}

// checkLoadAllowed validates the address and the beamline conditions before a
// load command is issued.
func (d *Driver) checkLoadAllowed(address hwobj.SampleAddress) error {
	if address.Lid < 1 || address.Lid > d.config.Lids {
		return fmt.Errorf("lid %d out of range [1, %d]", address.Lid, d.config.Lids)
	}
	if address.Sample < 1 || address.Sample > d.config.SamplesPerLid {
		return fmt.Errorf("sample %d out of range [1, %d]", address.Sample, d.config.SamplesPerLid)
	}

	if d.Status().PathRunning {
		return fmt.Errorf("a changer path is already running")
	}

	if d.guard != nil && !d.guard.TransferAllowed() {
		return fmt.Errorf("beamline phase does not allow sample transfer")
	}

	return nil
}

func (d *Driver) Unload() error {
	if d.connectionState() != connStateConnected {
		return hwobj.ErrNotConnected
	}

	if !d.Status().SampleOnDiff {
		return fmt.Errorf("no sample mounted")
	}

	_, err := d.client.Command(string(cmdUnload))
	return err
}

func (d *Driver) Abort() error {
	if d.connectionState() != connStateConnected {
		return hwobj.ErrNotConnected
	}

	_, err := d.client.Command(string(cmdAbort))
	return err
}
