// Package backlight drives the sample-view illumination. The same driver
// serves the back and front lights, distinguished by object number and topic
// root.
package backlight

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
	backlightUID  = "9f2d67de-30a1-45b9-8b6a-5f1c29f4c7b3"
	deviceType    = hwobj.TypeLight
	driverName    = "Backlight Driver"
	driverVersion = "1.0"
)

// Command codes understood by the light controller.
const (
	cmdOn  byte = 'O'
	cmdOff byte = 'F'
)

type connState int

const (
	connStateDisconnected connState = iota
	connStateConnecting
	connStateConnected
)

// lightMsg is the change notification published on the "light" channel.
type lightMsg struct {
	On    int     `json:"on"`
	Level float64 `json:"level"`
}

type Driver struct {
	name    string
	number  int
	store   *store
	state   connState
	emitter *hwobj.Emitter
	logger  log.FieldLogger

	config Config

	client *bus.Client
	cancel context.CancelFunc

	mu     sync.RWMutex
	status hwobj.LightStatus
}

func NewDriver(name string, number int, db *bolt.DB, emitter *hwobj.Emitter, logger log.FieldLogger) (*Driver, error) {
	store, err := NewStore(db, number)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %v", err)
	}

	driver := Driver{
		name:    name,
		number:  number,
		store:   store,
		state:   connStateDisconnected,
		emitter: emitter,
		logger:  logger,
	}

	return &driver, nil
}

func (d *Driver) Close() {
	d.logger.Info("Closing backlight driver")

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
		return fmt.Errorf("failed to get backlight config: %v", err)
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
	d.logger.Info("Connected to light controller")

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
	d.logger.Info("Disconnected from light controller")
	return nil
}

func (d *Driver) run(ctx context.Context) {
	if err := d.client.Watch("light", d.lightHandler); err != nil {
		d.logger.Errorf("Failed to watch light channel: %v", err)
		return
	}
	defer d.client.Unwatch("light")

	<-ctx.Done()
}

func (d *Driver) lightHandler(payload []byte) {
	var msg lightMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.logger.Errorf("Failed to unmarshal light message: %v", err)
		return
	}

	d.logger.Debugf("Light: %+v", msg)

	d.mu.Lock()
	onChanged := d.status.On != (msg.On == 1)
	levelChanged := d.status.Level != msg.Level
	d.status.On = msg.On == 1
	d.status.Level = msg.Level
	d.mu.Unlock()

	if onChanged {
		d.emitter.Emit(d.name, "stateChanged", msg.On == 1)
	}
	if levelChanged {
		d.emitter.Emit(d.name, "levelChanged", msg.Level)
	}
}

func (d *Driver) Connecting() bool {
	return d.connectionState() == connStateConnecting
}

func (d *Driver) Connected() bool {
	return d.connectionState() == connStateConnected
}

func (d *Driver) ObjectInfo() hwobj.ObjectInfo {
	return hwobj.ObjectInfo{
		Name:        d.name,
		Description: "Sample-view illumination",
		Type:        deviceType,
		Number:      d.number,
		UniqueID:    backlightUID,
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

func (d *Driver) Status() hwobj.LightStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

func (d *Driver) SetOn(on bool) error {
	if d.connectionState() != connStateConnected {
		return hwobj.ErrNotConnected
	}

	cmd := cmdOff
	if on {
		cmd = cmdOn
	}
	_, err := d.client.Command(string(cmd))
	return err
}

func (d *Driver) SetLevel(level float64) error {
	if d.connectionState() != connStateConnected {
		return hwobj.ErrNotConnected
	}

	d.mu.RLock()
	cfg := d.config
	d.mu.RUnlock()

	clamped := clampLevel(level, cfg)
	if clamped != level {
		d.logger.Warnf("Level %g clamped to %g", level, clamped)
	}

	return d.client.WriteChannel("level", map[string]float64{"level": clamped})
}

func clampLevel(level float64, cfg Config) float64 {
	if level < cfg.MinLevel {
		return cfg.MinLevel
	}
	if level > cfg.MaxLevel {
		return cfg.MaxLevel
	}
	return level
}
