// Package zoom drives the motorized zoom optics of the sample-view camera.
package zoom

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"beamhub/pkg/bus"
	"beamhub/pkg/hwobj"
)

const (
	zoomUID       = "7c4b3a52-9d1e-4f07-9c36-2f88a61f0d41"
	deviceName    = "Zoom Optics"
	deviceType    = hwobj.TypeMotor
	driverName    = "Zoom Optics Driver"
	driverVersion = "1.0"
)

// Command codes understood by the zoom controller.
const (
	cmdGoto byte = 'G' // Go to a position value
	cmdStop byte = 'A' // Abort movement
)

type connState int

const (
	connStateDisconnected connState = iota
	connStateConnecting
	connStateConnected
)

// positionMsg is the change notification published by the controller on the
// "position" channel.
type positionMsg struct {
	Position float64 `json:"pos"`
	Moving   int     `json:"moving"`
	AtLimit  int     `json:"lim"`
}

// Driver implements hwobj.Motor on top of the device bus.
type Driver struct {
	number  int
	store   *store
	tmpl    *template.Template
	state   connState
	emitter *hwobj.Emitter
	logger  log.FieldLogger

	config Config

	// The bus client is created when the driver is connected
	client *bus.Client
	cancel context.CancelFunc

	mu     sync.RWMutex
	status hwobj.MotorStatus
}

func NewDriver(number int, db *bolt.DB, emitter *hwobj.Emitter, tmpl *template.Template, logger log.FieldLogger) (*Driver, error) {
	store, err := NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %v", err)
	}

	driver := Driver{
		number:  number,
		store:   store,
		tmpl:    tmpl,
		state:   connStateDisconnected,
		emitter: emitter,
		logger:  logger,
	}

	return &driver, nil
}

func (d *Driver) Close() {
	d.logger.Info("Closing zoom driver")

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
		return fmt.Errorf("failed to get zoom config: %v", err)
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
	d.logger.Info("Connected to zoom controller")

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
	d.logger.Info("Disconnected from zoom controller")
	return nil
}

// run watches the position channel until the context is cancelled.
func (d *Driver) run(ctx context.Context) {
	if err := d.client.Watch("position", d.positionHandler); err != nil {
		d.logger.Errorf("Failed to watch position channel: %v", err)
		return
	}
	defer d.client.Unwatch("position")

	<-ctx.Done()
}

func (d *Driver) positionHandler(payload []byte) {
	var msg positionMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.logger.Errorf("Failed to unmarshal position message: %v", err)
		return
	}

	d.logger.Debugf("Position: %+v", msg)

	d.mu.Lock()
	changed := d.status.Position != msg.Position
	d.status.Position = msg.Position
	d.status.Moving = msg.Moving == 1
	d.status.AtLimit = msg.AtLimit == 1
	d.mu.Unlock()

	if changed {
		d.emitter.Emit(deviceName, "positionChanged", msg.Position)
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
		Name:        deviceName,
		Description: "Motorized zoom of the sample-view optics",
		Type:        deviceType,
		Number:      d.number,
		UniqueID:    zoomUID,
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

func (d *Driver) Status() hwobj.MotorStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

func (d *Driver) currentConfig() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

func (d *Driver) Limits() hwobj.MotorLimits {
	cfg := d.currentConfig()
	return hwobj.MotorLimits{Min: cfg.MinPosition, Max: cfg.MaxPosition}
}

func (d *Driver) PredefinedPositions() []hwobj.PredefinedPosition {
	return d.currentConfig().Positions
}

func (d *Driver) MoveTo(position float64) error {
	if d.connectionState() != connStateConnected {
		return hwobj.ErrNotConnected
	}

	if err := checkLimits(position, d.currentConfig()); err != nil {
		return err
	}

	_, err := d.client.Command(fmt.Sprintf("%c=%s", cmdGoto, strconv.FormatFloat(position, 'g', -1, 64)))
	return err
}

func (d *Driver) MoveToPosition(name string) error {
	value, err := lookupPosition(name, d.currentConfig().Positions)
	if err != nil {
		return err
	}
	return d.MoveTo(value)
}

func (d *Driver) Stop() error {
	if d.connectionState() != connStateConnected {
		return hwobj.ErrNotConnected
	}

	_, err := d.client.Command(string(cmdStop))
	return err
}

func checkLimits(position float64, cfg Config) error {
	if position < cfg.MinPosition || position > cfg.MaxPosition {
		return fmt.Errorf("position %g outside limits [%g, %g]",
			position, cfg.MinPosition, cfg.MaxPosition)
	}
	return nil
}

func lookupPosition(name string, positions []hwobj.PredefinedPosition) (float64, error) {
	for _, p := range positions {
		if p.Name == name {
			return p.Value, nil
		}
	}
	return 0, fmt.Errorf("unknown predefined position: %s", name)
}

func (d *Driver) HandleSetup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := d.store.GetConfig()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		d.renderSetupForm(w, cfg, false, "")

	case http.MethodPost:
		base, err := d.store.GetConfig()
		if err != nil {
			base = defaultConfig
		}

		cfg, err := parseSetupForm(r, base)
		if err != nil {
			d.renderSetupForm(w, cfg, false, err.Error())
			return
		}

		d.logger.Infof("Setting zoom config: %+v", cfg)
		if err := d.store.SetConfig(cfg); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		d.renderSetupForm(w, cfg, true, "")

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (d *Driver) renderSetupForm(w http.ResponseWriter, cfg Config, success bool, err string) {
	data := struct {
		Config
		Success bool
		Error   string
	}{cfg, success, err}

	if err := d.tmpl.ExecuteTemplate(w, "zoom_setup.html", data); err != nil {
		http.Error(w, "Error rendering template", http.StatusInternalServerError)
		d.logger.Errorf("Error rendering template: %v", err)
	}
}

// parseSetupForm applies the form values onto the stored configuration, so
// fields the form does not expose survive a setup POST.
func parseSetupForm(r *http.Request, base Config) (Config, error) {
	if err := r.ParseForm(); err != nil {
		return base, fmt.Errorf("error parsing form: %v", err)
	}

	cfg := base
	cfg.Broker = r.FormValue("mqtt-broker")
	cfg.Username = r.FormValue("mqtt-username")
	cfg.Password = r.FormValue("mqtt-password")
	cfg.TopicRoot = r.FormValue("mqtt-topic-root")

	cfg.MinPosition, _ = strconv.ParseFloat(r.FormValue("min-position"), 64)
	cfg.MaxPosition, _ = strconv.ParseFloat(r.FormValue("max-position"), 64)

	return cfg, nil
}
