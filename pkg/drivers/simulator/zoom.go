// Package simulator provides in-memory hardware objects for demos and tests.
package simulator

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"beamhub/pkg/hwobj"
)

const zoomUID = "5b7e9a14-c2d8-4f63-8e05-9a41d7c3b2f6"

// ZoomSimulator implements the hwobj.Motor interface.
type ZoomSimulator struct {
	logger  log.FieldLogger
	emitter *hwobj.Emitter

	info      hwobj.ObjectInfo
	driver    hwobj.DriverInfo
	limits    hwobj.MotorLimits
	positions []hwobj.PredefinedPosition
	status    hwobj.MotorStatus

	connected  bool
	connecting bool
}

func NewZoomSimulator(number int, emitter *hwobj.Emitter, logger log.FieldLogger) *ZoomSimulator {
	return &ZoomSimulator{
		logger:  logger,
		emitter: emitter,

		info: hwobj.ObjectInfo{
			Name:        "Zoom Simulator",
			Description: "Simulated zoom optics",
			Type:        hwobj.TypeMotor,
			Number:      number,
			UniqueID:    zoomUID,
		},
		driver: hwobj.DriverInfo{
			Name:             "Zoom Simulator Driver",
			Version:          "1.0",
			InterfaceVersion: 1,
		},
		limits: hwobj.MotorLimits{Min: 0, Max: 12},
		positions: []hwobj.PredefinedPosition{
			{Name: "Zoom 1", Value: 0},
			{Name: "Zoom 2", Value: 4},
			{Name: "Zoom 3", Value: 8},
			{Name: "Zoom 4", Value: 12},
		},
	}
}

func (d *ZoomSimulator) Close() error {
	d.logger.Info("Closing zoom simulator")
	return nil
}

func (d *ZoomSimulator) ObjectInfo() hwobj.ObjectInfo {
	return d.info
}

func (d *ZoomSimulator) DriverInfo() hwobj.DriverInfo {
	return d.driver
}

func (d *ZoomSimulator) GetState() []hwobj.StateProperty {
	props := []hwobj.StateProperty{
		{
			Name:  "TimeStamp",
			Value: time.Now().Format(time.RFC3339),
		},
	}

	if d.connected {
		props = append(props, d.status.ToProperties()...)
	}

	return props
}

func (d *ZoomSimulator) Connect() error {
	if d.connected {
		return nil
	}
	d.connected = true
	d.logger.Infof("%s connected", d.info.Name)
	return nil
}

func (d *ZoomSimulator) Disconnect() error {
	if !d.connected {
		return nil
	}
	d.connected = false
	d.logger.Infof("%s disconnected", d.info.Name)
	return nil
}

func (d *ZoomSimulator) Connected() bool {
	return d.connected
}

func (d *ZoomSimulator) Connecting() bool {
	return d.connecting
}

func (d *ZoomSimulator) Status() hwobj.MotorStatus {
	return d.status
}

func (d *ZoomSimulator) Limits() hwobj.MotorLimits {
	return d.limits
}

func (d *ZoomSimulator) PredefinedPositions() []hwobj.PredefinedPosition {
	return d.positions
}

func (d *ZoomSimulator) MoveTo(position float64) error {
	if !d.connected {
		return hwobj.ErrNotConnected
	}
	if position < d.limits.Min || position > d.limits.Max {
		return fmt.Errorf("position %g outside limits [%g, %g]",
			position, d.limits.Min, d.limits.Max)
	}

	d.logger.Infof("Moving zoom to %g", position)
	d.status.Position = position
	d.status.Moving = false
	d.emitter.Emit(d.info.Name, "positionChanged", position)
	return nil
}

func (d *ZoomSimulator) MoveToPosition(name string) error {
	for _, p := range d.positions {
		if p.Name == name {
			return d.MoveTo(p.Value)
		}
	}
	return fmt.Errorf("unknown predefined position: %s", name)
}

func (d *ZoomSimulator) Stop() error {
	if !d.connected {
		return hwobj.ErrNotConnected
	}
	d.logger.Info("Stopping zoom")
	d.status.Moving = false
	return nil
}
