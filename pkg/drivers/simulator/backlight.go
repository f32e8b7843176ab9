package simulator

import (
	"time"

	log "github.com/sirupsen/logrus"

	"beamhub/pkg/hwobj"
)

const backlightUID = "2f61c8d0-7b3e-49a5-b1c4-8d20e5a79f13"

// BacklightSimulator implements the hwobj.Light interface.
type BacklightSimulator struct {
	logger  log.FieldLogger
	emitter *hwobj.Emitter

	info   hwobj.ObjectInfo
	driver hwobj.DriverInfo
	status hwobj.LightStatus

	connected  bool
	connecting bool
}

func NewBacklightSimulator(number int, emitter *hwobj.Emitter, logger log.FieldLogger) *BacklightSimulator {
	return &BacklightSimulator{
		logger:  logger,
		emitter: emitter,

		info: hwobj.ObjectInfo{
			Name:        "Backlight Simulator",
			Description: "Simulated sample-view illumination",
			Type:        hwobj.TypeLight,
			Number:      number,
			UniqueID:    backlightUID,
		},
		driver: hwobj.DriverInfo{
			Name:             "Backlight Simulator Driver",
			Version:          "1.0",
			InterfaceVersion: 1,
		},
	}
}

func (d *BacklightSimulator) Close() error {
	d.logger.Info("Closing backlight simulator")
	return nil
}

func (d *BacklightSimulator) ObjectInfo() hwobj.ObjectInfo {
	return d.info
}

func (d *BacklightSimulator) DriverInfo() hwobj.DriverInfo {
	return d.driver
}

func (d *BacklightSimulator) GetState() []hwobj.StateProperty {
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

func (d *BacklightSimulator) Connect() error {
	if d.connected {
		return nil
	}
	d.connected = true
	d.logger.Infof("%s connected", d.info.Name)
	return nil
}

func (d *BacklightSimulator) Disconnect() error {
	if !d.connected {
		return nil
	}
	d.connected = false
	d.logger.Infof("%s disconnected", d.info.Name)
	return nil
}

func (d *BacklightSimulator) Connected() bool {
	return d.connected
}

func (d *BacklightSimulator) Connecting() bool {
	return d.connecting
}

func (d *BacklightSimulator) Status() hwobj.LightStatus {
	return d.status
}

func (d *BacklightSimulator) SetOn(on bool) error {
	if !d.connected {
		return hwobj.ErrNotConnected
	}
	d.logger.Infof("Backlight on: %v", on)
	d.status.On = on
	d.emitter.Emit(d.info.Name, "stateChanged", on)
	return nil
}

func (d *BacklightSimulator) SetLevel(level float64) error {
	if !d.connected {
		return hwobj.ErrNotConnected
	}
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}

	d.logger.Infof("Backlight level: %g", level)
	d.status.Level = level
	d.emitter.Emit(d.info.Name, "levelChanged", level)
	return nil
}
