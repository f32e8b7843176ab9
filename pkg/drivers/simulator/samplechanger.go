package simulator

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"beamhub/pkg/hwobj"
)

const changerUID = "a03f5e92-1d68-4c7b-bf29-4e8d1a60c5d7"

// ChangerSimulator implements the hwobj.SampleChanger interface.
type ChangerSimulator struct {
	logger  log.FieldLogger
	emitter *hwobj.Emitter

	info   hwobj.ObjectInfo
	driver hwobj.DriverInfo
	status hwobj.ChangerStatus

	connected  bool
	connecting bool
}

func NewChangerSimulator(number int, emitter *hwobj.Emitter, logger log.FieldLogger) *ChangerSimulator {
	return &ChangerSimulator{
		logger:  logger,
		emitter: emitter,

		info: hwobj.ObjectInfo{
			Name:        "Sample Changer Simulator",
			Description: "Simulated robotic sample changer",
			Type:        hwobj.TypeSampleChanger,
			Number:      number,
			UniqueID:    changerUID,
		},
		driver: hwobj.DriverInfo{
			Name:             "Sample Changer Simulator Driver",
			Version:          "1.0",
			InterfaceVersion: 1,
		},
	}
}

func (d *ChangerSimulator) Close() error {
	d.logger.Info("Closing sample changer simulator")
	return nil
}

func (d *ChangerSimulator) ObjectInfo() hwobj.ObjectInfo {
	return d.info
}

func (d *ChangerSimulator) DriverInfo() hwobj.DriverInfo {
	return d.driver
}

func (d *ChangerSimulator) GetState() []hwobj.StateProperty {
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

func (d *ChangerSimulator) Connect() error {
	if d.connected {
		return nil
	}
	d.connected = true
	d.logger.Infof("%s connected", d.info.Name)
	return nil
}

func (d *ChangerSimulator) Disconnect() error {
	if !d.connected {
		return nil
	}
	d.connected = false
	d.logger.Infof("%s disconnected", d.info.Name)
	return nil
}

func (d *ChangerSimulator) Connected() bool {
	return d.connected
}

func (d *ChangerSimulator) Connecting() bool {
	return d.connecting
}

func (d *ChangerSimulator) Status() hwobj.ChangerStatus {
	return d.status
}

func (d *ChangerSimulator) Load(address hwobj.SampleAddress) error {
	if !d.connected {
		return hwobj.ErrNotConnected
	}
	if d.status.PathRunning {
		return fmt.Errorf("a changer path is already running")
	}

	d.logger.Infof("Loading sample %d:%d", address.Lid, address.Sample)
	d.status.State = hwobj.ChangerIdle
	d.status.LoadedSample = address
	d.status.SampleOnDiff = true
	d.emitter.Emit(d.info.Name, "loadedSampleChanged", address)
	return nil
}

func (d *ChangerSimulator) Unload() error {
	if !d.connected {
		return hwobj.ErrNotConnected
	}
	if !d.status.SampleOnDiff {
		return fmt.Errorf("no sample mounted")
	}

	d.logger.Info("Unloading sample")
	d.status.LoadedSample = hwobj.SampleAddress{}
	d.status.SampleOnDiff = false
	d.emitter.Emit(d.info.Name, "loadedSampleChanged", d.status.LoadedSample)
	return nil
}

func (d *ChangerSimulator) Abort() error {
	if !d.connected {
		return hwobj.ErrNotConnected
	}

	d.logger.Info("Aborting changer path")
	d.status.PathRunning = false
	return nil
}
