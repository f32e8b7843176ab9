package hwobj

// ObjectType identifies the kind of hardware object an adapter exposes.
type ObjectType string

const (
	TypeMotor         ObjectType = "Motor"
	TypeLight         ObjectType = "Light"
	TypeSampleChanger ObjectType = "SampleChanger"
	TypeSupervisor    ObjectType = "Supervisor"
	TypeFluxMeter     ObjectType = "FluxMeter"
)

func (t ObjectType) String() string {
	return string(t)
}

type ObjectInfo struct {
	Name        string     `json:"ObjectName"`
	Description string     `json:"-"`
	Type        ObjectType `json:"ObjectType"`
	Number      int        `json:"ObjectNumber"`
	UniqueID    string     `json:"UniqueID"`
}

type DriverInfo struct {
	Name             string
	Version          string
	InterfaceVersion int
}

type StateProperty struct {
	Name  string
	Value interface{}
}

// Object is the uniform interface every hardware object implements:
// identification, lifecycle and a snapshot of its state properties.
type Object interface {
	ObjectInfo() ObjectInfo
	DriverInfo() DriverInfo
	GetState() []StateProperty

	Connected() bool
	Connecting() bool
	Connect() error
	Disconnect() error
}
