package hwobj

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

// Phase is the beamline operation phase managed by the supervisor.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseSampleView
	PhaseCollect
	PhaseTransfer
)

func (p Phase) String() string {
	switch p {
	case PhaseSampleView:
		return "SampleView"
	case PhaseCollect:
		return "Collect"
	case PhaseTransfer:
		return "Transfer"
	}
	return "Unknown"
}

type SupervisorStatus struct {
	Phase Phase `json:"Phase"`
	Ready bool  `json:"Ready"`
}

func (ss SupervisorStatus) ToProperties() []StateProperty {
	return []StateProperty{
		{"Phase", ss.Phase.String()},
		{"Ready", ss.Ready},
	}
}

type Supervisor interface {
	Object

	Status() SupervisorStatus
	GoSampleView() error
	GoCollect() error
}

type SupervisorHandler struct {
	ObjectHandler
	dev Supervisor
}

func NewSupervisorHandler(dev Supervisor) *SupervisorHandler {
	return &SupervisorHandler{
		ObjectHandler: ObjectHandler{obj: dev},
		dev:           dev,
	}
}

func (vh *SupervisorHandler) RegisterRoutes(mux *http.ServeMux) {
	vh.ObjectHandler.RegisterRoutes(mux)

	mux.HandleFunc("GET /phase", vh.handleStatus)
	mux.HandleFunc("GET /ready", vh.handleStatus)

	mux.HandleFunc("PUT /gosampleview", vh.handleGoSampleView)
	mux.HandleFunc("PUT /gocollect", vh.handleGoCollect)
}

func (vh *SupervisorHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	property := r.URL.Path[1:]
	log.Debugf("Supervisor property: %s", property)

	status := vh.dev.Status()

	switch property {
	case "phase":
		handleResponse(w, status.Phase.String())
	case "ready":
		handleResponse(w, status.Ready)
	default:
		handleError(w, http.StatusNotFound, "Property not found")
	}
}

func (vh *SupervisorHandler) handleGoSampleView(w http.ResponseWriter, r *http.Request) {
	if err := vh.dev.GoSampleView(); err != nil {
		handleError(w, http.StatusInternalServerError, err.Error())
		return
	}

	handleResponse(w, nil)
}

func (vh *SupervisorHandler) handleGoCollect(w http.ResponseWriter, r *http.Request) {
	if err := vh.dev.GoCollect(); err != nil {
		handleError(w, http.StatusInternalServerError, err.Error())
		return
	}

	handleResponse(w, nil)
}
