package hwobj

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

type MotorStatus struct {
	Position float64 `json:"Position"`
	Moving   bool    `json:"Moving"`
	AtLimit  bool    `json:"AtLimit"`
}

func (ms MotorStatus) ToProperties() []StateProperty {
	return []StateProperty{
		{"Position", ms.Position},
		{"Moving", ms.Moving},
		{"AtLimit", ms.AtLimit},
	}
}

type MotorLimits struct {
	Min float64 `json:"Min"`
	Max float64 `json:"Max"`
}

// PredefinedPosition is a named target the motor can be sent to directly,
// e.g. a zoom level.
type PredefinedPosition struct {
	Name  string  `json:"Name"`
	Value float64 `json:"Value"`
}

type Motor interface {
	Object

	Status() MotorStatus
	Limits() MotorLimits
	PredefinedPositions() []PredefinedPosition

	MoveTo(float64) error
	MoveToPosition(name string) error
	Stop() error
}

type MotorHandler struct {
	ObjectHandler
	dev Motor
}

func NewMotorHandler(dev Motor) *MotorHandler {
	return &MotorHandler{
		ObjectHandler: ObjectHandler{obj: dev},
		dev:           dev,
	}
}

func (mh *MotorHandler) RegisterRoutes(mux *http.ServeMux) {
	mh.ObjectHandler.RegisterRoutes(mux)

	mux.HandleFunc("GET /position", mh.handleStatus)
	mux.HandleFunc("GET /moving", mh.handleStatus)
	mux.HandleFunc("GET /atlimit", mh.handleStatus)
	mux.HandleFunc("GET /limits", mh.handleLimits)
	mux.HandleFunc("GET /positions", mh.handlePositions)

	mux.HandleFunc("PUT /moveto", mh.handleMoveTo)
	mux.HandleFunc("PUT /movetoposition", mh.handleMoveToPosition)
	mux.HandleFunc("PUT /stop", mh.handleStop)
}

func (mh *MotorHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	property := r.URL.Path[1:]
	log.Debugf("Motor property: %s", property)

	status := mh.dev.Status()

	switch property {
	case "position":
		handleResponse(w, status.Position)
	case "moving":
		handleResponse(w, status.Moving)
	case "atlimit":
		handleResponse(w, status.AtLimit)
	default:
		handleError(w, http.StatusNotFound, "Property not found")
	}
}

func (mh *MotorHandler) handleLimits(w http.ResponseWriter, r *http.Request) {
	handleResponse(w, mh.dev.Limits())
}

func (mh *MotorHandler) handlePositions(w http.ResponseWriter, r *http.Request) {
	handleResponse(w, mh.dev.PredefinedPositions())
}

func (mh *MotorHandler) handleMoveTo(w http.ResponseWriter, r *http.Request) {
	position, err := parseFloatRequest(r, "Position")
	if err != nil {
		handleError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := mh.dev.MoveTo(position); err != nil {
		handleError(w, http.StatusInternalServerError, err.Error())
		return
	}

	handleResponse(w, nil)
}

func (mh *MotorHandler) handleMoveToPosition(w http.ResponseWriter, r *http.Request) {
	name, err := parseRequest(r, "Name")
	if err != nil {
		handleError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := mh.dev.MoveToPosition(name); err != nil {
		handleError(w, http.StatusInternalServerError, err.Error())
		return
	}

	handleResponse(w, nil)
}

func (mh *MotorHandler) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := mh.dev.Stop(); err != nil {
		handleError(w, http.StatusInternalServerError, err.Error())
		return
	}

	handleResponse(w, nil)
}
