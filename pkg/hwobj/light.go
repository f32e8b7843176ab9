package hwobj

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

type LightStatus struct {
	On    bool    `json:"On"`
	Level float64 `json:"Level"`
}

func (ls LightStatus) ToProperties() []StateProperty {
	return []StateProperty{
		{"On", ls.On},
		{"Level", ls.Level},
	}
}

type Light interface {
	Object

	Status() LightStatus
	SetOn(bool) error
	SetLevel(float64) error
}

type LightHandler struct {
	ObjectHandler
	dev Light
}

func NewLightHandler(dev Light) *LightHandler {
	return &LightHandler{
		ObjectHandler: ObjectHandler{obj: dev},
		dev:           dev,
	}
}

func (lh *LightHandler) RegisterRoutes(mux *http.ServeMux) {
	lh.ObjectHandler.RegisterRoutes(mux)

	mux.HandleFunc("GET /on", lh.handleStatus)
	mux.HandleFunc("GET /level", lh.handleStatus)

	mux.HandleFunc("PUT /seton", lh.handleSetOn)
	mux.HandleFunc("PUT /setlevel", lh.handleSetLevel)
}

func (lh *LightHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	property := r.URL.Path[1:]
	log.Debugf("Light property: %s", property)

	status := lh.dev.Status()

	switch property {
	case "on":
		handleResponse(w, status.On)
	case "level":
		handleResponse(w, status.Level)
	default:
		handleError(w, http.StatusNotFound, "Property not found")
	}
}

func (lh *LightHandler) handleSetOn(w http.ResponseWriter, r *http.Request) {
	on, err := parseBoolRequest(r, "On")
	if err != nil {
		handleError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := lh.dev.SetOn(on); err != nil {
		handleError(w, http.StatusInternalServerError, err.Error())
		return
	}

	handleResponse(w, nil)
}

func (lh *LightHandler) handleSetLevel(w http.ResponseWriter, r *http.Request) {
	level, err := parseFloatRequest(r, "Level")
	if err != nil {
		handleError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := lh.dev.SetLevel(level); err != nil {
		handleError(w, http.StatusInternalServerError, err.Error())
		return
	}

	handleResponse(w, nil)
}
