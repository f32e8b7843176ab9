package hwobj

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

type ChangerState int

const (
	ChangerIdle ChangerState = iota
	ChangerLoading
	ChangerUnloading
	ChangerFault
)

func (s ChangerState) String() string {
	switch s {
	case ChangerIdle:
		return "Idle"
	case ChangerLoading:
		return "Loading"
	case ChangerUnloading:
		return "Unloading"
	case ChangerFault:
		return "Fault"
	}
	return "Unknown"
}

// SampleAddress identifies a sample slot inside the changer dewar.
type SampleAddress struct {
	Lid    int `json:"Lid"`
	Sample int `json:"Sample"`
}

type ChangerStatus struct {
	State        ChangerState  `json:"State"`
	PathRunning  bool          `json:"PathRunning"`
	LoadedSample SampleAddress `json:"LoadedSample"`
	SampleOnDiff bool          `json:"SampleOnDiff"`
}

func (cs ChangerStatus) ToProperties() []StateProperty {
	return []StateProperty{
		{"State", cs.State.String()},
		{"PathRunning", cs.PathRunning},
		{"LoadedLid", cs.LoadedSample.Lid},
		{"LoadedSample", cs.LoadedSample.Sample},
		{"SampleOnDiff", cs.SampleOnDiff},
	}
}

type SampleChanger interface {
	Object

	Status() ChangerStatus
	Load(SampleAddress) error
	Unload() error
	Abort() error
}

type SampleChangerHandler struct {
	ObjectHandler
	dev SampleChanger
}

func NewSampleChangerHandler(dev SampleChanger) *SampleChangerHandler {
	return &SampleChangerHandler{
		ObjectHandler: ObjectHandler{obj: dev},
		dev:           dev,
	}
}

func (sh *SampleChangerHandler) RegisterRoutes(mux *http.ServeMux) {
	sh.ObjectHandler.RegisterRoutes(mux)

	mux.HandleFunc("GET /state", sh.handleStatus)
	mux.HandleFunc("GET /pathrunning", sh.handleStatus)
	mux.HandleFunc("GET /loadedsample", sh.handleStatus)
	mux.HandleFunc("GET /sampleondiff", sh.handleStatus)

	mux.HandleFunc("PUT /load", sh.handleLoad)
	mux.HandleFunc("PUT /unload", sh.handleUnload)
	mux.HandleFunc("PUT /abort", sh.handleAbort)
}

func (sh *SampleChangerHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	property := r.URL.Path[1:]
	log.Debugf("SampleChanger property: %s", property)

	status := sh.dev.Status()

	switch property {
	case "state":
		handleResponse(w, status.State.String())
	case "pathrunning":
		handleResponse(w, status.PathRunning)
	case "loadedsample":
		handleResponse(w, status.LoadedSample)
	case "sampleondiff":
		handleResponse(w, status.SampleOnDiff)
	default:
		handleError(w, http.StatusNotFound, "Property not found")
	}
}

func (sh *SampleChangerHandler) handleLoad(w http.ResponseWriter, r *http.Request) {
	lid, err := parseIntRequest(r, "Lid")
	if err != nil {
		handleError(w, http.StatusBadRequest, err.Error())
		return
	}
	sample, err := parseIntRequest(r, "Sample")
	if err != nil {
		handleError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := sh.dev.Load(SampleAddress{Lid: lid, Sample: sample}); err != nil {
		handleError(w, http.StatusInternalServerError, err.Error())
		return
	}

	handleResponse(w, nil)
}

func (sh *SampleChangerHandler) handleUnload(w http.ResponseWriter, r *http.Request) {
	if err := sh.dev.Unload(); err != nil {
		handleError(w, http.StatusInternalServerError, err.Error())
		return
	}

	handleResponse(w, nil)
}

func (sh *SampleChangerHandler) handleAbort(w http.ResponseWriter, r *http.Request) {
	if err := sh.dev.Abort(); err != nil {
		handleError(w, http.StatusInternalServerError, err.Error())
		return
	}

	handleResponse(w, nil)
}
