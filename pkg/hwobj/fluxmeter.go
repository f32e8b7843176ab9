package hwobj

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

type FluxReading struct {
	Current      float64   `json:"Current"`      // detector current in A
	Flux         float64   `json:"Flux"`         // photons per second
	Transmission float64   `json:"Transmission"` // percent
	MeasuredAt   time.Time `json:"MeasuredAt"`
}

func (fr FluxReading) ToProperties() []StateProperty {
	return []StateProperty{
		{"Current", fr.Current},
		{"Flux", fr.Flux},
		{"Transmission", fr.Transmission},
		{"MeasuredAt", fr.MeasuredAt.Format(time.RFC3339)},
	}
}

type FluxMeter interface {
	Object

	LastReading() FluxReading
	Measure() (FluxReading, error)
	SetTransmission(float64) error
}

type FluxMeterHandler struct {
	ObjectHandler
	dev FluxMeter
}

func NewFluxMeterHandler(dev FluxMeter) *FluxMeterHandler {
	return &FluxMeterHandler{
		ObjectHandler: ObjectHandler{obj: dev},
		dev:           dev,
	}
}

func (fh *FluxMeterHandler) RegisterRoutes(mux *http.ServeMux) {
	fh.ObjectHandler.RegisterRoutes(mux)

	mux.HandleFunc("GET /flux", fh.handleReading)
	mux.HandleFunc("GET /current", fh.handleReading)
	mux.HandleFunc("GET /transmission", fh.handleReading)

	mux.HandleFunc("PUT /measure", fh.handleMeasure)
	mux.HandleFunc("PUT /settransmission", fh.handleSetTransmission)
}

func (fh *FluxMeterHandler) handleReading(w http.ResponseWriter, r *http.Request) {
	property := r.URL.Path[1:]
	log.Debugf("FluxMeter property: %s", property)

	reading := fh.dev.LastReading()

	switch property {
	case "flux":
		handleResponse(w, reading.Flux)
	case "current":
		handleResponse(w, reading.Current)
	case "transmission":
		handleResponse(w, reading.Transmission)
	default:
		handleError(w, http.StatusNotFound, "Property not found")
	}
}

func (fh *FluxMeterHandler) handleMeasure(w http.ResponseWriter, r *http.Request) {
	reading, err := fh.dev.Measure()
	if err != nil {
		handleError(w, http.StatusInternalServerError, err.Error())
		return
	}

	handleResponse(w, reading)
}

func (fh *FluxMeterHandler) handleSetTransmission(w http.ResponseWriter, r *http.Request) {
	transmission, err := parseFloatRequest(r, "Transmission")
	if err != nil {
		handleError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := fh.dev.SetTransmission(transmission); err != nil {
		handleError(w, http.StatusInternalServerError, err.Error())
		return
	}

	handleResponse(w, nil)
}
