package hwobj

import "net/http"

// ObjectHandler serves the routes common to every hardware object.
type ObjectHandler struct {
	obj Object
}

func NewObjectHandler(obj Object) *ObjectHandler {
	return &ObjectHandler{obj: obj}
}

func (h *ObjectHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /name", h.handleName)
	mux.HandleFunc("GET /description", h.handleDescription)
	mux.HandleFunc("GET /driverinfo", h.handleDriverInfo)
	mux.HandleFunc("GET /driverversion", h.handleDriverVersion)
	mux.HandleFunc("GET /interfaceversion", h.handleInterfaceVersion)
	mux.HandleFunc("GET /objectstate", h.handleState)

	mux.HandleFunc("GET /connected", h.handleConnected)
	mux.HandleFunc("GET /connecting", h.handleConnecting)
	mux.HandleFunc("PUT /connect", h.handleConnect)
	mux.HandleFunc("PUT /disconnect", h.handleDisconnect)
}

func (h *ObjectHandler) handleName(w http.ResponseWriter, r *http.Request) {
	handleResponse(w, h.obj.ObjectInfo().Name)
}

func (h *ObjectHandler) handleDescription(w http.ResponseWriter, r *http.Request) {
	handleResponse(w, h.obj.ObjectInfo().Description)
}

func (h *ObjectHandler) handleDriverInfo(w http.ResponseWriter, r *http.Request) {
	handleResponse(w, h.obj.DriverInfo())
}

func (h *ObjectHandler) handleDriverVersion(w http.ResponseWriter, r *http.Request) {
	handleResponse(w, h.obj.DriverInfo().Version)
}

func (h *ObjectHandler) handleInterfaceVersion(w http.ResponseWriter, r *http.Request) {
	handleResponse(w, h.obj.DriverInfo().InterfaceVersion)
}

func (h *ObjectHandler) handleState(w http.ResponseWriter, r *http.Request) {
	handleResponse(w, h.obj.GetState())
}

func (h *ObjectHandler) handleConnected(w http.ResponseWriter, r *http.Request) {
	handleResponse(w, h.obj.Connected())
}

func (h *ObjectHandler) handleConnecting(w http.ResponseWriter, r *http.Request) {
	handleResponse(w, h.obj.Connecting())
}

func (h *ObjectHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := h.obj.Connect(); err != nil {
		handleError(w, http.StatusInternalServerError, err.Error())
		return
	}
	handleResponse(w, true)
}

func (h *ObjectHandler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.obj.Disconnect(); err != nil {
		handleError(w, http.StatusInternalServerError, err.Error())
		return
	}
	handleResponse(w, true)
}
