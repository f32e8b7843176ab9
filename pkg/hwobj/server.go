package hwobj

import (
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

type ServerDescription struct {
	Name     string `json:"ServerName"`
	Facility string `json:"Facility"`
	Version  string `json:"Version"`
	Beamline string `json:"Beamline"`
}

// Server is the management server that mounts the API of every configured
// hardware object and serves the setup pages.
type Server struct {
	description ServerDescription
	objects     []Object
	emitter     *Emitter

	db   *Store
	tmpl *template.Template
}

func NewServer(description ServerDescription, objects []Object, emitter *Emitter, db *Store, tmpl *template.Template) *Server {
	server := Server{
		description: description,
		objects:     objects,
		emitter:     emitter,
		db:          db,
		tmpl:        tmpl,
	}

	return &server
}

type ObjectHTTPHandler interface {
	RegisterRoutes(mux *http.ServeMux)
}

// SetupHandler is implemented by objects that render their own setup form.
type SetupHandler interface {
	HandleSetup(w http.ResponseWriter, r *http.Request)
}

func (s *Server) AddRoutes() *http.ServeMux {
	r := http.NewServeMux()

	// Add management routes
	r.Handle("GET /management/apiversions", handleMgm(s.handleAPIVersions))
	r.Handle("GET /management/v1/description", handleMgm(s.handleDescription))
	r.Handle("GET /management/v1/configuredobjects", handleMgm(s.handleConfiguredObjects))
	r.HandleFunc("/setup", s.handleSetup)

	// Signal stream for UI clients
	r.Handle("GET /api/v1/signals", NewSignalStream(s.emitter, log.WithField("component", "signals")))

	// Create handlers for each hardware object
	for _, obj := range s.objects {
		mux := http.NewServeMux()
		var handler ObjectHTTPHandler

		switch d := obj.(type) {
		case Motor:
			handler = NewMotorHandler(d)
		case Light:
			handler = NewLightHandler(d)
		case SampleChanger:
			handler = NewSampleChangerHandler(d)
		case Supervisor:
			handler = NewSupervisorHandler(d)
		case FluxMeter:
			handler = NewFluxMeterHandler(d)
		default:
			log.Errorf("Unknown object type: %T", obj)
			handler = &ObjectHandler{obj: obj}
		}
		handler.RegisterRoutes(mux)

		if sh, ok := obj.(SetupHandler); ok {
			mux.HandleFunc("/setup", sh.HandleSetup)
		}

		objType := strings.ToLower(obj.ObjectInfo().Type.String())
		objNumber := obj.ObjectInfo().Number

		apiPrefix := fmt.Sprintf("/api/v1/%s/%d", objType, objNumber)
		r.Handle(apiPrefix+"/", http.StripPrefix(apiPrefix, mux))

		setupPrefix := fmt.Sprintf("/setup/v1/%s/%d", objType, objNumber)
		r.Handle(setupPrefix+"/", http.StripPrefix(setupPrefix, mux))
	}

	return r
}

func (s *Server) handleAPIVersions(r *http.Request) (any, error) {
	return []int{1}, nil
}

func (s *Server) handleDescription(r *http.Request) (any, error) {
	return s.description, nil
}

func (s *Server) handleConfiguredObjects(r *http.Request) (any, error) {
	objectInfo := make([]ObjectInfo, 0, len(s.objects))
	for _, obj := range s.objects {
		objectInfo = append(objectInfo, obj.ObjectInfo())
	}

	return objectInfo, nil
}

// handleSetup serves the server-level setup form (broker defaults).
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.db.GetConfig()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.renderSetupForm(w, cfg, false, "")

	case http.MethodPost:
		cfg, err := parseSetupForm(r)
		if err != nil {
			s.renderSetupForm(w, cfg, false, err.Error())
			return
		}

		log.Infof("Setting config: %+v", cfg)
		if err := s.db.SetConfig(cfg); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.renderSetupForm(w, cfg, true, "")

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) renderSetupForm(w http.ResponseWriter, cfg Config, success bool, err string) {
	data := struct {
		Config
		Success bool
		Error   string
	}{cfg, success, err}

	if err := s.tmpl.ExecuteTemplate(w, "setup.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseSetupForm(r *http.Request) (Config, error) {
	if err := r.ParseForm(); err != nil {
		return Config{}, fmt.Errorf("error parsing form: %v", err)
	}

	cfg := Config{
		Beamline: r.FormValue("beamline"),
		Host:     r.FormValue("broker-host"),
		Username: r.FormValue("broker-username"),
		Password: r.FormValue("broker-password"),
	}

	port, err := strconv.Atoi(r.FormValue("broker-port"))
	if err != nil {
		return cfg, fmt.Errorf("invalid broker port: %v", err)
	}
	cfg.Port = port

	return cfg, nil
}
