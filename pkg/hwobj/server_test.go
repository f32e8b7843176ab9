package hwobj

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

// fakeMotor implements Motor in memory for handler tests.
type fakeMotor struct {
	connected bool
	status    MotorStatus
	limits    MotorLimits
	moved     []float64
	stopped   bool
}

func (m *fakeMotor) ObjectInfo() ObjectInfo {
	return ObjectInfo{
		Name:        "Test Zoom",
		Description: "In-memory zoom motor",
		Type:        TypeMotor,
		Number:      0,
		UniqueID:    "d79a1c22-0000-0000-0000-000000000000",
	}
}

func (m *fakeMotor) DriverInfo() DriverInfo {
	return DriverInfo{Name: "fake", Version: "1.0", InterfaceVersion: 1}
}

func (m *fakeMotor) GetState() []StateProperty {
	return m.status.ToProperties()
}

func (m *fakeMotor) Connected() bool     { return m.connected }
func (m *fakeMotor) Connecting() bool    { return false }
func (m *fakeMotor) Connect() error      { m.connected = true; return nil }
func (m *fakeMotor) Disconnect() error   { m.connected = false; return nil }
func (m *fakeMotor) Status() MotorStatus { return m.status }
func (m *fakeMotor) Limits() MotorLimits { return m.limits }

func (m *fakeMotor) PredefinedPositions() []PredefinedPosition {
	return []PredefinedPosition{{Name: "Zoom 1", Value: 1}}
}

func (m *fakeMotor) MoveTo(position float64) error {
	if !m.connected {
		return ErrNotConnected
	}
	m.moved = append(m.moved, position)
	return nil
}

func (m *fakeMotor) MoveToPosition(name string) error {
	if name != "Zoom 1" {
		return fmt.Errorf("unknown position: %s", name)
	}
	return m.MoveTo(1)
}

func (m *fakeMotor) Stop() error { m.stopped = true; return nil }

func newTestServer(t *testing.T, objects ...Object) (*httptest.Server, *Server) {
	t.Helper()

	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)

	tmpl := template.Must(template.New("setup.html").Parse("{{.Host}}:{{.Port}}"))

	s := NewServer(ServerDescription{
		Name:     "beamhub",
		Facility: "ALBA",
		Version:  "1.0",
		Beamline: "bl13",
	}, objects, NewEmitter(8), store, tmpl)

	srv := httptest.NewServer(s.AddRoutes())
	t.Cleanup(srv.Close)

	return srv, s
}

func getEnvelope(t *testing.T, url string) baseResponse {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope baseResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope
}

func putForm(t *testing.T, url, body string) baseResponse {
	t.Helper()

	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope baseResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope
}

func TestManagementRoutes(t *testing.T) {
	motor := &fakeMotor{}
	srv, _ := newTestServer(t, motor)

	versions := getEnvelope(t, srv.URL+"/management/apiversions")
	assert.Zero(t, versions.ErrorNumber)
	assert.Equal(t, []any{float64(1)}, versions.Value)
	assert.NotZero(t, versions.ServerTransactionID)

	description := getEnvelope(t, srv.URL+"/management/v1/description")
	desc, ok := description.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "beamhub", desc["ServerName"])
	assert.Equal(t, "bl13", desc["Beamline"])

	configured := getEnvelope(t, srv.URL+"/management/v1/configuredobjects")
	objects, ok := configured.Value.([]any)
	require.True(t, ok)
	require.Len(t, objects, 1)

	info := objects[0].(map[string]any)
	assert.Equal(t, "Test Zoom", info["ObjectName"])
	assert.Equal(t, "Motor", info["ObjectType"])
}

func TestTransactionCounterIncrements(t *testing.T) {
	srv, _ := newTestServer(t, &fakeMotor{})

	first := getEnvelope(t, srv.URL+"/management/apiversions")
	second := getEnvelope(t, srv.URL+"/management/apiversions")
	assert.Greater(t, second.ServerTransactionID, first.ServerTransactionID)
}

func TestMotorRoutes(t *testing.T) {
	motor := &fakeMotor{
		connected: true,
		status:    MotorStatus{Position: 2.5, Moving: true},
		limits:    MotorLimits{Min: 0, Max: 12},
	}
	srv, _ := newTestServer(t, motor)
	base := srv.URL + "/api/v1/motor/0"

	assert.Equal(t, "Test Zoom", getEnvelope(t, base+"/name").Value)
	assert.Equal(t, 2.5, getEnvelope(t, base+"/position").Value)
	assert.Equal(t, true, getEnvelope(t, base+"/moving").Value)
	assert.Equal(t, true, getEnvelope(t, base+"/connected").Value)

	limits := getEnvelope(t, base+"/limits").Value.(map[string]any)
	assert.Equal(t, float64(12), limits["Max"])

	envelope := putForm(t, base+"/moveto", "Position=7.5")
	assert.Zero(t, envelope.ErrorNumber)
	assert.Equal(t, []float64{7.5}, motor.moved)

	envelope = putForm(t, base+"/movetoposition", "Name=Zoom 1")
	assert.Zero(t, envelope.ErrorNumber)
	assert.Equal(t, []float64{7.5, 1}, motor.moved)

	envelope = putForm(t, base+"/stop", "")
	assert.Zero(t, envelope.ErrorNumber)
	assert.True(t, motor.stopped)
}

func TestMotorRouteErrors(t *testing.T) {
	motor := &fakeMotor{}
	srv, _ := newTestServer(t, motor)
	base := srv.URL + "/api/v1/motor/0"

	// Missing field
	envelope := putForm(t, base+"/moveto", "Nonsense=1")
	assert.Equal(t, http.StatusBadRequest, envelope.ErrorNumber)
	assert.Contains(t, envelope.ErrorMessage, "Position")

	// Motor not connected
	envelope = putForm(t, base+"/moveto", "Position=1")
	assert.Equal(t, http.StatusInternalServerError, envelope.ErrorNumber)
	assert.Empty(t, motor.moved)

	// Unknown predefined position
	motor.connected = true
	envelope = putForm(t, base+"/movetoposition", "Name=Zoom 99")
	assert.Equal(t, http.StatusInternalServerError, envelope.ErrorNumber)
}

func TestObjectStateRoute(t *testing.T) {
	motor := &fakeMotor{status: MotorStatus{Position: 4, AtLimit: true}}
	srv, _ := newTestServer(t, motor)

	envelope := getEnvelope(t, srv.URL+"/api/v1/motor/0/objectstate")
	props, ok := envelope.Value.([]any)
	require.True(t, ok)
	require.Len(t, props, 3)

	first := props[0].(map[string]any)
	assert.Equal(t, "Position", first["Name"])
	assert.Equal(t, float64(4), first["Value"])
}

func TestConnectLifecycle(t *testing.T) {
	motor := &fakeMotor{}
	srv, _ := newTestServer(t, motor)
	base := srv.URL + "/api/v1/motor/0"

	envelope := putForm(t, base+"/connect", "")
	assert.Zero(t, envelope.ErrorNumber)
	assert.True(t, motor.connected)

	envelope = putForm(t, base+"/disconnect", "")
	assert.Zero(t, envelope.ErrorNumber)
	assert.False(t, motor.connected)
}
