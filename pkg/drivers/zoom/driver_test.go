package zoom

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beamhub/pkg/hwobj"
)

func TestCheckLimits(t *testing.T) {
	cfg := Config{MinPosition: 0, MaxPosition: 12}

	assert.NoError(t, checkLimits(0, cfg))
	assert.NoError(t, checkLimits(6.5, cfg))
	assert.NoError(t, checkLimits(12, cfg))
	assert.Error(t, checkLimits(-0.1, cfg))
	assert.Error(t, checkLimits(12.5, cfg))
}

func TestLookupPosition(t *testing.T) {
	positions := []hwobj.PredefinedPosition{
		{Name: "Zoom 1", Value: 0},
		{Name: "Zoom 2", Value: 2},
	}

	value, err := lookupPosition("Zoom 2", positions)
	assert.NoError(t, err)
	assert.Equal(t, 2.0, value)

	_, err = lookupPosition("Zoom 9", positions)
	assert.Error(t, err)
}

func TestPositionHandler(t *testing.T) {
	emitter := hwobj.NewEmitter(4)
	sub := emitter.Subscribe()
	defer sub.Unsubscribe()

	d := &Driver{emitter: emitter, logger: testLogger()}

	d.positionHandler([]byte(`{"pos": 3.5, "moving": 1, "lim": 0}`))

	status := d.Status()
	assert.Equal(t, 3.5, status.Position)
	assert.True(t, status.Moving)
	assert.False(t, status.AtLimit)

	select {
	case sig := <-sub.Channel():
		assert.Equal(t, "positionChanged", sig.Name)
		assert.Equal(t, 3.5, sig.Value)
	default:
		t.Fatal("expected positionChanged signal")
	}

	// Same position again must not emit a second signal
	d.positionHandler([]byte(`{"pos": 3.5, "moving": 0, "lim": 0}`))
	select {
	case sig := <-sub.Channel():
		t.Fatalf("unexpected signal: %+v", sig)
	default:
	}
}

// Run with -race: the HTTP handlers poll the connection state while the
// driver connects and disconnects.
func TestConnectionStateConcurrency(t *testing.T) {
	d := &Driver{logger: testLogger()}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.setConnectionState(connStateConnecting)
				d.setConnectionState(connStateConnected)
				d.setConnectionState(connStateDisconnected)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.Connecting()
				d.Connected()
				d.GetState()
				d.Limits()
			}
		}()
	}
	wg.Wait()
}

func TestParseSetupForm(t *testing.T) {
	form := url.Values{
		"mqtt-broker":     {"tcp://broker.lab:1883"},
		"mqtt-username":   {"beam"},
		"mqtt-password":   {"secret"},
		"mqtt-topic-root": {"beamline/zoom2"},
		"min-position":    {"1"},
		"max-position":    {"10"},
	}
	r := httptest.NewRequest(http.MethodPost, "/setup", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	base := defaultConfig
	base.ClientID = "beamhub-zoom-b"
	base.Positions = []hwobj.PredefinedPosition{{Name: "Zoom 1", Value: 1}}

	cfg, err := parseSetupForm(r, base)
	require.NoError(t, err)

	assert.Equal(t, "tcp://broker.lab:1883", cfg.Broker)
	assert.Equal(t, "beam", cfg.Username)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, "beamline/zoom2", cfg.TopicRoot)
	assert.Equal(t, 1.0, cfg.MinPosition)
	assert.Equal(t, 10.0, cfg.MaxPosition)

	// Fields the form does not expose keep their stored values
	assert.Equal(t, "beamhub-zoom-b", cfg.ClientID)
	assert.Equal(t, base.Positions, cfg.Positions)
}
