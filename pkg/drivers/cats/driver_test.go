package cats

import (
	"io"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"beamhub/pkg/hwobj"
)

func testLogger() log.FieldLogger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestParseState(t *testing.T) {
	tests := []struct {
		input       string
		expected    hwobj.ChangerState
		expectError bool
	}{
		{"IDLE", hwobj.ChangerIdle, false},
		{"LOADING", hwobj.ChangerLoading, false},
		{"UNLOADING", hwobj.ChangerUnloading, false},
		{"FAULT", hwobj.ChangerFault, false},
		{"ERROR", hwobj.ChangerFault, false},
		{"idle", 0, true},
		{"", 0, true},
		{"BANANA", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			state, err := parseState(tc.input)
			if tc.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.expected, state)
			}
		})
	}
}

type fakeGuard struct {
	allowed bool
}

func (g fakeGuard) TransferAllowed() bool { return g.allowed }

func TestCheckLoadAllowed(t *testing.T) {
	d := &Driver{
		config: Config{Lids: 3, SamplesPerLid: 16},
		logger: testLogger(),
	}

	// Valid address, no guard
	assert.NoError(t, d.checkLoadAllowed(hwobj.SampleAddress{Lid: 1, Sample: 5}))

	// Out of range addresses
	assert.Error(t, d.checkLoadAllowed(hwobj.SampleAddress{Lid: 0, Sample: 5}))
	assert.Error(t, d.checkLoadAllowed(hwobj.SampleAddress{Lid: 4, Sample: 5}))
	assert.Error(t, d.checkLoadAllowed(hwobj.SampleAddress{Lid: 1, Sample: 17}))

	// Path running refuses a load
	d.status.PathRunning = true
	assert.Error(t, d.checkLoadAllowed(hwobj.SampleAddress{Lid: 1, Sample: 5}))
	d.status.PathRunning = false

	// Guard refuses a load
	d.SetGuard(fakeGuard{allowed: false})
	assert.Error(t, d.checkLoadAllowed(hwobj.SampleAddress{Lid: 1, Sample: 5}))

	d.SetGuard(fakeGuard{allowed: true})
	assert.NoError(t, d.checkLoadAllowed(hwobj.SampleAddress{Lid: 1, Sample: 5}))
}

func TestStateHandler(t *testing.T) {
	emitter := hwobj.NewEmitter(4)
	sub := emitter.Subscribe()
	defer sub.Unsubscribe()

	d := &Driver{emitter: emitter, logger: testLogger()}

	d.stateHandler([]byte(`{"state": "LOADING", "path": 1}`))

	status := d.Status()
	assert.Equal(t, hwobj.ChangerLoading, status.State)
	assert.True(t, status.PathRunning)

	var names []string
	for len(sub.Channel()) > 0 {
		names = append(names, (<-sub.Channel()).Name)
	}
	assert.ElementsMatch(t, []string{"stateChanged", "pathRunningChanged"}, names)

	// Unknown state string degrades to fault
	d.stateHandler([]byte(`{"state": "GARBAGE", "path": 1}`))
	assert.Equal(t, hwobj.ChangerFault, d.Status().State)
}
