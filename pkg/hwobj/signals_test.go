package hwobj

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterDelivers(t *testing.T) {
	em := NewEmitter(4)

	sub := em.Subscribe()
	defer sub.Unsubscribe()

	em.Emit("zoom-1", "positionChanged", 3.5)

	select {
	case sig := <-sub.Channel():
		assert.Equal(t, "zoom-1", sig.Object)
		assert.Equal(t, "positionChanged", sig.Name)
		assert.Equal(t, 3.5, sig.Value)
		assert.WithinDuration(t, time.Now(), sig.Time, time.Second)
	case <-time.After(time.Second):
		t.Fatal("no signal received")
	}
}

func TestEmitterFanOut(t *testing.T) {
	em := NewEmitter(4)

	first := em.Subscribe()
	second := em.Subscribe()
	defer first.Unsubscribe()
	defer second.Unsubscribe()

	em.Emit("backlight-1", "stateChanged", true)

	require.Len(t, first.Channel(), 1)
	require.Len(t, second.Channel(), 1)
}

func TestEmitterDropsWhenFull(t *testing.T) {
	em := NewEmitter(2)

	sub := em.Subscribe()
	defer sub.Unsubscribe()

	for i := 0; i < 5; i++ {
		em.Emit("zoom-1", "positionChanged", i)
	}

	// Queue length caps delivery, the rest were dropped
	assert.Len(t, sub.Channel(), 2)

	sig := <-sub.Channel()
	assert.Equal(t, 0, sig.Value)
}

func TestEmitterUnsubscribe(t *testing.T) {
	em := NewEmitter(2)

	sub := em.Subscribe()
	sub.Unsubscribe()

	em.Emit("zoom-1", "positionChanged", 1.0)
	assert.Empty(t, sub.Channel())
}
