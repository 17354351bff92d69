package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventsMultipleSubscribers(t *testing.T) {
	ev := newEvents()

	var a, b []CallState
	cancelA := ev.OnState(func(s CallState) { a = append(a, s) })
	ev.OnState(func(s CallState) { b = append(b, s) })

	ev.emitState(StateConnecting)
	ev.emitState(StateConnected)

	assert.Equal(t, []CallState{StateConnecting, StateConnected}, a)
	assert.Equal(t, []CallState{StateConnecting, StateConnected}, b)

	cancelA()
	ev.emitState(StateEnded)
	assert.Len(t, a, 2, "cancelled listener must not fire")
	assert.Len(t, b, 3)
}

func TestEventsCancelIsIdempotent(t *testing.T) {
	ev := newEvents()
	var n int
	cancel := ev.OnError(func(*CallError) { n++ })
	cancel()
	cancel()
	ev.emitError(&CallError{Kind: ErrorTimeout})
	assert.Zero(t, n)
}

func TestEventsNilPayloadsDelivered(t *testing.T) {
	ev := newEvents()

	var gotLocal, gotRemote bool
	ev.OnLocalStream(func(m *LocalMedia) { gotLocal = m == nil })
	ev.OnRemoteStream(func(r *RemoteStream) { gotRemote = r == nil })

	// nil marks teardown and must reach listeners like any other value.
	ev.emitLocal(nil)
	ev.emitRemote(nil)

	assert.True(t, gotLocal)
	assert.True(t, gotRemote)
}

func TestEventsListenerMayCancelDuringEmit(t *testing.T) {
	ev := newEvents()

	var cancel func()
	var fired int
	cancel = ev.OnMetric(func(CallMetrics) {
		fired++
		cancel() // re-entrancy: emit must not hold the lock here
	})

	ev.emitMetric(CallMetrics{})
	ev.emitMetric(CallMetrics{})
	assert.Equal(t, 1, fired)
}
