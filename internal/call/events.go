package call

import "sync"

// Events is the session's outward event surface: typed listener sets with an
// explicit cancel func returned from every subscribe call, so no listener can
// leak past its consumer. Multiple subscribers per event are supported; the
// UI and call-quality telemetry subscribe independently.
type Events struct {
	mu     sync.RWMutex
	nextID int

	state  map[int]func(CallState)
	local  map[int]func(*LocalMedia)
	remote map[int]func(*RemoteStream)
	errs   map[int]func(*CallError)
	metric map[int]func(CallMetrics)
}

func newEvents() *Events {
	return &Events{
		state:  make(map[int]func(CallState)),
		local:  make(map[int]func(*LocalMedia)),
		remote: make(map[int]func(*RemoteStream)),
		errs:   make(map[int]func(*CallError)),
		metric: make(map[int]func(CallMetrics)),
	}
}

// OnState subscribes to lifecycle state changes.
func (e *Events) OnState(fn func(CallState)) (cancel func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.state[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.state, id)
		e.mu.Unlock()
	}
}

// OnLocalStream subscribes to local media availability. A nil value means the
// local stream has been released.
func (e *Events) OnLocalStream(fn func(*LocalMedia)) (cancel func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.local[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.local, id)
		e.mu.Unlock()
	}
}

// OnRemoteStream subscribes to the aggregate remote stream. Re-emitted with
// the same aggregate whenever an inbound track is added; nil on teardown.
func (e *Events) OnRemoteStream(fn func(*RemoteStream)) (cancel func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.remote[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.remote, id)
		e.mu.Unlock()
	}
}

// OnError subscribes to classified errors, fatal and recoverable alike.
func (e *Events) OnError(fn func(*CallError)) (cancel func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.errs[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.errs, id)
		e.mu.Unlock()
	}
}

// OnMetric subscribes to periodic CallMetrics samples.
func (e *Events) OnMetric(fn func(CallMetrics)) (cancel func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.metric[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.metric, id)
		e.mu.Unlock()
	}
}

// Handlers are copied out under the read lock and invoked without it, so a
// listener may subscribe, cancel, or call back into the session.

func (e *Events) emitState(s CallState) {
	e.mu.RLock()
	fns := make([]func(CallState), 0, len(e.state))
	for _, fn := range e.state {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (e *Events) emitLocal(m *LocalMedia) {
	e.mu.RLock()
	fns := make([]func(*LocalMedia), 0, len(e.local))
	for _, fn := range e.local {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(m)
	}
}

func (e *Events) emitRemote(r *RemoteStream) {
	e.mu.RLock()
	fns := make([]func(*RemoteStream), 0, len(e.remote))
	for _, fn := range e.remote {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(r)
	}
}

func (e *Events) emitError(err *CallError) {
	e.mu.RLock()
	fns := make([]func(*CallError), 0, len(e.errs))
	for _, fn := range e.errs {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (e *Events) emitMetric(m CallMetrics) {
	e.mu.RLock()
	fns := make([]func(CallMetrics), 0, len(e.metric))
	for _, fn := range e.metric {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(m)
	}
}
