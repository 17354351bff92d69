// Package call implements the peer-to-peer call engine: local media
// acquisition, peer-connection negotiation over a websocket signaling relay,
// connection-health watchdog with ICE restart, audio level metering and
// deterministic teardown. It is designed to be maximally standalone — it
// imports only Pion libraries, the websocket client and stdlib. Coupling to
// the rest of the product is via the DeviceProvider and DialFunc seams plus
// the typed event stream.
package call

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// ManagerConfig carries the static environment shared by all sessions.
type ManagerConfig struct {
	Provider      DeviceProvider
	Dial          DialFunc
	ICEServers    []webrtc.ICEServer
	SignalingBase string // e.g. "wss://relay.meetsy.app"
	SignalingPath string // e.g. "signal"
	Watchdog      time.Duration
	MeterInterval time.Duration
}

// Manager owns active call sessions, one per session ID. The booking flow
// produces at most one live call per session, so a duplicate Start is a
// caller bug and is rejected.
type Manager struct {
	cfg ManagerConfig

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a call Manager for the given environment.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Dial == nil {
		cfg.Dial = DialLink
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Start creates and starts a session for id. An empty SessionID gets a
// generated one. The session is deregistered automatically when it ends.
func (m *Manager) Start(ctx context.Context, id CallIdentity, mode MediaMode) (*Session, error) {
	if id.SessionID == "" {
		id.SessionID = uuid.NewString()
	}
	if id.UserID == "" {
		return nil, fmt.Errorf("call: user id is required")
	}

	sess := NewSession(SessionConfig{
		Identity:      id,
		Mode:          mode,
		Provider:      m.cfg.Provider,
		Dial:          m.cfg.Dial,
		ICEServers:    m.cfg.ICEServers,
		SignalingURL:  SignalURL(m.cfg.SignalingBase, m.cfg.SignalingPath, id.SessionID, id.UserID),
		Watchdog:      m.cfg.Watchdog,
		MeterInterval: m.cfg.MeterInterval,
	})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("call: manager closed")
	}
	if _, exists := m.sessions[id.SessionID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("call: session %s already active", id.SessionID)
	}
	m.sessions[id.SessionID] = sess
	m.mu.Unlock()

	go func() {
		<-sess.Done()
		m.remove(id.SessionID)
	}()

	if err := sess.Start(ctx); err != nil {
		sess.End()
		return nil, err
	}
	log.Printf("CALL: started %s (initiator=%v, %s)", id.SessionID, id.Initiator, mode)
	return sess, nil
}

// Get returns the active session for sessionID, if any.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	return s, ok
}

// All returns every active session.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	return out
}

func (m *Manager) remove(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// Close ends every active session and rejects further starts.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.End()
	}
}
