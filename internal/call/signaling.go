package call

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const linkWriteTimeout = 5 * time.Second

// Signaling is the session's view of the signaling link. Send is
// fire-and-forget: the relay gives no acknowledgement and delivery is not
// guaranteed, so the negotiation protocol tolerates loss and duplication.
type Signaling interface {
	Send(msg SignalMessage) error
	Close() error
}

// DialFunc opens a signaling link to a session topic. onMessage receives
// inbound messages in relay order; onClose fires once on unexpected close
// (never on a local Close).
type DialFunc func(ctx context.Context, topicURL string, onMessage func(SignalMessage), onClose func(error)) (Signaling, error)

// SignalURL builds the per-session relay topic URL:
// {base}/{path}/{sessionID}?userId={userID}.
func SignalURL(base, path, sessionID, userID string) string {
	return fmt.Sprintf("%s/%s/%s?userId=%s", base, path, sessionID, url.QueryEscape(userID))
}

// Link is a websocket connection to the signaling relay for one session
// topic. It does not reconnect on its own: socket-level reconnect is out of
// scope for this version, recovery runs through ICE restart instead.
type Link struct {
	sessionID string
	conn      *websocket.Conn
	onMessage func(SignalMessage)
	onClose   func(error)

	sendMu    sync.Mutex
	local     atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
}

// DialLink connects to the relay topic. It satisfies DialFunc.
func DialLink(ctx context.Context, topicURL string, onMessage func(SignalMessage), onClose func(error)) (Signaling, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, topicURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling relay: %w", err)
	}

	u, _ := url.Parse(topicURL)
	sessionID := ""
	if u != nil {
		sessionID = lastPathSegment(u.Path)
	}

	l := &Link{
		sessionID: sessionID,
		conn:      conn,
		onMessage: onMessage,
		onClose:   onClose,
		closed:    make(chan struct{}),
	}
	go l.readPump()
	log.Printf("SIGNAL [%s]: link open", sessionID)
	return l, nil
}

func lastPathSegment(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

func (l *Link) readPump() {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("SIGNAL [%s]: link dropped: %v", l.sessionID, err)
			}
			l.finish(err)
			return
		}
		if msg, ok := decodeSignal(l.sessionID, data); ok && l.onMessage != nil {
			l.onMessage(msg)
		}
	}
}

// finish tears the link down once. onClose fires only for remote/transport
// closes — a deliberate local Close is not an event the session cares about.
func (l *Link) finish(err error) {
	l.closeOnce.Do(func() {
		close(l.closed)
		_ = l.conn.Close()
		if !l.local.Load() && l.onClose != nil {
			l.onClose(err)
		}
	})
}

// Send marshals and writes one message. Fire-and-forget: an error means the
// local write failed, it never implies the peer received anything.
func (l *Link) Send(msg SignalMessage) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}

	data, err := msg.encode()
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}

	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(linkWriteTimeout))
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write signal: %w", err)
	}
	return nil
}

// Close shuts the link down locally. Idempotent.
func (l *Link) Close() error {
	l.local.Store(true)
	l.sendMu.Lock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(linkWriteTimeout))
	_ = l.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	l.sendMu.Unlock()
	l.finish(nil)
	return nil
}
