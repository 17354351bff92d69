package call

import (
	"encoding/json"
	"log"

	"github.com/pion/webrtc/v4"
)

// SignalType tags a SignalMessage. The set is closed: anything else coming
// off the wire is logged and dropped at the decode boundary.
type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "ice-candidate"
	SignalPeerLeft  SignalType = "peer-left"
)

// SignalMessage is the wire format exchanged over the signaling relay.
// SenderID is set on every outbound message so the relay can route it to the
// other participant of the session topic. Restart marks an offer that was
// created with the ICE-restart flag; responders treat it like any offer.
type SignalMessage struct {
	Type      SignalType               `json:"type"`
	SenderID  string                   `json:"senderId,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Restart   bool                     `json:"restart,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

func (m SignalMessage) encode() ([]byte, error) {
	return json.Marshal(m)
}

// decodeSignal parses raw relay bytes into a SignalMessage. Unknown or
// malformed messages are not an error — the relay is a dumb pipe and other
// clients may speak newer dialects — so they are logged and skipped.
func decodeSignal(sessionID string, data []byte) (SignalMessage, bool) {
	var msg SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("SIGNAL [%s]: dropping malformed message: %v", sessionID, err)
		return SignalMessage{}, false
	}
	switch msg.Type {
	case SignalOffer, SignalAnswer, SignalCandidate, SignalPeerLeft:
		return msg, true
	default:
		log.Printf("SIGNAL [%s]: dropping unknown message type %q", sessionID, msg.Type)
		return SignalMessage{}, false
	}
}
