package call

// CallIdentity identifies one call attempt. It is supplied by the booking
// service before a session is constructed and never changes afterwards:
// SessionID selects the signaling topic, Initiator decides which side
// creates the first SDP offer.
type CallIdentity struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Initiator bool   `json:"initiator"`
}

// MediaMode selects whether a camera track is requested alongside the mic.
type MediaMode int

const (
	ModeVideo MediaMode = iota
	ModeAudio
)

func (m MediaMode) String() string {
	if m == ModeAudio {
		return "audio"
	}
	return "video"
}

// CallState is the externally observable lifecycle state of a Session.
//
// StateFailed is deliberately non-terminal: the ICE-failure path sets it for
// observability while recovery continues in the background. Only StateEnded
// is terminal.
type CallState int

const (
	StateIdle CallState = iota
	StatePermission
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateEnded
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePermission:
		return "permission"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// CallMetrics is an ephemeral quality snapshot emitted by the audio level
// meter. AudioLevel is normalized RMS loudness in [0,1]. Never persisted.
type CallMetrics struct {
	AudioLevel      float32 `json:"audio_level"`
	ConnectionState string  `json:"connection_state,omitempty"`
	ICEState        string  `json:"ice_state,omitempty"`
}

// SessionStatus is a diagnostic snapshot served by debug endpoints.
type SessionStatus struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Initiator       bool      `json:"initiator"`
	State           string    `json:"state"`
	AudioOn         bool      `json:"audio_on"`
	VideoOn         bool      `json:"video_on"`
	ConnectionState string    `json:"connection_state,omitempty"`
	ICEState        string    `json:"ice_state,omitempty"`
	RemoteTracks    int       `json:"remote_tracks"`
	RecentLevels    []float32 `json:"recent_levels,omitempty"`
}
