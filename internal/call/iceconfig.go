package call

import "github.com/pion/webrtc/v4"

// ICEServers builds the webrtc server list from static configuration.
// STUN is always present; TURN is included only when full credentials are
// configured, since an unauthenticated TURN entry would just burn allocation
// attempts.
func ICEServers(stunURLs []string, turnURL, turnUsername, turnCredential string) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, 2)
	if len(stunURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stunURLs})
	}
	if turnURL != "" && turnUsername != "" && turnCredential != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{turnURL},
			Username:   turnUsername,
			Credential: turnCredential,
		})
	}
	return servers
}
