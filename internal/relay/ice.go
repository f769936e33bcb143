package relay

import (
	"net/http"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/pairmeet/pairmeet/internal/httpserver"
	"github.com/pairmeet/pairmeet/internal/turnrest"
)

// ICEConfig is what the relay advertises to participants for building their
// peer connections. Credentials is nil when no TURN REST secret is configured.
type ICEConfig struct {
	STUNURLs    []string
	TURNURLs    []string
	Credentials *turnrest.Generator
}

// SetICEConfig enables GET /ice. Call before RegisterRoutes.
func (s *Server) SetICEConfig(ic ICEConfig) {
	s.ice = ic
}

type iceResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
	ExpiryUnix int64              `json:"expiryUnix,omitempty"`
}

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	// Non-nil so the response encodes as [] rather than null.
	servers := []webrtc.ICEServer{}
	if len(s.ice.STUNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: s.ice.STUNURLs})
	}

	resp := iceResponse{}
	if len(s.ice.TURNURLs) > 0 && s.ice.Credentials != nil {
		creds, err := s.ice.Credentials.GenerateRandom()
		if err != nil {
			s.log.Error("generate turn credentials", "err", err)
			httpserver.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.ice.TURNURLs,
			Username:   creds.Username,
			Credential: creds.Credential,
		})
		resp.ExpiryUnix = creds.ExpiryUnix
	}

	resp.ICEServers = servers
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

// HasTURN reports whether any advertised URL is a TURN or TURNS URI.
func (ic ICEConfig) HasTURN() bool {
	for _, raw := range ic.TURNURLs {
		url := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}
