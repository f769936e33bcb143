// Package webrtcpeer implements the negotiation primitive on top of pion:
// it owns one PeerConnection per session attempt and adapts pion's callback
// surface to the event-channel contract the session orchestrator consumes.
package webrtcpeer

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/pion/webrtc/v4"
)

// PortRange restricts the ephemeral UDP ports used for ICE.
type PortRange struct {
	Min uint16
	Max uint16
}

// NewAPI builds a pion API with our network settings and pion's internal
// logging routed into slog.
func NewAPI(logger *slog.Logger, portRange *PortRange, listenIP net.IP) (*webrtc.API, error) {
	se := webrtc.SettingEngine{
		LoggerFactory: &LoggerFactory{Log: logger},
	}
	if portRange != nil {
		if err := se.SetEphemeralUDPPortRange(portRange.Min, portRange.Max); err != nil {
			return nil, fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	// SettingEngine doesn't expose a bind-address toggle; restrict candidate
	// gathering and socket binding via IPFilter instead.
	if listenIP != nil && !listenIP.IsUnspecified() {
		se.SetIPFilter(func(ip net.IP) bool {
			return ip.Equal(listenIP)
		})
	}

	return webrtc.NewAPI(webrtc.WithSettingEngine(se)), nil
}
