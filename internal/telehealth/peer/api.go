// Package peer builds pion peer connections for telehealth calls and keeps
// their media plumbing (track attachment, RTCP and RTP draining) in one place.
package peer

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Options configure the pion API shared by every peer of a process.
type Options struct {
	ICEServers []webrtc.ICEServer
	UDPPortMin uint16
	UDPPortMax uint16
	// IncludeLoopback gathers 127.0.0.1 candidates; only useful when both
	// peers run on one host.
	IncludeLoopback bool
	Logger          zerolog.Logger
}

// NewAPI registers the default codecs (opus, VP8 and friends) and the default
// interceptors (NACK, RTCP reports, TWCC) and applies the network settings.
func NewAPI(opts Options) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: loggerFactory{opts.Logger}}
	if opts.UDPPortMin != 0 || opts.UDPPortMax != 0 {
		if err := se.SetEphemeralUDPPortRange(opts.UDPPortMin, opts.UDPPortMax); err != nil {
			return nil, fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}
	if opts.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}
