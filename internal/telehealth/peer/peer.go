package peer

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Callbacks receive pion events. Each may be nil. They run on pion
// goroutines and must not block.
type Callbacks struct {
	NegotiationNeeded func()
	Candidate         func(webrtc.ICECandidateInit)
	ConnectionState   func(webrtc.PeerConnectionState)
	Track             func(*webrtc.TrackRemote)
}

// Peer is one side of a telehealth call.
type Peer struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	rtpPackets atomic.Uint64
	rtpBytes   atomic.Uint64

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(api *webrtc.API, iceServers []webrtc.ICEServer, cb Callbacks, logger zerolog.Logger) (*Peer, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &Peer{pc: pc, logger: logger}

	pc.OnNegotiationNeeded(func() {
		if cb.NegotiationNeeded != nil {
			cb.NegotiationNeeded()
		}
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c != nil && cb.Candidate != nil {
			cb.Candidate(c.ToJSON())
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Info().Str("state", s.String()).Msg("peer connection state")
		if cb.ConnectionState != nil {
			cb.ConnectionState(s)
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Info().Str("kind", track.Kind().String()).Str("codec", track.Codec().MimeType).Msg("remote track")
		if cb.Track != nil {
			cb.Track(track)
		}
		p.wg.Add(1)
		go p.consume(track)
	})
	return p, nil
}

// Connection exposes the underlying peer connection for negotiation and
// stats.
func (p *Peer) Connection() *webrtc.PeerConnection { return p.pc }

// AddTracks attaches local tracks and drains their RTCP, which the
// interceptors need read to process.
func (p *Peer) AddTracks(tracks ...webrtc.TrackLocal) error {
	for _, t := range tracks {
		sender, err := p.pc.AddTrack(t)
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		p.wg.Add(1)
		go p.drainRTCP(sender)
	}
	return nil
}

// ReceiveOnly negotiates audio and video without sending anything.
func (p *Peer) ReceiveOnly() error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

func (p *Peer) drainRTCP(sender *webrtc.RTPSender) {
	defer p.wg.Done()
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// consume reads remote RTP so pion's buffers never fill. There is no
// renderer on the server side; only counters are kept.
func (p *Peer) consume(track *webrtc.TrackRemote) {
	defer p.wg.Done()
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Debug().Err(err).Str("kind", track.Kind().String()).Msg("remote track ended")
			}
			return
		}
		p.rtpPackets.Add(1)
		p.rtpBytes.Add(uint64(n))
	}
}

// Received reports remote RTP packets and bytes read so far.
func (p *Peer) Received() (packets, bytes uint64) {
	return p.rtpPackets.Load(), p.rtpBytes.Load()
}

// Close closes the connection and waits for the media goroutines.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.pc.Close()
		p.wg.Wait()
	})
	return err
}
