// Package call runs one participant of a telehealth call: it joins the
// signaling room, negotiates with whichever peer is present and tears the
// connection down when that peer leaves.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/telehealth/media"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/telehealth/negotiation"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/telehealth/peer"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/telehealth/quality"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/telehealth/signaling"
)

var ErrCallFailed = errors.New("call failed")

type Config struct {
	Endpoint string // ws(s)://host/api/v1/telehealth/signal
	Ticket   string
	RoomID   string
	PeerID   string

	API             *webrtc.API
	ICEServers      []webrtc.ICEServer
	MaxICERestarts  int
	QualityInterval time.Duration

	// Media is optional; without it the participant only receives.
	Media  *media.Local
	Clock  clock.Clock
	Logger zerolog.Logger

	OnConnected    func(remote string)
	OnSessionEnded func(remote string)
	OnQuality      func(remote string, r quality.Report)
}

// Run takes part in the call until ctx is done. It returns nil on
// cancellation and ErrCallFailed once ICE restarts are exhausted.
func Run(ctx context.Context, cfg Config) error {
	if cfg.API == nil {
		return errors.New("call: pion api is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	logger := cfg.Logger.With().Str("room", cfg.RoomID).Str("peer", cfg.PeerID).Logger()

	client, err := signaling.Dial(ctx, cfg.Endpoint, cfg.Ticket)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.Join(cfg.RoomID); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	var s *session
	defer func() {
		if s != nil {
			s.close()
		}
	}()

	start := func(remote string) {
		if s != nil {
			return
		}
		ns, err := newSession(ctx, cfg, client, remote, logger)
		if err != nil {
			logger.Error().Err(err).Str("remote", remote).Msg("start session")
			return
		}
		s = ns
	}
	end := func() {
		if s == nil {
			return
		}
		s.close()
		if cfg.OnSessionEnded != nil {
			cfg.OnSessionEnded(s.remote)
		}
		s = nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.failures():
			remote := s.remote
			end()
			return fmt.Errorf("%w: connection to %s could not be restored", ErrCallFailed, remote)
		case msg, ok := <-client.Messages():
			if !ok {
				return fmt.Errorf("signaling closed: %w", client.Err())
			}
			switch msg.Type {
			case signaling.TypeRoomState:
				logger.Info().Strs("peers", msg.Peers).Msg("joined room")
				if len(msg.Peers) > 0 {
					start(msg.Peers[0])
				}
			case signaling.TypePeerJoined:
				start(msg.From)
			case signaling.TypePeerLeft:
				if s != nil && s.remote == msg.From {
					logger.Info().Str("remote", msg.From).Msg("peer left, waiting for next peer")
					end()
				}
			case signaling.TypeOffer, signaling.TypeAnswer:
				if msg.Type == signaling.TypeOffer {
					start(msg.From)
				}
				if s != nil && s.remote == msg.From && msg.SDP != nil {
					if err := s.coord.HandleDescription(*msg.SDP); err != nil {
						logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("apply remote description")
					}
				}
			case signaling.TypeICECandidate:
				if s != nil && s.remote == msg.From && msg.Candidate != nil {
					if err := s.coord.HandleCandidate(*msg.Candidate); err != nil {
						logger.Warn().Err(err).Msg("add remote candidate")
					}
				}
			case signaling.TypeError:
				logger.Warn().Str("error", msg.Error).Msg("signaling error")
			}
		}
	}
}

// signalTo addresses every outgoing message to one remote peer.
type signalTo struct {
	client *signaling.Client
	remote string
}

func (s signalTo) SendDescription(d webrtc.SessionDescription) error {
	return s.client.Send(signaling.Description(s.remote, d))
}

func (s signalTo) SendCandidate(c webrtc.ICECandidateInit) error {
	return s.client.Send(signaling.Candidate(s.remote, c))
}

// session is the connection to one remote peer.
type session struct {
	remote string
	peer   *peer.Peer
	coord  *negotiation.Coordinator
	cancel context.CancelFunc
	logger zerolog.Logger
	failed chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// failures fires once the session has run out of ICE restarts. A nil
// session never fails, so Run waits on nothing between peers.
func (s *session) failures() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.failed
}

func (s *session) reportFailure() {
	select {
	case s.failed <- struct{}{}:
	default:
	}
}

// spawn runs f on a tracked goroutine unless the session is closing.
func (s *session) spawn(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f()
	}()
}

func newSession(parent context.Context, cfg Config, client *signaling.Client, remote string, logger zerolog.Logger) (*session, error) {
	role, err := negotiation.AssignRole(cfg.PeerID, remote)
	if err != nil {
		return nil, err
	}
	logger = logger.With().Str("remote", remote).Logger()
	ctx, cancel := context.WithCancel(parent)
	s := &session{remote: remote, cancel: cancel, logger: logger, failed: make(chan struct{}, 1)}

	var monitorOnce sync.Once
	p, err := peer.New(cfg.API, cfg.ICEServers, peer.Callbacks{
		NegotiationNeeded: func() {
			go func() {
				if err := s.coord.NegotiationNeeded(); err != nil && !errors.Is(err, negotiation.ErrClosed) {
					logger.Warn().Err(err).Msg("negotiation")
				}
			}()
		},
		Candidate: func(c webrtc.ICECandidateInit) {
			if err := (signalTo{client, remote}).SendCandidate(c); err != nil {
				logger.Debug().Err(err).Msg("send candidate")
			}
		},
		ConnectionState: func(state webrtc.PeerConnectionState) {
			err := s.coord.ConnectionStateChanged(state)
			if errors.Is(err, negotiation.ErrRestartsExhausted) {
				s.reportFailure()
				return
			}
			if err != nil {
				logger.Warn().Err(err).Msg("ice restart")
			}
			if state == webrtc.PeerConnectionStateConnected {
				if cfg.OnConnected != nil {
					cfg.OnConnected(remote)
				}
				monitorOnce.Do(func() { s.monitor(ctx, cfg, remote) })
			}
		},
	}, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	s.peer = p
	s.coord = negotiation.New(p.Connection(), signalTo{client, remote}, negotiation.Config{
		Role:           role,
		MaxICERestarts: cfg.MaxICERestarts,
		Logger:         logger,
	})

	// Adding tracks asks both sides to negotiate. The impolite side offers
	// first and the polite side sends its own offer after answering.
	if cfg.Media != nil && len(cfg.Media.Tracks()) > 0 {
		err = p.AddTracks(cfg.Media.Tracks()...)
	} else {
		err = p.ReceiveOnly()
	}
	if err != nil {
		s.close()
		return nil, err
	}

	if cfg.Media != nil {
		player := media.NewPlayer(cfg.Clock, logger)
		s.spawn(func() {
			if err := cfg.Media.Play(ctx, player); err != nil {
				logger.Error().Err(err).Msg("local media stopped")
			}
		})
	}
	logger.Info().Stringer("role", role).Msg("session started")
	return s, nil
}

func (s *session) monitor(ctx context.Context, cfg Config, remote string) {
	m := quality.NewMonitor(s.peer.Connection(), cfg.QualityInterval, cfg.Clock, s.logger)
	s.spawn(func() {
		m.Run(ctx, func(r quality.Report) {
			if cfg.OnQuality != nil {
				cfg.OnQuality(remote, r)
			}
		})
	})
}

func (s *session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	if s.coord != nil {
		s.coord.Close()
	}
	if err := s.peer.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("close peer")
	}
	s.wg.Wait()
}
