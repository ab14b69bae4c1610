// Package negotiation implements the perfect negotiation pattern: both peers
// may start renegotiation at any time and offer collisions are resolved by a
// fixed polite/impolite role.
//
// pion cannot roll back a local offer (have-local-offer only leaves through
// an answer), so the polite peer avoids the collisions it would have to undo:
// it holds its first offer until it has answered the impolite one, and it
// leaves ICE restarts to the impolite side.
package negotiation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var (
	ErrSameID            = errors.New("local and remote peer ids must differ")
	ErrClosed            = errors.New("negotiation closed")
	ErrRestartsExhausted = errors.New("ice restart limit reached")
	// ErrUnresolvedCollision means the polite peer met a colliding offer and
	// its connection refused the rollback.
	ErrUnresolvedCollision = errors.New("offer collision could not be rolled back")
)

type Role int

const (
	Impolite Role = iota
	Polite
)

func (r Role) String() string {
	if r == Polite {
		return "polite"
	}
	return "impolite"
}

// AssignRole makes the peer whose id sorts lower the polite one. Both sides
// compute the same answer from the same pair of ids.
func AssignRole(local, remote string) (Role, error) {
	switch {
	case local == remote:
		return Impolite, ErrSameID
	case local < remote:
		return Polite, nil
	default:
		return Impolite, nil
	}
}

// PeerConnection is the part of *webrtc.PeerConnection the coordinator drives.
type PeerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
}

// Signaler carries descriptions and candidates to the remote peer.
type Signaler interface {
	SendDescription(desc webrtc.SessionDescription) error
	SendCandidate(candidate webrtc.ICECandidateInit) error
}

type Config struct {
	Role           Role
	MaxICERestarts int
	Logger         zerolog.Logger
}

// Coordinator runs every negotiation step under one mutex; pion callbacks
// arrive on arbitrary goroutines.
type Coordinator struct {
	mu     sync.Mutex
	pc     PeerConnection
	sig    Signaler
	role   Role
	logger zerolog.Logger

	makingOffer                bool
	ignoreOffer                bool
	settingRemoteAnswerPending bool
	// an offer was asked for while one could not be sent
	offerDeferred bool

	maxRestarts    int
	restarts       int
	restartPending bool
	closed         bool

	// candidates that arrived before any remote description
	pending []webrtc.ICECandidateInit
}

func New(pc PeerConnection, sig Signaler, cfg Config) *Coordinator {
	return &Coordinator{
		pc:          pc,
		sig:         sig,
		role:        cfg.Role,
		maxRestarts: cfg.MaxICERestarts,
		logger:      cfg.Logger.With().Str("component", "negotiation").Stringer("role", cfg.Role).Logger(),
	}
}

func (c *Coordinator) Role() Role { return c.role }

// IgnoringOffer reports whether the last remote offer was dropped as a
// collision.
func (c *Coordinator) IgnoringOffer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ignoreOffer
}

func (c *Coordinator) Restarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarts
}

// NegotiationNeeded sends a fresh offer, or holds it until the signaling
// state is stable. The polite peer also holds it until the first remote
// description has been applied.
func (c *Coordinator) NegotiationNeeded() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.holdOffer() {
		c.offerDeferred = true
		c.logger.Debug().Str("signaling", c.pc.SignalingState().String()).Msg("holding offer")
		return nil
	}
	return c.offer(nil)
}

func (c *Coordinator) holdOffer() bool {
	if c.pc.SignalingState() != webrtc.SignalingStateStable {
		return true
	}
	return c.role == Polite && c.pc.RemoteDescription() == nil
}

func (c *Coordinator) offer(opts *webrtc.OfferOptions) error {
	c.makingOffer = true
	defer func() { c.makingOffer = false }()

	offer, err := c.pc.CreateOffer(opts)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	if err := c.sig.SendDescription(offer); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	return nil
}

// HandleDescription applies a remote offer or answer. On an offer collision
// the impolite peer drops the remote offer and the polite peer rolls back its
// own before accepting. A held offer, or a pending ICE restart, goes out once
// signaling is stable again.
func (c *Coordinator) HandleDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	readyForOffer := !c.makingOffer &&
		(c.pc.SignalingState() == webrtc.SignalingStateStable || c.settingRemoteAnswerPending)
	offerCollision := desc.Type == webrtc.SDPTypeOffer && !readyForOffer

	c.ignoreOffer = c.role == Impolite && offerCollision
	if c.ignoreOffer {
		c.logger.Debug().Msg("offer collision, ignoring remote offer")
		return nil
	}
	if offerCollision {
		c.logger.Debug().Msg("offer collision, rolling back local offer")
		if err := c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			c.logger.Warn().Err(err).Str("signaling", c.pc.SignalingState().String()).Msg("rollback refused, keeping local offer")
			return fmt.Errorf("%w: %v", ErrUnresolvedCollision, err)
		}
	}

	c.settingRemoteAnswerPending = desc.Type == webrtc.SDPTypeAnswer
	err := c.pc.SetRemoteDescription(desc)
	c.settingRemoteAnswerPending = false
	if err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}
	c.flushCandidates()

	if desc.Type == webrtc.SDPTypeOffer {
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := c.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local answer: %w", err)
		}
		if err := c.sig.SendDescription(answer); err != nil {
			return fmt.Errorf("send answer: %w", err)
		}
	}

	if c.pc.SignalingState() != webrtc.SignalingStateStable {
		return nil
	}
	switch {
	case c.restartPending:
		c.restartPending = false
		c.offerDeferred = false
		return c.offer(&webrtc.OfferOptions{ICERestart: true})
	case c.offerDeferred:
		c.offerDeferred = false
		return c.offer(nil)
	}
	return nil
}

// HandleCandidate adds a remote candidate. Failures are expected, and
// dropped, only while the offer they belong to is being ignored.
func (c *Coordinator) HandleCandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.pc.RemoteDescription() == nil {
		c.pending = append(c.pending, candidate)
		return nil
	}
	return c.addCandidate(candidate)
}

func (c *Coordinator) addCandidate(candidate webrtc.ICECandidateInit) error {
	if err := c.pc.AddICECandidate(candidate); err != nil {
		if c.ignoreOffer {
			return nil
		}
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (c *Coordinator) flushCandidates() {
	queued := c.pending
	c.pending = nil
	for _, cand := range queued {
		if err := c.addCandidate(cand); err != nil {
			c.logger.Warn().Err(err).Msg("queued candidate rejected")
		}
	}
}

// ConnectionStateChanged drives ICE restarts. A failed connection gets a
// restart offer, up to the configured limit; reaching connected resets the
// count. The polite peer counts failures but waits for the impolite peer's
// restart offer, whose new credentials restart ICE on this side too. Closed
// is terminal.
func (c *Coordinator) ConnectionStateChanged(state webrtc.PeerConnectionState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		c.restarts = 0
		c.restartPending = false
	case webrtc.PeerConnectionStateFailed:
		if c.restarts >= c.maxRestarts {
			return ErrRestartsExhausted
		}
		c.restarts++
		if c.role == Polite {
			c.logger.Info().Int("attempt", c.restarts).Msg("connection failed, waiting for remote ice restart")
			return nil
		}
		c.logger.Info().Int("attempt", c.restarts).Msg("connection failed, restarting ice")
		if c.pc.SignalingState() != webrtc.SignalingStateStable {
			c.restartPending = true
			return nil
		}
		return c.offer(&webrtc.OfferOptions{ICERestart: true})
	case webrtc.PeerConnectionStateClosed:
		c.closed = true
	}
	return nil
}

// Close stops the coordinator from touching the peer connection again.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.pending = nil
}
