// Package quality turns WebRTC transport statistics into a coarse call
// quality bucket.
package quality

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type Bucket string

const (
	Unknown   Bucket = "unknown"
	Excellent Bucket = "excellent"
	Good      Bucket = "good"
	Fair      Bucket = "fair"
	Poor      Bucket = "poor"
)

func (b Bucket) Valid() bool {
	switch b {
	case Unknown, Excellent, Good, Fair, Poor:
		return true
	}
	return false
}

// Sample is one reading. Packet counts are deltas since the previous reading.
type Sample struct {
	HasPair         bool          `json:"has_pair"`
	RTT             time.Duration `json:"rtt"`
	PacketsReceived uint64        `json:"packets_received"`
	PacketsLost     uint64        `json:"packets_lost"`
	Jitter          float64       `json:"jitter_seconds"`
}

// LossRatio is lost / (received + lost) over the sample window.
func (s Sample) LossRatio() float64 {
	total := s.PacketsReceived + s.PacketsLost
	if total == 0 {
		return 0
	}
	return float64(s.PacketsLost) / float64(total)
}

var thresholds = []struct {
	bucket Bucket
	rtt    time.Duration
	loss   float64
}{
	{Excellent, 150 * time.Millisecond, 0.01},
	{Good, 300 * time.Millisecond, 0.03},
	{Fair, 500 * time.Millisecond, 0.08},
}

// Classify picks the best bucket whose round-trip and loss limits both hold.
func Classify(s Sample) Bucket {
	if !s.HasPair {
		return Unknown
	}
	loss := s.LossRatio()
	for _, th := range thresholds {
		if s.RTT < th.rtt && loss < th.loss {
			return th.bucket
		}
	}
	return Poor
}

// StatsSource is satisfied by *webrtc.PeerConnection.
type StatsSource interface {
	GetStats() webrtc.StatsReport
}

type Report struct {
	Bucket Bucket    `json:"bucket"`
	Sample Sample    `json:"sample"`
	At     time.Time `json:"at"`
}

// Monitor samples a connection on an interval and reports bucket changes.
type Monitor struct {
	src      StatsSource
	interval time.Duration
	clock    clock.Clock
	logger   zerolog.Logger

	prevReceived uint64
	prevLost     uint64
	last         Bucket
}

func NewMonitor(src StatsSource, interval time.Duration, clk clock.Clock, logger zerolog.Logger) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Monitor{
		src:      src,
		interval: interval,
		clock:    clk,
		logger:   logger.With().Str("component", "quality").Logger(),
	}
}

// Sample reads the current stats. Not safe for concurrent use; Run owns it
// once started.
func (m *Monitor) Sample() Sample {
	var (
		s              Sample
		received, lost uint64
	)
	for _, st := range m.src.GetStats() {
		switch v := st.(type) {
		case webrtc.ICECandidatePairStats:
			m.pair(&s, v)
		case *webrtc.ICECandidatePairStats:
			m.pair(&s, *v)
		case webrtc.InboundRTPStreamStats:
			inbound(&s, v, &received, &lost)
		case *webrtc.InboundRTPStreamStats:
			inbound(&s, *v, &received, &lost)
		}
	}

	// Counters restart when a stream is renegotiated; treat a drop as a new
	// baseline.
	if received >= m.prevReceived {
		s.PacketsReceived = received - m.prevReceived
	}
	if lost >= m.prevLost {
		s.PacketsLost = lost - m.prevLost
	}
	m.prevReceived, m.prevLost = received, lost
	return s
}

func (m *Monitor) pair(s *Sample, p webrtc.ICECandidatePairStats) {
	if !p.Nominated || p.State != webrtc.StatsICECandidatePairStateSucceeded {
		return
	}
	s.HasPair = true
	s.RTT = time.Duration(p.CurrentRoundTripTime * float64(time.Second))
}

func inbound(s *Sample, in webrtc.InboundRTPStreamStats, received, lost *uint64) {
	*received += uint64(in.PacketsReceived)
	if in.PacketsLost > 0 {
		*lost += uint64(in.PacketsLost)
	}
	s.Jitter = max(s.Jitter, in.Jitter)
}

// Run samples until ctx is done and calls emit whenever the bucket changes,
// including the first reading.
func (m *Monitor) Run(ctx context.Context, emit func(Report)) {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s := m.Sample()
		b := Classify(s)
		if b == m.last {
			continue
		}
		m.logger.Info().
			Str("from", string(m.last)).
			Str("to", string(b)).
			Dur("rtt", s.RTT).
			Float64("loss", s.LossRatio()).
			Msg("call quality changed")
		m.last = b
		emit(Report{Bucket: b, Sample: s, At: m.clock.Now().UTC()})
	}
}
