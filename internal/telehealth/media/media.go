// Package media feeds local audio and video into a call. Servers have no
// capture devices, so media comes from IVF (VP8) and Ogg (Opus) files played
// at their native pacing and looped until the call ends.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var ErrEmptyMedia = errors.New("media file has no frames")

// oggPageDuration paces Opus pages; encoders usually emit 20ms per page.
const oggPageDuration = 20 * time.Millisecond

// SampleWriter is satisfied by *webrtc.TrackLocalStaticSample.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

// Player writes file media into tracks.
type Player struct {
	clock  clock.Clock
	logger zerolog.Logger
}

func NewPlayer(clk clock.Clock, logger zerolog.Logger) *Player {
	if clk == nil {
		clk = clock.New()
	}
	return &Player{clock: clk, logger: logger.With().Str("component", "media").Logger()}
}

// PlayIVF loops the VP8 frames of path into w until ctx is done.
func (p *Player) PlayIVF(ctx context.Context, path string, w SampleWriter) error {
	for {
		if err := p.playIVFOnce(ctx, path, w); err != nil {
			return err
		}
		p.logger.Debug().Str("file", path).Msg("video looped")
	}
}

func (p *Player) playIVFOnce(ctx context.Context, path string, w SampleWriter) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("read ivf header %s: %w", path, err)
	}
	frameDuration := time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	if frameDuration <= 0 {
		return fmt.Errorf("ivf %s: invalid timebase %d/%d", path, header.TimebaseNumerator, header.TimebaseDenominator)
	}

	ticker := p.clock.Ticker(frameDuration)
	defer ticker.Stop()

	frames := 0
	for {
		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if frames == 0 {
				return ErrEmptyMedia
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ivf frame: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := w.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return fmt.Errorf("write video sample: %w", err)
		}
		frames++
	}
}

// PlayOgg loops the Opus pages of path into w until ctx is done.
func (p *Player) PlayOgg(ctx context.Context, path string, w SampleWriter) error {
	for {
		if err := p.playOggOnce(ctx, path, w); err != nil {
			return err
		}
		p.logger.Debug().Str("file", path).Msg("audio looped")
	}
}

func (p *Player) playOggOnce(ctx context.Context, path string, w SampleWriter) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("read ogg header %s: %w", path, err)
	}

	ticker := p.clock.Ticker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	pages := 0
	for {
		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if pages == 0 {
				return ErrEmptyMedia
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ogg page: %w", err)
		}

		// Opus granule positions count 48kHz samples.
		samples := float64(header.GranulePosition - lastGranule)
		lastGranule = header.GranulePosition

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := w.WriteSample(media.Sample{Data: page, Duration: time.Duration(samples / 48000 * float64(time.Second))}); err != nil {
			return fmt.Errorf("write audio sample: %w", err)
		}
		pages++
	}
}

// Local is the media one participant sends.
type Local struct {
	video, audio         *webrtc.TrackLocalStaticSample
	videoPath, audioPath string
}

// OpenLocal creates tracks for whichever of the two files is set. Headers are
// checked up front so a bad file fails before the call starts.
func OpenLocal(videoPath, audioPath, streamID string) (*Local, error) {
	l := &Local{videoPath: videoPath, audioPath: audioPath}
	if videoPath != "" {
		if err := probe(videoPath, checkIVF); err != nil {
			return nil, err
		}
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, fmt.Errorf("video track: %w", err)
		}
		l.video = track
	}
	if audioPath != "" {
		if err := probe(audioPath, checkOgg); err != nil {
			return nil, err
		}
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("audio track: %w", err)
		}
		l.audio = track
	}
	return l, nil
}

func checkIVF(r io.Reader) error {
	_, _, err := ivfreader.NewWith(r)
	return err
}

func checkOgg(r io.Reader) error {
	_, _, err := oggreader.NewWith(r)
	return err
}

func probe(path string, check func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	defer f.Close()
	if err := check(f); err != nil {
		return fmt.Errorf("media %s: %w", path, err)
	}
	return nil
}

// Tracks lists the local tracks; empty means receive-only.
func (l *Local) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	if l.video != nil {
		tracks = append(tracks, l.video)
	}
	if l.audio != nil {
		tracks = append(tracks, l.audio)
	}
	return tracks
}

// Play runs every track until ctx is cancelled.
func (l *Local) Play(ctx context.Context, p *Player) error {
	g, ctx := errgroup.WithContext(ctx)
	if l.video != nil {
		g.Go(func() error { return p.PlayIVF(ctx, l.videoPath, l.video) })
	}
	if l.audio != nil {
		g.Go(func() error { return p.PlayOgg(ctx, l.audioPath, l.audio) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
