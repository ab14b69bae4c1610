package peer

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

func TestLoggerFactory_ScopesAndLevels(t *testing.T) {
	var buf bytes.Buffer
	f := loggerFactory{zerolog.New(&buf).Level(zerolog.DebugLevel)}

	ice := f.NewLogger("ice")
	ice.Tracef("dropped %d", 1)
	ice.Warnf("pair %s failed", "a:b")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected exactly one log line, got %q: %v", buf.String(), err)
	}
	if entry["pion"] != "ice" || entry["level"] != "warn" || entry["message"] != "pair a:b failed" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestNewAPI_RejectsInvertedPortRange(t *testing.T) {
	if _, err := NewAPI(Options{UDPPortMin: 50000, UDPPortMax: 40000, Logger: zerolog.Nop()}); err == nil {
		t.Fatal("expected error for inverted port range")
	}
	if _, err := NewAPI(Options{UDPPortMin: 40000, UDPPortMax: 40100, Logger: zerolog.Nop()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPeer_ReceiveOnly(t *testing.T) {
	api, err := NewAPI(Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(api, nil, Callbacks{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.ReceiveOnly(); err != nil {
		t.Fatal(err)
	}
	trs := p.Connection().GetTransceivers()
	if len(trs) != 2 {
		t.Fatalf("expected audio and video transceivers, got %d", len(trs))
	}
	for _, tr := range trs {
		if tr.Direction() != webrtc.RTPTransceiverDirectionRecvonly {
			t.Errorf("%s transceiver is %s", tr.Kind(), tr.Direction())
		}
	}

	offer, err := p.Connection().CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains([]byte(offer.SDP), []byte("VP8")) || !bytes.Contains([]byte(offer.SDP), []byte("opus")) {
		t.Error("expected offer to carry VP8 and opus")
	}
}

func TestPeer_AddTracks(t *testing.T) {
	api, err := NewAPI(Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(api, nil, Callbacks{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "clinic")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.AddTracks(video); err != nil {
		t.Fatal(err)
	}
	if got := len(p.Connection().GetSenders()); got != 1 {
		t.Errorf("expected one sender, got %d", got)
	}

	// Close must return once the RTCP reader sees the sender stop.
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal("second close should be a no-op")
	}
}
