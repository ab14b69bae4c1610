package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/config"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/domain/telehealth"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/telehealth/quality"
)

func TestResolveSigningKey_Configured(t *testing.T) {
	key, generated, err := resolveSigningKey("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if generated {
		t.Error("expected the configured key to be used")
	}
	if string(key) != "0123456789abcdef0123456789abcdef" {
		t.Errorf("unexpected key %q", key)
	}
}

func TestResolveSigningKey_Random(t *testing.T) {
	a, generated, err := resolveSigningKey("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !generated || len(a) != 32 {
		t.Fatalf("expected a generated 32-byte key, got %d bytes (generated=%v)", len(a), generated)
	}
	b, _, _ := resolveSigningKey("")
	if bytes.Equal(a, b) {
		t.Error("two random keys should differ")
	}
}

func TestCommandTree(t *testing.T) {
	tree := map[string][]string{
		"serve":   nil,
		"migrate": {"up", "status"},
		"clinic":  {"create", "list"},
		"call":    {"join"},
	}
	for _, c := range []*cobra.Command{serveCmd(), migrateCmd(), clinicCmd(), callCmd()} {
		subs, ok := tree[c.Name()]
		if !ok {
			t.Errorf("unexpected command %s", c.Name())
			continue
		}
		for _, sub := range subs {
			if found, _, err := c.Find([]string{sub}); err != nil || found.Name() != sub {
				t.Errorf("%s is missing subcommand %s", c.Name(), sub)
			}
		}
	}

	join, _, err := callCmd().Find([]string{"join"})
	if err != nil {
		t.Fatal(err)
	}
	for _, flag := range []string{"url", "room", "peer", "ticket", "video", "audio", "ice-restarts", "session"} {
		if join.Flags().Lookup(flag) == nil {
			t.Errorf("call join is missing --%s", flag)
		}
	}
	if got := join.Flags().Lookup("url").DefValue; got != "ws://localhost:8000"+telehealth.SignalPath {
		t.Errorf("unexpected default url %q", got)
	}

	create, _, err := clinicCmd().Find([]string{"create"})
	if err != nil {
		t.Fatal(err)
	}
	if err := create.RunE(create, nil); err == nil {
		t.Error("expected clinic create without --name to fail")
	}
	_ = create.Flags().Set("name", "bad-name")
	if err := create.RunE(create, nil); err == nil {
		t.Error("expected an invalid clinic name to fail")
	}
}

func TestClinicOrDefault(t *testing.T) {
	cfg := &config.Config{DefaultClinic: "main"}
	if got := clinicOrDefault("", cfg); got != "main" {
		t.Errorf("expected default clinic, got %q", got)
	}
	if got := clinicOrDefault("north", cfg); got != "north" {
		t.Errorf("expected explicit clinic, got %q", got)
	}
}

func TestQualityReporter_Optional(t *testing.T) {
	r, err := newQualityReporter(callOptions{apiURL: "http://x", token: "t"})
	if err != nil || r != nil {
		t.Errorf("expected no reporter without a session, got %v, %v", r, err)
	}
	if _, err := newQualityReporter(callOptions{apiURL: "http://x", token: "t", session: "nope"}); err == nil {
		t.Error("expected an invalid session id to fail")
	}
}

func TestQualityReporter_Posts(t *testing.T) {
	session := uuid.New()
	var (
		gotPath, gotAuth string
		gotBody          telehealth.QualityReport
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotAuth = r.URL.Path, r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		if gotBody.Bucket == "poor" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	rep, err := newQualityReporter(callOptions{apiURL: srv.URL + "/api/v1/", token: "tok", session: session.String()})
	if err != nil || rep == nil {
		t.Fatalf("expected a reporter, got %v", err)
	}

	report := quality.Report{
		Bucket: quality.Good,
		Sample: quality.Sample{HasPair: true, RTT: 200 * time.Millisecond, PacketsReceived: 100},
		At:     time.Date(2024, 7, 15, 9, 0, 0, 0, time.UTC),
	}
	if err := rep.report(context.Background(), "alice", report); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/v1/telehealth/sessions/"+session.String()+"/quality" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotBody.PeerID != "alice" || gotBody.Bucket != "good" || gotBody.RTTMs == nil || *gotBody.RTTMs != 200 {
		t.Errorf("unexpected body: %+v", gotBody)
	}

	report.Bucket = quality.Poor
	if err := rep.report(context.Background(), "alice", report); err == nil {
		t.Error("expected a rejected report to return an error")
	}
}

func TestRunCall_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()

	if err := runCall(ctx, callOptions{turn: "turn:t.example.com"}, logger); err == nil {
		t.Error("expected TURN without credentials to fail")
	}

	bogus := filepath.Join(t.TempDir(), "bogus.ivf")
	if err := os.WriteFile(bogus, []byte("not a video"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := runCall(ctx, callOptions{stun: "stun:stun.example.com", video: bogus, peer: "alice"}, logger); err == nil {
		t.Error("expected an unreadable video file to fail")
	}

	if err := runCall(ctx, callOptions{udpMin: 6000, udpMax: 5000}, logger); err == nil {
		t.Error("expected an inverted port range to fail")
	}
}
