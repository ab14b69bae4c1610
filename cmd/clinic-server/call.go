package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/config"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/domain/telehealth"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/telehealth/call"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/telehealth/media"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/telehealth/peer"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/telehealth/quality"
)

type callOptions struct {
	url, room, peer, ticket string
	video, audio            string

	stun, turn, turnUser, turnCredential string
	udpMin, udpMax                       uint16

	maxRestarts     int
	qualityInterval time.Duration

	// Quality reports are posted to the API when all three are set.
	apiURL, token, session string
}

func callCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Take part in telehealth calls",
	}

	var opts callOptions
	joinCmd := &cobra.Command{
		Use:   "join",
		Short: "Join a telehealth room as a peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd.Context(), opts, newLogger(true))
		},
	}
	f := joinCmd.Flags()
	f.StringVar(&opts.url, "url", "ws://localhost:8000"+telehealth.SignalPath, "Signaling endpoint")
	f.StringVar(&opts.room, "room", "", "Room id")
	f.StringVar(&opts.peer, "peer", "", "Peer id the ticket was issued for")
	f.StringVar(&opts.ticket, "ticket", "", "Join ticket")
	f.StringVar(&opts.video, "video", "", "IVF (VP8) file to send")
	f.StringVar(&opts.audio, "audio", "", "Ogg (Opus) file to send")
	f.StringVar(&opts.stun, "stun", "stun:stun.l.google.com:19302", "Comma-separated STUN urls")
	f.StringVar(&opts.turn, "turn", "", "Comma-separated TURN urls")
	f.StringVar(&opts.turnUser, "turn-username", "", "TURN username")
	f.StringVar(&opts.turnCredential, "turn-credential", "", "TURN credential")
	f.Uint16Var(&opts.udpMin, "udp-port-min", 0, "Lowest local UDP port for ICE")
	f.Uint16Var(&opts.udpMax, "udp-port-max", 0, "Highest local UDP port for ICE")
	f.IntVar(&opts.maxRestarts, "ice-restarts", 3, "ICE restarts attempted after a failed connection")
	f.DurationVar(&opts.qualityInterval, "quality-interval", 2*time.Second, "How often connection stats are sampled")
	f.StringVar(&opts.apiURL, "api", "", "API base url for quality reports, e.g. http://localhost:8000/api/v1")
	f.StringVar(&opts.token, "token", "", "Bearer token for quality reports")
	f.StringVar(&opts.session, "session", "", "Telehealth session id for quality reports")
	for _, name := range []string{"room", "peer", "ticket"} {
		_ = joinCmd.MarkFlagRequired(name)
	}

	cmd.AddCommand(joinCmd)
	return cmd
}

func runCall(ctx context.Context, opts callOptions, logger zerolog.Logger) error {
	servers, err := config.ParseICEServers(opts.stun, opts.turn, opts.turnUser, opts.turnCredential)
	if err != nil {
		return err
	}
	api, err := peer.NewAPI(peer.Options{
		ICEServers: servers,
		UDPPortMin: opts.udpMin,
		UDPPortMax: opts.udpMax,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var local *media.Local
	if opts.video != "" || opts.audio != "" {
		if local, err = media.OpenLocal(opts.video, opts.audio, opts.peer); err != nil {
			return err
		}
	}

	cfg := call.Config{
		Endpoint:        opts.url,
		Ticket:          opts.ticket,
		RoomID:          opts.room,
		PeerID:          opts.peer,
		API:             api,
		ICEServers:      servers,
		MaxICERestarts:  opts.maxRestarts,
		QualityInterval: opts.qualityInterval,
		Media:           local,
		Logger:          logger,
		OnConnected: func(remote string) {
			logger.Info().Str("remote", remote).Msg("call connected")
		},
		OnSessionEnded: func(remote string) {
			logger.Info().Str("remote", remote).Msg("call ended, waiting for the next participant")
		},
	}

	reporter, err := newQualityReporter(opts)
	if err != nil {
		return err
	}
	cfg.OnQuality = func(remote string, r quality.Report) {
		logger.Info().Str("remote", remote).Str("bucket", string(r.Bucket)).
			Dur("rtt", r.Sample.RTT).Float64("loss", r.Sample.LossRatio()).Msg("call quality")
		if reporter != nil {
			if err := reporter.report(ctx, opts.peer, r); err != nil {
				logger.Warn().Err(err).Msg("post quality report")
			}
		}
	}

	return call.Run(ctx, cfg)
}

// qualityReporter posts quality readings to the session's REST endpoint.
type qualityReporter struct {
	endpoint string
	token    string
	client   *http.Client
}

func newQualityReporter(opts callOptions) (*qualityReporter, error) {
	if opts.apiURL == "" || opts.token == "" || opts.session == "" {
		return nil, nil
	}
	id, err := uuid.Parse(opts.session)
	if err != nil {
		return nil, fmt.Errorf("invalid --session: %w", err)
	}
	return &qualityReporter{
		endpoint: strings.TrimRight(opts.apiURL, "/") + "/telehealth/sessions/" + id.String() + "/quality",
		token:    opts.token,
		client:   &http.Client{Timeout: 5 * time.Second},
	}, nil
}

func (q *qualityReporter) report(ctx context.Context, peerID string, r quality.Report) error {
	body, err := json.Marshal(telehealth.QualityFromReport(peerID, r))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+q.token)
	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("quality report rejected: %s", resp.Status)
	}
	return nil
}

