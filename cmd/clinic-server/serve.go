package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/config"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/domain/appointment"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/domain/billing"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/domain/consent"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/domain/document"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/domain/emr"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/domain/patient"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/domain/queue"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/domain/telehealth"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/auth"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/blobstore"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/middleware"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/notification"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/scheduler"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/websocket"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/telehealth/signaling"
)

const shutdownTimeout = 10 * time.Second

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// resolveSigningKey returns the configured key, or a random 32-byte key when
// none is set. The second value reports whether the key was generated.
func resolveSigningKey(configured string) ([]byte, bool, error) {
	if configured != "" {
		return []byte(configured), false, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("generate signing key: %w", err)
	}
	return key, true, nil
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.IsDev())
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	key, generated, err := resolveSigningKey(cfg.AuthSigningKey)
	if err != nil {
		return err
	}
	if generated {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set; using a random key, tokens will not survive a restart")
	}
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: key,
		Skipper:    auth.AuthSkipper,
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	blobs, err := newBlobStore(cfg.BlobDir)
	if err != nil {
		return err
	}

	hub := websocket.NewHub(logger)
	relay := signaling.NewRelay(cfg.SignalingRoomCapacity, logger)

	e := newEcho(cfg, logger, jwtCfg)
	apiV1 := e.Group("/api/v1", db.ClinicMiddleware(pool, cfg.DefaultClinic))
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	sched, err := scheduler.New(pool, logger)
	if err != nil {
		return err
	}
	svcs := wireDomain(cfg, pool, logger, jwtCfg, hub, blobs)
	relay.SetObserver(telehealth.NewRoomObserver(svcs.telehealth, telehealth.PoolScope(pool), logger))
	if err := scheduleJobs(sched, cfg, svcs); err != nil {
		return err
	}

	for _, r := range svcs.routes {
		r.RegisterRoutes(apiV1)
	}
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	// Signaling authenticates with its own ticket, so it sits outside the
	// clinic middleware.
	signalGroup := e.Group("/api/v1")
	signaling.NewHandler(relay, jwtCfg, signaling.Limits{
		MaxMessageBytes:   cfg.SignalingMaxMessageBytes,
		MessagesPerSecond: cfg.SignalingMessagesPerSecond,
	}, cfg.CORSOrigins, logger).RegisterRoutes(signalGroup)

	e.GET("/health", db.LivenessHandler(time.Now()))
	e.GET("/health/db", db.HealthHandler(pool))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		logger.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(e.Shutdown(shutdownCtx), sched.Shutdown())
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newBlobStore(dir string) (blobstore.Store, error) {
	if dir == "" {
		return blobstore.NewMemoryStore(), nil
	}
	return blobstore.NewFileStore(dir)
}

func newEcho(cfg *config.Config, logger zerolog.Logger, jwtCfg auth.JWTConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Clinic-ID"},
	}))
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}
	e.Use(middleware.Audit(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	return e
}

type routeRegistrar interface {
	RegisterRoutes(api *echo.Group)
}

type services struct {
	appointments *appointment.Service
	queue        *queue.Service
	telehealth   *telehealth.Service
	routes       []routeRegistrar
}

func wireDomain(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger, jwtCfg auth.JWTConfig, hub *websocket.Hub, blobs blobstore.Store) *services {
	notifier := notification.NewManager(notification.NewTemplateEngine(), map[notification.Channel]notification.Sender{
		notification.ChannelEmail: notification.LogSender{Logger: logger},
		notification.ChannelSMS:   notification.LogSender{Logger: logger},
	}, logger)

	patientSvc := patient.NewService(patient.NewRepoPG(pool), nil)
	consentSvc := consent.NewService(consent.NewRepoPG(pool), nil)

	telehealthSvc := telehealth.NewService(telehealth.NewRepoPG(pool),
		telehealth.WithConsent(consentSvc),
		telehealth.WithPublisher(hub),
		telehealth.WithLinkNotifications(patientSvc, notifier),
		telehealth.WithTickets(jwtCfg, telehealth.DefaultTicketTTL),
		telehealth.WithICEServers(cfg.ICEServers),
		telehealth.WithLogger(logger),
	)
	appointmentSvc := appointment.NewService(appointment.NewRepoPG(pool),
		appointment.WithSessions(telehealthSvc),
		appointment.WithNotifier(notifier),
		appointment.WithPublisher(hub),
		appointment.WithLogger(logger),
	)
	queueSvc := queue.NewService(queue.NewRepoPG(pool),
		queue.WithPublisher(hub),
		queue.WithLogger(logger),
	)
	billingSvc := billing.NewService(billing.NewInvoiceRepoPG(pool), billing.NewPriceListRepoPG(pool), nil, logger).
		WithIssueNotifications(patientSvc, notifier)
	emrSvc := emr.NewService(
		emr.NewNoteRepoPG(pool),
		emr.NewVitalsRepoPG(pool),
		emr.NewMedicationRepoPG(pool),
		emr.NewAllergyRepoPG(pool),
		nil,
	)
	documentSvc := document.NewService(document.NewRepoPG(pool), blobs, logger)

	return &services{
		appointments: appointmentSvc,
		queue:        queueSvc,
		telehealth:   telehealthSvc,
		routes: []routeRegistrar{
			patient.NewHandler(patientSvc),
			appointment.NewHandler(appointmentSvc),
			emr.NewHandler(emrSvc),
			billing.NewHandler(billingSvc),
			queue.NewHandler(queueSvc),
			consent.NewHandler(consentSvc),
			document.NewHandler(documentSvc),
			telehealth.NewHandler(telehealthSvc),
			notification.NewHandler(notifier),
		},
	}
}

func scheduleJobs(sched *scheduler.Scheduler, cfg *config.Config, svcs *services) error {
	if err := sched.Every("appointment-reminders", cfg.ReminderInterval, func(ctx context.Context) error {
		_, err := svcs.appointments.SendReminders(ctx, cfg.ReminderLead)
		return err
	}); err != nil {
		return err
	}
	return sched.Cron("queue-reset", cfg.QueueResetCron, func(ctx context.Context) error {
		_, err := svcs.queue.ResetStale(ctx)
		return err
	})
}
