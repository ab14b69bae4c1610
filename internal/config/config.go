package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultClinic string   `mapstructure:"DEFAULT_CLINIC"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`
	MigrationsDir string   `mapstructure:"MIGRATIONS_DIR"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	BlobDir        string        `mapstructure:"BLOB_DIR"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	UploadLimit    string        `mapstructure:"UPLOAD_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	ReminderLead     time.Duration `mapstructure:"REMINDER_LEAD"`
	ReminderInterval time.Duration `mapstructure:"REMINDER_INTERVAL"`
	QueueResetCron   string        `mapstructure:"QUEUE_RESET_CRON"`

	ICEServersJSON string `mapstructure:"ICE_SERVERS_JSON"`
	STUNURLs       string `mapstructure:"STUN_URLS"`
	TURNURLs       string `mapstructure:"TURN_URLS"`
	TURNUsername   string `mapstructure:"TURN_USERNAME"`
	TURNCredential string `mapstructure:"TURN_CREDENTIAL"`

	WebRTCUDPPortMin uint16 `mapstructure:"WEBRTC_UDP_PORT_MIN"`
	WebRTCUDPPortMax uint16 `mapstructure:"WEBRTC_UDP_PORT_MAX"`

	SignalingMaxMessageBytes   int64         `mapstructure:"SIGNALING_MAX_MESSAGE_BYTES"`
	SignalingMessagesPerSecond float64       `mapstructure:"SIGNALING_MESSAGES_PER_SECOND"`
	SignalingRoomCapacity      int           `mapstructure:"SIGNALING_ROOM_CAPACITY"`
	CallMaxICERestarts         int           `mapstructure:"CALL_MAX_ICE_RESTARTS"`
	CallQualityInterval        time.Duration `mapstructure:"CALL_QUALITY_INTERVAL"`

	// ICEServers is derived from the ICE_*/STUN_*/TURN_* keys during Load.
	ICEServers []webrtc.ICEServer `mapstructure:"-"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_CLINIC",
	"CORS_ORIGINS", "MIGRATIONS_DIR",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"BLOB_DIR", "BODY_LIMIT", "UPLOAD_LIMIT", "REQUEST_TIMEOUT",
	"REMINDER_LEAD", "REMINDER_INTERVAL", "QUEUE_RESET_CRON",
	"ICE_SERVERS_JSON", "STUN_URLS", "TURN_URLS", "TURN_USERNAME", "TURN_CREDENTIAL",
	"WEBRTC_UDP_PORT_MIN", "WEBRTC_UDP_PORT_MAX",
	"SIGNALING_MAX_MESSAGE_BYTES", "SIGNALING_MESSAGES_PER_SECOND", "SIGNALING_ROOM_CAPACITY",
	"CALL_MAX_ICE_RESTARTS", "CALL_QUALITY_INTERVAL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_CLINIC", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BLOB_DIR", "")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("UPLOAD_LIMIT", "101M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("REMINDER_LEAD", "24h")
	v.SetDefault("REMINDER_INTERVAL", "5m")
	v.SetDefault("QUEUE_RESET_CRON", "0 2 * * *")
	v.SetDefault("STUN_URLS", "stun:stun.l.google.com:19302")
	v.SetDefault("SIGNALING_MAX_MESSAGE_BYTES", 64*1024)
	v.SetDefault("SIGNALING_MESSAGES_PER_SECOND", 50)
	v.SetDefault("SIGNALING_ROOM_CAPACITY", 2)
	v.SetDefault("CALL_MAX_ICE_RESTARTS", 3)
	v.SetDefault("CALL_QUALITY_INTERVAL", "2s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = splitCommaSeparated(cfg.CORSOrigins[0])
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	iceServers, err := parseICEServersFromValues(cfg.ICEServersJSON, cfg.STUNURLs, cfg.TURNURLs, cfg.TURNUsername, cfg.TURNCredential)
	if err != nil {
		return nil, err
	}
	cfg.ICEServers = iceServers

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT signing key is mandatory, and the WebRTC and signaling limits must be
// usable.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters, got %d", len(c.AuthSigningKey))
	}

	if (c.WebRTCUDPPortMin == 0) != (c.WebRTCUDPPortMax == 0) {
		return fmt.Errorf("WEBRTC_UDP_PORT_MIN and WEBRTC_UDP_PORT_MAX must be set together")
	}
	if c.WebRTCUDPPortMin > c.WebRTCUDPPortMax {
		return fmt.Errorf("WEBRTC_UDP_PORT_MIN (%d) must be <= WEBRTC_UDP_PORT_MAX (%d)", c.WebRTCUDPPortMin, c.WebRTCUDPPortMax)
	}

	if c.SignalingMaxMessageBytes <= 0 {
		return fmt.Errorf("SIGNALING_MAX_MESSAGE_BYTES must be positive")
	}
	if c.SignalingMessagesPerSecond <= 0 {
		return fmt.Errorf("SIGNALING_MESSAGES_PER_SECOND must be positive")
	}
	if c.SignalingRoomCapacity < 2 {
		return fmt.Errorf("SIGNALING_ROOM_CAPACITY must be at least 2, got %d", c.SignalingRoomCapacity)
	}
	if c.CallMaxICERestarts < 0 {
		return fmt.Errorf("CALL_MAX_ICE_RESTARTS must not be negative")
	}
	if c.CallQualityInterval <= 0 {
		return fmt.Errorf("CALL_QUALITY_INTERVAL must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.ReminderInterval <= 0 || c.ReminderLead <= 0 {
		return fmt.Errorf("REMINDER_INTERVAL and REMINDER_LEAD must be positive")
	}

	for i, s := range c.ICEServers {
		if err := validateICEServer(s); err != nil {
			return fmt.Errorf("iceServers[%d]: %w", i, err)
		}
	}
	return nil
}
