package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates application configuration values.
type Config struct {
	Env      string
	HTTP     HTTPConfig
	Database DatabaseConfig
	Mpesa    MpesaConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Archive  ArchiveConfig
	Auth     AuthConfig
	Logging  LoggingConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestTimeout    time.Duration
	MaxBodyBytes      int64
	AllowedOriginsCSV string
	TrustedProxiesCSV string
	RateLimit         int
	RateWindow        time.Duration
	CallbackRateLimit int
	SlowRequest       time.Duration
}

// DatabaseConfig selects and configures the donation store.
// Driver is "mysql" (default) or "bolt".
type DatabaseConfig struct {
	Driver          string
	DSN             string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	Params          string
	TLS             string
	TLSVerify       bool
	TLSCAPath       string
	TLSClientCert   string
	TLSClientKey    string
	ConnectRetries  int
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingOnConnect   bool
	BoltPath        string
	SeedProjects    bool
	AutoMigrate     bool
}

// MpesaConfig holds the Daraja credentials and endpoints. Secrets have no
// defaults.
type MpesaConfig struct {
	BaseURL          string
	ConsumerKey      string
	ConsumerSecret   string
	ShortCode        string
	Passkey          string
	CallbackBaseURL  string
	CallbackPath     string
	TransactionType  string
	RegisterCallback bool
	Timeout          time.Duration
	TokenCacheKey    string

	// Comma separated provider addresses exempt from callback throttling.
	CallbackWhitelistCSV string
}

// RedisConfig is optional; an empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NATSConfig is optional; an empty URL disables event publishing.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// ArchiveConfig points at an S3-compatible bucket for raw callback payloads.
// An empty Bucket disables archiving.
type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// AuthConfig configures admin authentication.
type AuthConfig struct {
	JWTSecret     string
	JWTIssuer     string
	JWTAudience   string
	TokenTTL      time.Duration
	AdminEmail    string
	AdminPassword string
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 45 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultRequestTimeout  = 40 * time.Second
	defaultMpesaTimeout    = 30 * time.Second
	defaultMpesaBaseURL    = "https://sandbox.safaricom.co.ke"
	defaultCallbackPath    = "/api/mpesa/callback"
	defaultTokenTTL        = 6 * time.Hour
)

// Load reads configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Env: strings.ToLower(valueOrDefault("ENV", "development")),
		HTTP: HTTPConfig{
			Port:              valueOrDefault("PORT", defaultPort),
			ReadTimeout:       defaultReadTimeout,
			WriteTimeout:      defaultWriteTimeout,
			IdleTimeout:       defaultIdleTimeout,
			ShutdownTimeout:   defaultShutdownTimeout,
			RequestTimeout:    defaultRequestTimeout,
			MaxBodyBytes:      int64(parseIntWithDefault("MAX_BODY_BYTES", 1<<20)),
			AllowedOriginsCSV: os.Getenv("CORS_ALLOWED_ORIGINS"),
			TrustedProxiesCSV: os.Getenv("TRUSTED_PROXIES"),
			RateLimit:         parseIntWithDefault("RATE_IP_DEFAULT", 120),
			RateWindow:        time.Minute,
			CallbackRateLimit: parseIntWithDefault("RATE_CALLBACK", 300),
			SlowRequest:       2 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(valueOrDefault("DB_DRIVER", "mysql")),
			DSN:             os.Getenv("DB_DSN"),
			Host:            valueOrDefault("DB_HOST", "127.0.0.1"),
			Port:            valueOrDefault("DB_PORT", "3306"),
			User:            valueOrDefault("DB_USER", "root"),
			Password:        os.Getenv("DB_PASS"),
			Name:            valueOrDefault("DB_NAME", "donations"),
			Params:          valueOrDefault("DB_PARAMS", "charset=utf8mb4&parseTime=True&loc=UTC"),
			TLS:             valueOrDefault("DB_TLS", "preferred"),
			TLSVerify:       parseBoolWithDefault("DB_TLS_VERIFY", false),
			TLSCAPath:       os.Getenv("DB_TLS_CA_PATH"),
			TLSClientCert:   os.Getenv("DB_TLS_CLIENT_CERT"),
			TLSClientKey:    os.Getenv("DB_TLS_CLIENT_KEY"),
			ConnectRetries:  parseIntWithDefault("DB_CONNECT_RETRIES", 5),
			MaxOpenConns:    parseIntWithDefault("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseIntWithDefault("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: time.Duration(parseIntWithDefault("DB_CONN_MAX_LIFETIME", 3600)) * time.Second,
			PingOnConnect:   parseBoolWithDefault("DB_PING_ON_CONNECT", true),
			BoltPath:        valueOrDefault("BOLT_PATH", "donations.db"),
		},
		Mpesa: MpesaConfig{
			BaseURL:          valueOrDefault("MPESA_BASE_URL", defaultMpesaBaseURL),
			ConsumerKey:      os.Getenv("MPESA_CONSUMER_KEY"),
			ConsumerSecret:   os.Getenv("MPESA_CONSUMER_SECRET"),
			ShortCode:        os.Getenv("MPESA_SHORTCODE"),
			Passkey:          os.Getenv("MPESA_PASSKEY"),
			CallbackBaseURL:  os.Getenv("MPESA_CALLBACK_BASE_URL"),
			CallbackPath:     valueOrDefault("MPESA_CALLBACK_PATH", defaultCallbackPath),
			TransactionType:  valueOrDefault("MPESA_TRANSACTION_TYPE", "CustomerPayBillOnline"),
			RegisterCallback: parseBoolWithDefault("MPESA_REGISTER_CALLBACK", true),
			Timeout:          defaultMpesaTimeout,
			TokenCacheKey:    valueOrDefault("MPESA_TOKEN_CACHE_KEY", "mpesa:access_token"),

			CallbackWhitelistCSV: os.Getenv("MPESA_CALLBACK_WHITELIST"),
		},
		Redis: RedisConfig{
			Addr:     strings.ReplaceAll(os.Getenv("REDIS_ADDR"), " ", ""),
			Password: os.Getenv("REDIS_PASS"),
			DB:       parseIntWithDefault("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:           os.Getenv("NATS_URL"),
			SubjectPrefix: valueOrDefault("NATS_SUBJECT_PREFIX", "donations"),
		},
		Archive: ArchiveConfig{
			Bucket:          os.Getenv("ARCHIVE_BUCKET"),
			Region:          valueOrDefault("ARCHIVE_REGION", "auto"),
			Endpoint:        os.Getenv("ARCHIVE_ENDPOINT"),
			AccessKeyID:     os.Getenv("ARCHIVE_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("ARCHIVE_SECRET_ACCESS_KEY"),
			Prefix:          valueOrDefault("ARCHIVE_PREFIX", "mpesa-callbacks"),
		},
		Auth: AuthConfig{
			JWTSecret:     os.Getenv("JWT_SECRET"),
			JWTIssuer:     valueOrDefault("JWT_ISS", "fundraiser"),
			JWTAudience:   valueOrDefault("JWT_AUD", "fundraiser-admin"),
			TokenTTL:      defaultTokenTTL,
			AdminEmail:    os.Getenv("ADMIN_EMAIL"),
			AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		},
		Logging: LoggingConfig{
			Level:         valueOrDefault("LOG_LEVEL", "info"),
			Format:        valueOrDefault("LOG_FORMAT", "text"),
			IncludeCaller: parseBoolWithDefault("LOG_INCLUDE_CALLER", false),
		},
	}
	cfg.Database.SeedProjects = parseBoolWithDefault("DB_SEED_PROJECTS", cfg.Env == "development")
	cfg.Database.AutoMigrate = parseBoolWithDefault("DB_AUTO_MIGRATE", cfg.Env == "development")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", &cfg.HTTP.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout},
		{"REQ_TIMEOUT", &cfg.HTTP.RequestTimeout},
		{"MPESA_TIMEOUT", &cfg.Mpesa.Timeout},
		{"JWT_TTL", &cfg.Auth.TokenTTL},
		{"RATE_WINDOW", &cfg.HTTP.RateWindow},
		{"SLOW_REQUEST_THRESHOLD", &cfg.HTTP.SlowRequest},
	}
	for _, d := range durations {
		if err := parseDuration(d.key, d.dst); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	required := map[string]string{
		"MPESA_CONSUMER_KEY":      c.Mpesa.ConsumerKey,
		"MPESA_CONSUMER_SECRET":   c.Mpesa.ConsumerSecret,
		"MPESA_SHORTCODE":         c.Mpesa.ShortCode,
		"MPESA_PASSKEY":           c.Mpesa.Passkey,
		"MPESA_CALLBACK_BASE_URL": c.Mpesa.CallbackBaseURL,
		"JWT_SECRET":              c.Auth.JWTSecret,
	}
	if c.Database.Driver == "mysql" && c.Database.DSN == "" {
		required["DB_NAME"] = c.Database.Name
	}
	var missing []string
	for key, v := range required {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables not set: %s", strings.Join(sorted(missing), ", "))
	}
	switch c.Database.Driver {
	case "mysql", "bolt":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Mpesa.Timeout <= 0 {
		return errors.New("MPESA_TIMEOUT must be positive")
	}
	return nil
}

// CallbackURL is the absolute address the provider posts results to.
func (m MpesaConfig) CallbackURL() string {
	return strings.TrimRight(m.CallbackBaseURL, "/") + "/" + strings.TrimLeft(m.CallbackPath, "/")
}

// Development reports whether the process runs with ENV=development.
func (c Config) Development() bool {
	return c.Env == "development"
}

// AllowedOrigins splits the CORS origin list.
func (h HTTPConfig) AllowedOrigins() []string {
	return splitCSV(h.AllowedOriginsCSV)
}

// CallbackWhitelist splits the provider address list.
func (m MpesaConfig) CallbackWhitelist() []string {
	return splitCSV(m.CallbackWhitelistCSV)
}

// TrustedProxies splits the trusted proxy list.
func (h HTTPConfig) TrustedProxies() []string {
	return splitCSV(h.TrustedProxiesCSV)
}

func splitCSV(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sorted(in []string) []string {
	for i := 1; i < len(in); i++ {
		for j := i; j > 0 && in[j] < in[j-1]; j-- {
			in[j], in[j-1] = in[j-1], in[j]
		}
	}
	return in
}

func valueOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
