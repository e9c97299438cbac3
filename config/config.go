package config

import (
	"bytes"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/MrEthical07/stackauth"
)

// Settings is everything stackauthd reads at start-up.
type Settings struct {
	Auth      stackauth.Config `koanf:"auth"`
	Server    ServerConfig     `koanf:"server"`
	Sessions  SessionsConfig   `koanf:"sessions"`
	Redis     RedisConfig      `koanf:"redis"`
	Postgres  PostgresConfig   `koanf:"postgres"`
	Log       LogConfig        `koanf:"log"`
	Telemetry TelemetryConfig  `koanf:"telemetry"`
}

// Session backends.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// SessionsConfig selects where session records live. Limiters always use
// Redis.
type SessionsConfig struct {
	Backend string `koanf:"backend"`
}

// ServerConfig configures the HTTP listener. Verification and reset tokens
// are appended to OutboxFile for delivery by an external mailer.
type ServerConfig struct {
	Addr                 string        `koanf:"addr"`
	MetricsPath          string        `koanf:"metrics_path"`
	TrustForwarded       bool          `koanf:"trust_forwarded"`
	ReadHeaderTimeout    time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout      time.Duration `koanf:"shutdown_timeout"`
	SessionPurgeInterval time.Duration `koanf:"session_purge_interval"`
	OutboxFile           string        `koanf:"outbox_file"`
}

// RedisConfig selects the session and limiter backend. Embedded starts an
// in-process miniredis instead of dialing Addr.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Embedded bool   `koanf:"embedded"`
}

// PostgresConfig points at the user directory database.
type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Metrics exporters.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
)

// TelemetryConfig chooses how engine metrics leave the process and whether
// spans are pushed. The prometheus exporter serves Server.MetricsPath; otlp
// pushes to OTLPEndpoint every ExportInterval, as do traces.
type TelemetryConfig struct {
	MetricsExporter string        `koanf:"metrics_exporter"`
	OTLPEndpoint    string        `koanf:"otlp_endpoint"`
	OTLPInsecure    bool          `koanf:"otlp_insecure"`
	ExportInterval  time.Duration `koanf:"export_interval"`
	Traces          bool          `koanf:"traces"`
}

// Defaults returns settings for a local deployment. Auth.JWT.Secret is
// left empty.
func Defaults() Settings {
	return Settings{
		Auth: stackauth.DefaultConfig(),
		Server: ServerConfig{
			Addr:                 ":8080",
			MetricsPath:          "/metrics",
			ReadHeaderTimeout:    10 * time.Second,
			ShutdownTimeout:      10 * time.Second,
			SessionPurgeInterval: time.Hour,
		},
		Sessions: SessionsConfig{Backend: BackendRedis},
		Redis:    RedisConfig{Addr: "127.0.0.1:6379"},
		Log:      LogConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			MetricsExporter: ExporterPrometheus,
			OTLPEndpoint:    "127.0.0.1:4317",
			ExportInterval:  time.Minute,
		},
	}
}

const secretFileKey = "auth.jwt.secret_file"

// flagKeys maps flag names onto koanf keys.
var flagKeys = map[string]string{
	"listen":             "server.addr",
	"trust-forwarded":    "server.trust_forwarded",
	"redis-addr":         "redis.addr",
	"embedded-redis":     "redis.embedded",
	"postgres-dsn":       "postgres.dsn",
	"log-level":          "log.level",
	"log-format":         "log.format",
	"jwt-secret-file":    secretFileKey,
	"jwt-issuer":         "auth.jwt.issuer",
	"jwt-audience":       "auth.jwt.audience",
	"access-ttl":         "auth.jwt.access_ttl",
	"metrics":            "auth.metrics.enabled",
	"audit":              "auth.audit.enabled",
	"login-max":          "auth.ratelimit.login.max",
	"login-window":       "auth.ratelimit.login.window",
	"session-key-prefix": "auth.session.redis_prefix",
	"session-backend":    "sessions.backend",
	"outbox-file":        "server.outbox_file",
	"metrics-exporter":   "telemetry.metrics_exporter",
	"otlp-endpoint":      "telemetry.otlp_endpoint",
	"otlp-insecure":      "telemetry.otlp_insecure",
	"traces":             "telemetry.traces",
}

// RegisterFlags defines every overridable setting on fs. Only flags the
// user sets take effect; the defaults shown in help come from Defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("listen", d.Server.Addr, "HTTP listen address")
	fs.Bool("trust-forwarded", false, "take the client IP from X-Forwarded-For")
	fs.String("redis-addr", d.Redis.Addr, "Redis address for sessions and limiters")
	fs.Bool("embedded-redis", false, "run an in-process Redis instead of dialing --redis-addr")
	fs.String("postgres-dsn", "", "PostgreSQL connection string")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "log format (json or console)")
	fs.String("jwt-secret-file", "", "file holding the HMAC signing secret")
	fs.String("jwt-issuer", d.Auth.JWT.Issuer, "token issuer")
	fs.String("jwt-audience", d.Auth.JWT.Audience, "token audience")
	fs.Duration("access-ttl", d.Auth.JWT.AccessTTL, "access token lifetime")
	fs.Bool("metrics", false, "enable in-process metrics")
	fs.Bool("audit", d.Auth.Audit.Enabled, "emit audit events")
	fs.Int("login-max", d.Auth.RateLimit.Login.Max, "login attempts per window")
	fs.Duration("login-window", d.Auth.RateLimit.Login.Window, "login attempt window")
	fs.String("session-key-prefix", d.Auth.Session.RedisPrefix, "Redis key prefix for sessions")
	fs.String("session-backend", d.Sessions.Backend, "session store (redis or postgres)")
	fs.String("outbox-file", "", "append verification and reset tokens to this file")
	fs.String("metrics-exporter", d.Telemetry.MetricsExporter, "where metrics go (prometheus or otlp)")
	fs.String("otlp-endpoint", d.Telemetry.OTLPEndpoint, "OTLP/gRPC collector address")
	fs.Bool("otlp-insecure", false, "dial the OTLP collector without TLS")
	fs.Bool("traces", false, "push spans to the OTLP collector")
}

// RegisterDatabaseFlags defines the flags read by LoadDatabase.
func RegisterDatabaseFlags(fs *pflag.FlagSet) {
	fs.String("postgres-dsn", "", "PostgreSQL connection string")
}

// Load merges defaults, the YAML file at path (skipped when empty) and the
// explicitly set flags in fs (nil allowed), then reads the secret and
// validates the engine configuration.
func Load(path string, fs *pflag.FlagSet) (Settings, error) {
	k, err := load(path, fs)
	if err != nil {
		return Settings{}, err
	}

	settings := Defaults()
	if err := k.Unmarshal("", &settings); err != nil {
		return Settings{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}

	secret, err := readSecret(k.String(secretFileKey))
	if err != nil {
		return Settings{}, err
	}
	settings.Auth.JWT.Secret = secret

	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// LoadDatabase reads only the postgres section, for commands that never
// sign tokens.
func LoadDatabase(path string, fs *pflag.FlagSet) (PostgresConfig, error) {
	k, err := load(path, fs)
	if err != nil {
		return PostgresConfig{}, err
	}

	var pg PostgresConfig
	if err := k.Unmarshal("postgres", &pg); err != nil {
		return PostgresConfig{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if strings.TrimSpace(pg.DSN) == "" {
		return PostgresConfig{}, oops.Code("CONFIG_INVALID").Errorf("postgres.dsn is required")
	}
	return pg, nil
}

func load(path string, fs *pflag.FlagSet) (*koanf.Koanf, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}
	return k, nil
}

// Validate checks the server settings and the engine configuration.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Server.Addr) == "" {
		return oops.Code("CONFIG_INVALID").Errorf("server.addr is required")
	}
	if s.Server.ShutdownTimeout <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("server.shutdown_timeout must be > 0")
	}
	if !s.Redis.Embedded && strings.TrimSpace(s.Redis.Addr) == "" {
		return oops.Code("CONFIG_INVALID").Errorf("redis.addr is required unless redis.embedded is set")
	}
	switch s.Sessions.Backend {
	case BackendRedis, BackendPostgres:
	default:
		return oops.Code("CONFIG_INVALID").Errorf("sessions.backend must be redis or postgres, got %q", s.Sessions.Backend)
	}
	if s.Sessions.Backend == BackendPostgres && s.Server.SessionPurgeInterval <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("server.session_purge_interval must be > 0")
	}
	switch s.Log.Format {
	case "json", "console":
	default:
		return oops.Code("CONFIG_INVALID").Errorf("log.format must be json or console, got %q", s.Log.Format)
	}
	switch s.Telemetry.MetricsExporter {
	case ExporterPrometheus, ExporterOTLP:
	default:
		return oops.Code("CONFIG_INVALID").Errorf("telemetry.metrics_exporter must be prometheus or otlp, got %q", s.Telemetry.MetricsExporter)
	}
	if s.Telemetry.PushesOTLP(s.Auth.Metrics.Enabled) {
		if strings.TrimSpace(s.Telemetry.OTLPEndpoint) == "" {
			return oops.Code("CONFIG_INVALID").Errorf("telemetry.otlp_endpoint is required for otlp metrics or traces")
		}
		if s.Telemetry.ExportInterval <= 0 {
			return oops.Code("CONFIG_INVALID").Errorf("telemetry.export_interval must be > 0")
		}
	}
	if err := s.Auth.Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return nil
}

// PushesOTLP reports whether anything is sent to the collector, given
// whether engine metrics are enabled at all.
func (t TelemetryConfig) PushesOTLP(metricsEnabled bool) bool {
	return t.Traces || (metricsEnabled && t.MetricsExporter == ExporterOTLP)
}

func readSecret(path string) ([]byte, error) {
	if path == "" {
		return nil, oops.Code("CONFIG_SECRET_MISSING").Errorf("%s is required", secretFileKey)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Code("CONFIG_SECRET_MISSING").With("path", path).Wrap(err)
	}
	return bytes.TrimSpace(raw), nil
}
