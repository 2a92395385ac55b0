// Package config builds the immutable runtime configuration from an optional
// .env file, SMARTBIN_ environment variables, an optional smartbin.yaml and
// command line flags.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dukerupert/smartbin/internal/points"
)

const (
	BackendSupabase = "supabase"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Port     string         `mapstructure:"port"`
	BaseURL  string         `mapstructure:"base_url"`
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Supabase SupabaseConfig `mapstructure:"supabase"`
	Google   GoogleConfig   `mapstructure:"google"`
	Session  SessionConfig  `mapstructure:"session"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Points   PointsConfig   `mapstructure:"points"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Backend     string `mapstructure:"backend"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type SupabaseConfig struct {
	URL string `mapstructure:"url"`
	Key string `mapstructure:"key"`
}

type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
	Issuer       string `mapstructure:"issuer"`
}

// Enabled reports whether Google sign-in is configured.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

type SessionConfig struct {
	Secret  string        `mapstructure:"secret"`
	TTL     time.Duration `mapstructure:"ttl"`
	Backend string        `mapstructure:"backend"`
	// SecretGenerated is set when no secret was configured and a random one
	// was created for this process.
	SecretGenerated bool `mapstructure:"-"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MetricsConfig places the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type PointsConfig struct {
	PlasticBottle int `mapstructure:"plastic_bottle"`
	Can           int `mapstructure:"can"`
}

func (p PointsConfig) Policy() points.Policy {
	return points.Policy{PlasticBottle: p.PlasticBottle, Can: p.Can}
}

// SecureCookies reports whether the app is served over https.
func (c Config) SecureCookies() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

// NeedsRedis reports whether any component is configured to use Redis.
func (c Config) NeedsRedis() bool {
	return c.Session.Backend == BackendRedis
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "5000")
	v.SetDefault("base_url", "http://localhost:5000")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("store.backend", BackendSupabase)
	v.SetDefault("store.sqlite_path", "smartbin.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("supabase.url", "")
	v.SetDefault("supabase.key", "")
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.redirect_uri", "")
	v.SetDefault("google.issuer", "https://accounts.google.com")
	v.SetDefault("session.secret", "")
	v.SetDefault("session.ttl", 30*24*time.Hour)
	v.SetDefault("session.backend", BackendSQLite)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("points.plastic_bottle", points.DefaultPlasticBottle)
	v.SetDefault("points.can", points.DefaultCan)
	v.SetDefault("metrics.addr", "")
}

// Unprefixed names accepted alongside the SMARTBIN_ ones.
var legacyEnv = map[string]string{
	"supabase.url":         "SUPABASE_URL",
	"supabase.key":         "SUPABASE_KEY",
	"google.client_id":     "GOOGLE_CLIENT_ID",
	"google.client_secret": "GOOGLE_CLIENT_SECRET",
	"google.redirect_uri":  "GOOGLE_REDIRECT_URI",
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"port":         "port",
	"base-url":     "base_url",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"store":        "store.backend",
	"sqlite-path":  "store.sqlite_path",
	"metrics-addr": "metrics.addr",
}

// RegisterFlags defines the configuration flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a smartbin.yaml config file")
	flags.String("env-file", ".env", "path to a dotenv file (ignored when missing)")
	flags.String("port", "", "HTTP listen port")
	flags.String("base-url", "", "public base URL of the app")
	flags.String("log-level", "", "log level (debug|info|warn|error)")
	flags.String("log-format", "", "log format (text|json)")
	flags.String("store", "", "storage backend (supabase|sqlite|postgres)")
	flags.String("sqlite-path", "", "SQLite database path")
	flags.String("metrics-addr", "", "listen address for /metrics, e.g. 127.0.0.1:9090 (disabled when empty)")
}

// Load reads every source and returns a validated Config. flags may be nil.
func Load(flags *pflag.FlagSet) (Config, error) {
	envFile, configFile := ".env", ""
	if flags != nil {
		if f := flags.Lookup("env-file"); f != nil {
			envFile = f.Value.String()
		}
		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if err := loadDotenv(envFile); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SMARTBIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, name := range legacyEnv {
		envName := "SMARTBIN_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, name); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", name, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("smartbin")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// finish fills values derived from other keys.
func (c *Config) finish() error {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Session.Backend = strings.ToLower(strings.TrimSpace(c.Session.Backend))
	c.Log.Format = strings.ToLower(c.Log.Format)
	if c.Google.RedirectURI == "" {
		c.Google.RedirectURI = c.BaseURL + "/auth/google/callback"
	}
	if c.Session.Secret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return fmt.Errorf("generate session secret: %w", err)
		}
		c.Session.Secret = hex.EncodeToString(b)
		c.Session.SecretGenerated = true
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if n, err := strconv.Atoi(c.Port); err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base_url %q", c.BaseURL)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q (want text or json)", c.Log.Format)
	}

	switch c.Store.Backend {
	case BackendSupabase:
		if c.Supabase.URL == "" || c.Supabase.Key == "" {
			return errors.New("supabase.url and supabase.key are required for the supabase backend (set SMARTBIN_STORE_BACKEND=sqlite for local development)")
		}
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres backend")
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("invalid store.backend %q (want supabase, sqlite or postgres)", c.Store.Backend)
	}

	switch c.Session.Backend {
	case BackendSQLite:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis session backend")
		}
	default:
		return fmt.Errorf("invalid session.backend %q (want sqlite or redis)", c.Session.Backend)
	}
	if c.Session.Backend == BackendSQLite && c.Store.SQLitePath == "" {
		return errors.New("store.sqlite_path is required for sqlite sessions")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("invalid session.ttl %s", c.Session.TTL)
	}

	if c.Google.Enabled() {
		if u, err := url.Parse(c.Google.RedirectURI); err != nil || u.Scheme == "" {
			return fmt.Errorf("invalid google.redirect_uri %q", c.Google.RedirectURI)
		}
	}

	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return fmt.Errorf("invalid metrics.addr %q", c.Metrics.Addr)
		}
	}

	return c.Points.Policy().Validate()
}
