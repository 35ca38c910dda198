package config

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides + flags)
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"server"`

	Engine struct {
		// MaxCampaigns caps interactive content displayed at once.
		// 0 disables interactive content, negative means unlimited.
		MaxCampaigns int               `mapstructure:"max_campaigns"`
		DeviceID     string            `mapstructure:"device_id"`
		Params       map[string]string `mapstructure:"params"`
		QueueSize    int               `mapstructure:"queue_size"`
	} `mapstructure:"engine"`

	Cache struct {
		Name        string `mapstructure:"name"`
		Version     int    `mapstructure:"version"`
		Capacity    int    `mapstructure:"capacity"`
		Persisted   bool   `mapstructure:"persisted"`
		Path        string `mapstructure:"path"`
		Compression string `mapstructure:"compression"`
	} `mapstructure:"cache"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	Spool struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"spool"`

	Feedback struct {
		Buffer int `mapstructure:"buffer"`
	} `mapstructure:"feedback"`
}

// Flags returns the command line flags Load understands.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("reach-engine", pflag.ContinueOnError)
	fs.String("config", "", "path to the YAML config file (default configs/application.yaml)")
	fs.String("log-level", "", "debug|info|warn|error")
	fs.String("addr", "", "HTTP listen address")
	return fs
}

// Load reads the config file, APP_* environment variables and the parsed
// flags, in increasing order of precedence. flags may be nil.
func Load(flags *pflag.FlagSet) Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")

	if flags != nil {
		if path, _ := flags.GetString("config"); path != "" {
			v.SetConfigFile(filepath.Clean(path))
		}
		_ = v.BindPFlag("server.log_level", flags.Lookup("log-level"))
		_ = v.BindPFlag("server.addr", flags.Lookup("addr"))
	}
	_ = v.ReadInConfig() // optional; env can fully configure

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only covers keys viper already knows about
	for _, key := range []string{
		"server.addr", "server.log_level",
		"engine.max_campaigns", "engine.device_id", "engine.queue_size",
		"cache.name", "cache.version", "cache.capacity", "cache.persisted", "cache.path", "cache.compression",
		"postgres.host", "postgres.port", "postgres.user", "postgres.password", "postgres.db_name",
		"postgres.ssl_mode", "postgres.max_open_conns", "postgres.max_idle_conns",
		"listener.channel", "listener.reconnect_seconds",
		"spool.dir", "feedback.buffer",
	} {
		_ = v.BindEnv(key)
	}
	v.SetDefault("engine.max_campaigns", 1)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	return cfg
}

func validate(c *Config) {
	if c.Server.Addr == "" { c.Server.Addr = ":8080" }
	if c.Engine.DeviceID == "" { c.Engine.DeviceID = uuid.NewString() }
	if c.Engine.QueueSize <= 0 { c.Engine.QueueSize = 256 }
	if c.Cache.Name == "" { c.Cache.Name = "reach-contents" }
	if c.Cache.Capacity <= 0 { c.Cache.Capacity = 64 }
	if c.Cache.Compression == "" { c.Cache.Compression = "none" }
	if c.Postgres.Port == 0 { c.Postgres.Port = 5432 }
	if c.Postgres.SSLMode == "" { c.Postgres.SSLMode = "disable" }
	if c.Postgres.MaxOpenConns == 0 { c.Postgres.MaxOpenConns = 10 }
	if c.Postgres.MaxIdleConns == 0 { c.Postgres.MaxIdleConns = 10 }
	if c.Listener.Channel == "" { c.Listener.Channel = "reach_payloads" }
	if c.Listener.ReconnectSeconds <= 0 { c.Listener.ReconnectSeconds = 5 }
	if c.Feedback.Buffer <= 0 { c.Feedback.Buffer = 128 }
}

// PostgresEnabled reports whether a Postgres host is configured.
func (c Config) PostgresEnabled() bool { return c.Postgres.Host != "" }

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

// DSNRedacted is DSN with the password masked, for logs and errors.
func (c Config) DSNRedacted() string {
	u := &url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.Postgres.Host, strconv.Itoa(c.Postgres.Port)),
		Path:     "/" + c.Postgres.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.Postgres.SSLMode),
	}
	if c.Postgres.User != "" {
		u.User = url.User(c.Postgres.User)
		if c.Postgres.Password != "" {
			u.User = url.UserPassword(c.Postgres.User, "xxxxx")
		}
	}
	return u.String()
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }
