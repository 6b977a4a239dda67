package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "RELAY"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Relay     RelayConfig
	Redis     RedisConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address        string
	SocketPath     string   `mapstructure:"socketPath"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
	// Only the header read is bounded; upgraded connections live on.
	ReadHeaderTimeout time.Duration `mapstructure:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdownTimeout"`
}

type TransportConfig struct {
	SendBuffer int           `mapstructure:"sendBuffer"`
	ReadLimit  int64         `mapstructure:"readLimit"`
	PingPeriod time.Duration `mapstructure:"pingPeriod"`
	WriteWait  time.Duration `mapstructure:"writeWait"`
}

type RelayConfig struct {
	AdminRoom        string   `mapstructure:"adminRoom"`
	PrivilegedRoles  []string `mapstructure:"privilegedRoles"`
	DuplicateSession string   `mapstructure:"duplicateSession"` // "keep" or "cycle"
}

// RedisConfig enables the presence mirror when Addr is set.
type RedisConfig struct {
	Addr            string
	Password        string
	DB              int    `mapstructure:"db"`
	PresenceKey     string `mapstructure:"presenceKey"`
	PresenceChannel string `mapstructure:"presenceChannel"`
}

type LogConfig struct {
	Level string
}

var (
	ErrInvalidDuplicateSession = errors.New("relay.duplicateSession must be keep or cycle")
	ErrInvalidLogLevel         = errors.New("log.level must be debug, info, warn or error")
	ErrInvalidValue            = errors.New("invalid configuration value")
)

// Flags returns the command-line flags Load understands.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	fs.String("config", "", "path to a relay config file (yaml)")
	fs.String("address", "", "listen address, e.g. :8080")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.StringSlice("allowed-origins", nil, "origins allowed to open websocket connections")
	fs.String("redis-addr", "", "redis address for the presence mirror (empty disables it)")
	return fs
}

// Load reads configuration from defaults, a .env file, a yaml config file,
// environment variables and flags, in increasing order of precedence.
func Load(logger *slog.Logger, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	v := viper.New()

	v.SetDefault("server.socketPath", "/ws")
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.readHeaderTimeout", "15s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("transport.sendBuffer", 1024)
	v.SetDefault("transport.readLimit", 64<<10)
	v.SetDefault("transport.pingPeriod", "15s")
	v.SetDefault("transport.writeWait", "5s")
	v.SetDefault("relay.adminRoom", "admin_room")
	v.SetDefault("relay.privilegedRoles", []string{"super_admin", "admin", "moderator", "support"})
	v.SetDefault("relay.duplicateSession", "keep")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.presenceKey", "relay:presence")
	v.SetDefault("redis.presenceChannel", "relay:presence:events")
	v.SetDefault("log.level", "info")

	v.SetConfigName("relay")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// server.address has no default (PORT fills it in below), so viper has to
	// be told about its env var explicitly.
	if err := v.BindEnv("server.address"); err != nil {
		return nil, err
	}

	if flags != nil {
		for key, flag := range map[string]string{
			"server.address":        "address",
			"log.level":             "log-level",
			"server.allowedOrigins": "allowed-origins",
			"redis.addr":            "redis-addr",
		} {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		logger.Debug("config file not found, relying on defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	// PORT is the conventional platform variable; an explicit address wins.
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
		if port := os.Getenv("PORT"); port != "" {
			cfg.Server.Address = ":" + port
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the relay cannot run with.
func (c *Config) Validate() error {
	switch c.Relay.DuplicateSession {
	case "keep", "cycle":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDuplicateSession, c.Relay.DuplicateSession)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Relay.AdminRoom == "" {
		return fmt.Errorf("%w: relay.adminRoom is empty", ErrInvalidValue)
	}
	if !strings.HasPrefix(c.Server.SocketPath, "/") {
		return fmt.Errorf("%w: server.socketPath %q must start with /", ErrInvalidValue, c.Server.SocketPath)
	}
	if c.Transport.SendBuffer <= 0 {
		return fmt.Errorf("%w: transport.sendBuffer must be positive", ErrInvalidValue)
	}
	if c.Transport.PingPeriod <= 0 || c.Transport.WriteWait <= 0 {
		return fmt.Errorf("%w: transport.pingPeriod and transport.writeWait must be positive", ErrInvalidValue)
	}
	return nil
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, s)
}
