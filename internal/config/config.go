package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string       `mapstructure:"mode"`
	LogLevel string       `mapstructure:"log_level"`
	Server   ServerConfig `mapstructure:"server"`
	Client   ClientConfig `mapstructure:"client"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadLimit         int64         `mapstructure:"read_limit"`
	PingPeriod        time.Duration `mapstructure:"ping_period"`
	Secret            string        `mapstructure:"secret"`
	JWTSecret         string        `mapstructure:"jwt_secret"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
	DevTokens         bool          `mapstructure:"dev_tokens"`
	MaxParticipants   int           `mapstructure:"max_participants"`
	JoinRateLimit     int           `mapstructure:"join_rate_limit"`
	RoomJoinRateLimit int           `mapstructure:"room_join_rate_limit"`
	JoinRateWindow    time.Duration `mapstructure:"join_rate_window"`
	Store             string        `mapstructure:"store"`
	Redis             RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ClientConfig struct {
	URL               string        `mapstructure:"url"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	AckTimeout        time.Duration `mapstructure:"ack_timeout"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectBackoff  time.Duration `mapstructure:"reconnect_backoff"`
	PingPeriod        time.Duration `mapstructure:"ping_period"`
	MediaTimeout      time.Duration `mapstructure:"media_timeout"`
	ICEServers        []string      `mapstructure:"ice_servers"`
	Media             MediaConfig   `mapstructure:"media"`
}

type MediaConfig struct {
	Width            int     `mapstructure:"width"`
	Height           int     `mapstructure:"height"`
	FrameRate        float64 `mapstructure:"frame_rate"`
	SampleRate       int     `mapstructure:"sample_rate"`
	ChannelCount     int     `mapstructure:"channel_count"`
	EchoCancellation bool    `mapstructure:"echo_cancellation"`
	NoiseSuppression bool    `mapstructure:"noise_suppression"`
	Synthetic        bool    `mapstructure:"synthetic"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_limit", 32768)
	v.SetDefault("server.ping_period", "54s")
	v.SetDefault("server.secret", "chaincast-dev-cookie-secret")
	v.SetDefault("server.jwt_secret", "chaincast-dev-jwt-secret")
	v.SetDefault("server.token_ttl", "24h")
	v.SetDefault("server.dev_tokens", false)
	v.SetDefault("server.max_participants", 50)
	v.SetDefault("server.join_rate_limit", 10)
	v.SetDefault("server.room_join_rate_limit", 60)
	v.SetDefault("server.join_rate_window", "1m")
	v.SetDefault("server.store", "memory")
	v.SetDefault("server.redis.addr", "localhost:6379")
	v.SetDefault("server.redis.db", 0)

	v.SetDefault("client.url", "ws://localhost:8080/api/ws")
	v.SetDefault("client.handshake_timeout", "6s")
	v.SetDefault("client.ack_timeout", "5s")
	v.SetDefault("client.reconnect_attempts", 5)
	v.SetDefault("client.reconnect_backoff", "2s")
	v.SetDefault("client.ping_period", "25s")
	v.SetDefault("client.media_timeout", "30s")
	v.SetDefault("client.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("client.media.width", 1280)
	v.SetDefault("client.media.height", 720)
	v.SetDefault("client.media.frame_rate", 30.0)
	v.SetDefault("client.media.sample_rate", 48000)
	v.SetDefault("client.media.channel_count", 1)
	v.SetDefault("client.media.echo_cancellation", true)
	v.SetDefault("client.media.noise_suppression", true)
	v.SetDefault("client.media.synthetic", false)
}

// Default returns the built-in defaults without touching files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// defaults are static; a failure here is a programming error
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &cfg
}

// Load reads .env, config/config.<CONFIG_ENV>.yaml, CHAINCAST_* env vars and
// the given flags, in increasing priority. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("failed to read .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("CHAINCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Server.Port).Msg("config ready")
	return &cfg, nil
}

// flag name → config key
var flagKeys = map[string]string{
	"mode":      "mode",
	"log-level": "log_level",
	"port":      "server.port",
	"store":     "server.store",
	"url":       "client.url",
	"synthetic": "client.media.synthetic",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Client.HandshakeTimeout <= 0 {
		return fmt.Errorf("client.handshake_timeout must be positive")
	}
	if c.Client.ReconnectAttempts < 0 {
		return fmt.Errorf("client.reconnect_attempts must not be negative")
	}
	if c.Server.MaxParticipants <= 0 {
		return fmt.Errorf("server.max_participants must be positive")
	}
	switch c.Server.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("server.store: unknown store %q", c.Server.Store)
	}
	return nil
}
