package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`

	Store        StoreConfig        `mapstructure:"store"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Session      SessionConfig      `mapstructure:"session"`
	Contribution ContributionConfig `mapstructure:"contribution"`
	Signal       SignalConfig       `mapstructure:"signal"`
	CORS         CORSConfig         `mapstructure:"cors"`
	RTC          RTCConfig          `mapstructure:"rtc"`
	Client       ClientConfig       `mapstructure:"client"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret    string `mapstructure:"jwt_secret"`
	CookieSecret string `mapstructure:"cookie_secret"`
}

type SessionConfig struct {
	CookieName string `mapstructure:"cookie_name"`
}

type ContributionConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// SignalConfig bounds inbound events per connection and how many outbound
// overflows a connection survives per window.
type SignalConfig struct {
	Rate                float64       `mapstructure:"rate"`
	Burst               int           `mapstructure:"burst"`
	BackpressureStrikes int           `mapstructure:"backpressure_strikes"`
	BackpressureWindow  time.Duration `mapstructure:"backpressure_window"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RTCConfig struct {
	ICEServers []string `mapstructure:"ice_servers"`
	MaxBitrate uint64   `mapstructure:"max_bitrate"`
}

// ClientConfig drives cmd/voicebot.
type ClientConfig struct {
	URL       string  `mapstructure:"url"`
	Token     string  `mapstructure:"token"`
	ServerID  string  `mapstructure:"server_id"`
	ChannelID string  `mapstructure:"channel_id"`
	Volume    float64 `mapstructure:"volume"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.cookie_secret", "change-me")
	v.SetDefault("session.cookie_name", "chorus_session")
	v.SetDefault("contribution.interval", "10s")
	v.SetDefault("signal.rate", 20)
	v.SetDefault("signal.burst", 40)
	v.SetDefault("signal.backpressure_strikes", 3)
	v.SetDefault("signal.backpressure_window", "30s")
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("rtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("rtc.max_bitrate", 96000)
	v.SetDefault("client.url", "ws://localhost:8080/api/ws")
	v.SetDefault("client.volume", 1.0)
}

// Load reads .env, config/config.<CONFIG_ENV>.yaml and CHORUS_* variables,
// later sources winning.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("module", "config").Msg("read .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvPrefix("CHORUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("store", cfg.Store.Driver).
		Msg("config ready")
	return &cfg, nil
}
