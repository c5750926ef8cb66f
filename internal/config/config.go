package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/proximity/internal/ice"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`
	SendBuffer int           `mapstructure:"send_buffer"`
	IntentRate RateConfig    `mapstructure:"intent_rate"`
	ICE        ICEConfig     `mapstructure:"ice"`
	Peer       PeerConfig    `mapstructure:"peer"`
}

type RateConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

type ICEConfig struct {
	Servers []ice.Server `mapstructure:"servers"`
}

// PeerConfig drives cmd/peer.
type PeerConfig struct {
	RelayURL        string        `mapstructure:"relay_url"`
	Room            string        `mapstructure:"room"`
	Nickname        string        `mapstructure:"nickname"`
	Color           string        `mapstructure:"color"`
	CallDistance    float64       `mapstructure:"call_distance"`
	CallDebounce    time.Duration `mapstructure:"call_debounce"`
	UpdateInterval  time.Duration `mapstructure:"update_interval"`
	BackoffInitial  time.Duration `mapstructure:"backoff_initial"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	BackoffErrorCap time.Duration `mapstructure:"backoff_error_cap"`
	ReconnectDelay  time.Duration `mapstructure:"reconnect_delay"`
	Video           bool          `mapstructure:"video"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("log_level", "info")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("intent_rate.limit", 20)
	v.SetDefault("intent_rate.interval", "10s")
	v.SetDefault("ice.servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})

	v.SetDefault("peer.relay_url", "http://localhost:8080")
	v.SetDefault("peer.room", "lobby")
	v.SetDefault("peer.nickname", "")
	v.SetDefault("peer.color", "")
	v.SetDefault("peer.call_distance", 200.0)
	v.SetDefault("peer.call_debounce", "500ms")
	v.SetDefault("peer.update_interval", "33ms")
	v.SetDefault("peer.backoff_initial", "100ms")
	v.SetDefault("peer.backoff_max", "10s")
	v.SetDefault("peer.backoff_error_cap", "1s")
	v.SetDefault("peer.reconnect_delay", "500ms")
	v.SetDefault("peer.video", false)
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName if it exists. PROX_ environment variables override
// both the file and the defaults.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("PROX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ICE.Servers = ice.Filter(cfg.ICE.Servers)
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("static", cfg.StaticPath).Int("ice", len(cfg.ICE.Servers)).Msg("config ready")
	return &cfg, nil
}
