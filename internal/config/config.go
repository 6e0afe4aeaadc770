package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string           `yaml:"env" env:"ENV" env-default:"prod"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	HTTP       HTTPConfig       `yaml:"http"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Journal    JournalConfig    `yaml:"journal"`
	Log        LogConfig        `yaml:"log"`
}

type GatewayConfig struct {
	URL              string        `yaml:"url" env:"GATEWAY_WS_URL" env-default:"ws://localhost:5580/ws"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"GATEWAY_HANDSHAKE_TIMEOUT" env-default:"10s"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout" env:"GATEWAY_FETCH_TIMEOUT" env-default:"10s"`
}

type HTTPConfig struct {
	Address string `yaml:"address" env:"HTTP_ADDRESS" env-default:":8000"`
}

type SupervisorConfig struct {
	Backoff          time.Duration `yaml:"backoff" env:"RECONNECT_BACKOFF" env-default:"10s"`
	LivenessInterval time.Duration `yaml:"liveness_interval" env:"LIVENESS_INTERVAL" env-default:"5s"`
}

type JournalConfig struct {
	Enabled bool          `yaml:"enabled" env:"JOURNAL_ENABLED" env-default:"false"`
	Path    string        `yaml:"path" env:"JOURNAL_PATH" env-default:"/var/lib/mattergate/journal.db"`
	MaxAge  time.Duration `yaml:"max_age" env:"JOURNAL_MAX_AGE" env-default:"24h"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// MustLoad reads configuration from the given yaml file, falling back to
// CONFIG_PATH. When no file is configured the config is built from
// environment variables alone, so the exporter is deployable without one.
func MustLoad(configPath string) *Config {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	var cfg Config

	if configPath == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			panic("failed to read config from environment: " + err.Error())
		}
		return &cfg
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file not found: " + configPath)
	}

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}

	return &cfg
}
