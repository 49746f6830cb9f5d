package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Game     GameConfig     `mapstructure:"game"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	// AgentAddress is where agents connect.
	AgentAddress string `mapstructure:"agent_address"`
	// Transport is "websocket" or "tcp".
	Transport      string `mapstructure:"transport"`
	RPCAddress     string `mapstructure:"rpc_address"`
	HealthAddress  string `mapstructure:"health_address"`
	MetricsAddress string `mapstructure:"metrics_address"`
}

type GameConfig struct {
	// Players selects one of the fixed role distributions.
	Players int `mapstructure:"players"`
	// WinRule is "side" or "total".
	WinRule      string        `mapstructure:"win_rule"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type TimeoutConfig struct {
	Handshake time.Duration `mapstructure:"handshake"`
	Action    time.Duration `mapstructure:"action"`
	Speech    time.Duration `mapstructure:"speech"`
	Notify    time.Duration `mapstructure:"notify"`
}

type RecorderConfig struct {
	Dir string `mapstructure:"dir"`
}

type DatabaseConfig struct {
	// Driver is "", "memory", "gorm" or "pq". Empty disables persistence.
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

var ErrInvalidConfig = errors.New("invalid config")

// Defaults registers a default for every key so env overrides work without a file.
func Defaults(v *viper.Viper) {
	v.SetDefault("server.agent_address", "0.0.0.0:1999")
	v.SetDefault("server.transport", "websocket")
	v.SetDefault("server.rpc_address", "127.0.0.1:2000")
	v.SetDefault("server.health_address", "127.0.0.1:2001")
	v.SetDefault("server.metrics_address", "127.0.0.1:2112")
	v.SetDefault("game.players", 6)
	v.SetDefault("game.win_rule", "side")
	v.SetDefault("game.poll_interval", time.Second)
	v.SetDefault("timeouts.handshake", 5*time.Second)
	v.SetDefault("timeouts.action", 30*time.Second)
	v.SetDefault("timeouts.speech", 60*time.Second)
	v.SetDefault("timeouts.notify", 10*time.Second)
	v.SetDefault("recorder.dir", "replays")
	v.SetDefault("database.driver", "")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "werewolf")
	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from path. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	return Load(viper.New(), path)
}

func Load(v *viper.Viper, path string) (*Config, error) {
	Defaults(v)
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("werewolf")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Server.Transport {
	case "websocket", "tcp":
	default:
		return errors.Join(ErrInvalidConfig, errors.New("server.transport must be websocket or tcp"))
	}
	switch c.Game.WinRule {
	case "side", "total":
	default:
		return errors.Join(ErrInvalidConfig, errors.New("game.win_rule must be side or total"))
	}
	switch c.Database.Driver {
	case "", "memory", "gorm", "pq":
	default:
		return errors.Join(ErrInvalidConfig, errors.New("database.driver must be empty, memory, gorm or pq"))
	}
	if c.Timeouts.Handshake <= 0 || c.Timeouts.Action <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("timeouts must be positive"))
	}
	return nil
}
