package server

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/sekia-ai/primbus/internal/logging"
	"github.com/sekia-ai/primbus/internal/natsserver"
	"github.com/sekia-ai/primbus/internal/secrets"
	"github.com/sekia-ai/primbus/pkg/sockpath"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Security  SecurityConfig  `mapstructure:"security"`
	Behaviors BehaviorsConfig `mapstructure:"behaviors"`
	Web       WebConfig       `mapstructure:"web"`
	Log       logging.Config  `mapstructure:"log"`
}

// SecurityConfig holds application-level security settings.
type SecurityConfig struct {
	CommandSecret string `mapstructure:"command_secret"`
}

// ServerConfig holds API socket settings.
type ServerConfig struct {
	Socket string `mapstructure:"socket"`
}

// NATSConfig holds embedded NATS settings. An empty Host keeps the bus
// in-process; robots on other hosts need Host and Port set. Token and Robots
// are alternative ways to lock the bus down.
type NATSConfig struct {
	DataDir string                    `mapstructure:"data_dir"`
	Host    string                    `mapstructure:"host"`
	Port    int                       `mapstructure:"port"`
	Token   string                    `mapstructure:"token"`
	Robots  []natsserver.RobotAccount `mapstructure:"robots"`
}

// JournalConfig bounds the JetStream primitive history.
type JournalConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	MaxMsgs    int64         `mapstructure:"max_msgs"`
	MaxAge     time.Duration `mapstructure:"max_age"`
	Duplicates time.Duration `mapstructure:"duplicates"`
}

// BehaviorsConfig controls the Lua behavior engine.
type BehaviorsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Dir             string        `mapstructure:"dir"`
	HandlerTimeout  time.Duration `mapstructure:"handler_timeout"`
	HotReload       bool          `mapstructure:"hot_reload"`
	VerifyIntegrity bool          `mapstructure:"verify_integrity"`
}

// WebConfig holds the dashboard listener. An empty Listen disables it.
type WebConfig struct {
	Listen   string `mapstructure:"listen"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// LoadConfig reads configuration from file, env, and defaults.
func LoadConfig(cfgFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("server.socket", sockpath.DefaultSocketPath())

	homeDir, _ := os.UserHomeDir()
	v.SetDefault("nats.data_dir", filepath.Join(homeDir, ".local", "share", "primbus", "nats"))
	v.SetDefault("nats.host", "127.0.0.1")
	v.SetDefault("nats.port", 4222)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.max_msgs", 10000)
	v.SetDefault("journal.max_age", 24*time.Hour)
	v.SetDefault("journal.duplicates", 2*time.Minute)

	v.SetDefault("behaviors.enabled", false)
	v.SetDefault("behaviors.dir", filepath.Join(homeDir, ".config", "primbus", "behaviors"))
	v.SetDefault("behaviors.handler_timeout", 2*time.Second)
	v.SetDefault("behaviors.hot_reload", true)

	v.SetDefault("web.listen", "")

	v.SetDefault("log.level", "info")

	v.SetConfigType("toml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("primd")
		v.AddConfigPath("/etc/primbus")
		v.AddConfigPath("$HOME/.config/primbus")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PRIMBUS")
	v.AutomaticEnv()

	v.BindEnv("nats.token", "PRIMBUS_NATS_TOKEN")
	v.BindEnv("security.command_secret", "PRIMBUS_COMMAND_SECRET")
	v.BindEnv("web.password", "PRIMBUS_WEB_PASSWORD")

	// Config file is optional.
	_ = v.ReadInConfig()

	if err := secrets.DecryptConfig(v); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
