package mcp

import (
	"github.com/spf13/viper"

	"github.com/sekia-ai/primbus/internal/logging"
	"github.com/sekia-ai/primbus/pkg/sockpath"
)

// Config holds all configuration for the MCP server.
type Config struct {
	Daemon DaemonConfig   `mapstructure:"daemon"`
	Log    logging.Config `mapstructure:"log"`
}

// DaemonConfig holds settings for connecting to the primd API.
type DaemonConfig struct {
	Socket string `mapstructure:"socket"`
}

// LoadConfig reads the MCP server configuration from file, env vars, and defaults.
func LoadConfig(cfgFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("daemon.socket", sockpath.DefaultSocketPath())
	v.SetDefault("log.level", "info")

	v.SetConfigType("toml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("primbus-mcp")
		v.AddConfigPath("/etc/primbus")
		v.AddConfigPath("$HOME/.config/primbus")
		v.AddConfigPath(".")
	}

	v.BindEnv("daemon.socket", "PRIMBUS_DAEMON_SOCKET")
	v.BindEnv("log.level", "PRIMBUS_LOG_LEVEL")

	_ = v.ReadInConfig() // config file is optional

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
