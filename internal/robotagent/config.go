package robotagent

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/sekia-ai/primbus/internal/logging"
	"github.com/sekia-ai/primbus/internal/secrets"
)

// Config holds all configuration for a robot agent.
type Config struct {
	NATS     NATSConfig     `mapstructure:"nats"`
	Robot    RobotConfig    `mapstructure:"robot"`
	Security SecurityConfig `mapstructure:"security"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      logging.Config `mapstructure:"log"`
}

// SecurityConfig holds application-level security settings.
type SecurityConfig struct {
	CommandSecret string `mapstructure:"command_secret"`
}

// NATSConfig holds NATS connection settings. User and Password log in to
// the robot's own account on primd's bus.
type NATSConfig struct {
	URL      string `mapstructure:"url"`
	Token    string `mapstructure:"token"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// RobotConfig identifies the robot this agent drives.
type RobotConfig struct {
	ID   uint32 `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

// MetricsConfig enables a Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// LoadConfig reads the robot agent configuration from file, env vars, and defaults.
func LoadConfig(cfgFile string) (Config, error) {
	v, err := newViper(cfgFile)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if !v.IsSet("robot.id") {
		return cfg, fmt.Errorf("robot.id is required (set via config file or PRIMBUS_ROBOT_ID env var)")
	}
	if cfg.NATS.Token != "" && cfg.NATS.User != "" {
		return cfg, fmt.Errorf("nats.token and nats.user are mutually exclusive")
	}
	switch {
	case cfg.Robot.Name == "" && cfg.NATS.User != "":
		// A robot account may only heartbeat under its own name.
		cfg.Robot.Name = cfg.NATS.User
	case cfg.Robot.Name == "":
		cfg.Robot.Name = fmt.Sprintf("robot-%d", cfg.Robot.ID)
	case cfg.NATS.User != "" && cfg.Robot.Name != cfg.NATS.User:
		return cfg, fmt.Errorf("robot.name %q must match nats.user %q", cfg.Robot.Name, cfg.NATS.User)
	}
	return cfg, nil
}

func newViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("log.level", "info")

	v.SetConfigType("toml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("prim-robot")
		v.AddConfigPath("/etc/primbus")
		v.AddConfigPath("$HOME/.config/primbus")
		v.AddConfigPath(".")
	}

	v.BindEnv("robot.id", "PRIMBUS_ROBOT_ID")
	v.BindEnv("robot.name", "PRIMBUS_ROBOT_NAME")
	v.BindEnv("nats.url", "PRIMBUS_NATS_URL")
	v.BindEnv("nats.token", "PRIMBUS_NATS_TOKEN")
	v.BindEnv("nats.user", "PRIMBUS_NATS_USER")
	v.BindEnv("nats.password", "PRIMBUS_NATS_PASSWORD")
	v.BindEnv("security.command_secret", "PRIMBUS_COMMAND_SECRET")

	_ = v.ReadInConfig() // config file is optional

	if err := secrets.DecryptConfig(v); err != nil {
		return nil, err
	}
	return v, nil
}
