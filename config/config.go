// Package config loads the compositor configuration from loon.toml
// and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	// Socket is the listening socket name, e.g. "wayland-1". Empty
	// picks the first free wayland-%d name.
	Socket string `mapstructure:"socket"`

	// Backend selects where frames go: "headless", "fbdev", "nested",
	// or "auto" to pick based on the environment.
	Backend string `mapstructure:"backend"`

	Logging LoggingConfig  `mapstructure:"logging"`
	Render  RenderConfig   `mapstructure:"render"`
	Outputs []OutputConfig `mapstructure:"outputs"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// RenderConfig controls the post-processing pipeline. Pipeline lists
// stage names in application order.
type RenderConfig struct {
	Pipeline []string `mapstructure:"pipeline"`
	Gamma    float64  `mapstructure:"gamma"`
}

// OutputConfig places one output in the layout, in logical
// coordinates. Backends that discover real outputs ignore these.
type OutputConfig struct {
	Name    string `mapstructure:"name"`
	X       int    `mapstructure:"x"`
	Y       int    `mapstructure:"y"`
	Width   int    `mapstructure:"width"`
	Height  int    `mapstructure:"height"`
	Scale   int    `mapstructure:"scale"`
	Refresh int    `mapstructure:"refresh"` // mHz
}

var DefaultConfig = Config{
	Backend: "auto",
	Logging: LoggingConfig{Level: "info"},
	Render:  RenderConfig{Pipeline: []string{"scale"}, Gamma: 1.0},
	Outputs: []OutputConfig{
		{Name: "virtual-0", Width: 1280, Height: 720, Scale: 1, Refresh: 60000},
	},
}

// Load reads the configuration. An explicit path is used as-is;
// otherwise loon.toml is searched for in the usual config
// directories. A missing file just means defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("loon")
	v.SetConfigType("toml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		if home := os.Getenv("HOME"); home != "" {
			v.AddConfigPath(filepath.Join(home, ".config", "loon"))
		}
		v.AddConfigPath("/etc/loon")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LOON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("socket", DefaultConfig.Socket)
	v.SetDefault("backend", DefaultConfig.Backend)
	v.SetDefault("logging.level", DefaultConfig.Logging.Level)
	v.SetDefault("render.pipeline", DefaultConfig.Render.Pipeline)
	v.SetDefault("render.gamma", DefaultConfig.Render.Gamma)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Outputs) == 0 {
		cfg.Outputs = DefaultConfig.Outputs
	}
	for i := range cfg.Outputs {
		if cfg.Outputs[i].Scale <= 0 {
			cfg.Outputs[i].Scale = 1
		}
		if cfg.Outputs[i].Refresh <= 0 {
			cfg.Outputs[i].Refresh = 60000
		}
		if cfg.Outputs[i].Name == "" {
			cfg.Outputs[i].Name = fmt.Sprintf("virtual-%v", i)
		}
	}
	return &cfg, nil
}
