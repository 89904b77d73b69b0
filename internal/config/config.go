package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the capture settings the CLI builds a session from.
type Config struct {
	Backend    string `mapstructure:"backend"`
	Device     string `mapstructure:"device"`
	SampleRate int    `mapstructure:"sample_rate"`
	Channels   int    `mapstructure:"channels"`
	BlockSize  int    `mapstructure:"block_size"`
	Exclusive  bool   `mapstructure:"exclusive"`
	LogLevel   string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", "miniaudio")
	v.SetDefault("device", "")
	v.SetDefault("sample_rate", 48000)
	v.SetDefault("channels", 2)
	v.SetDefault("block_size", 480)
	v.SetDefault("exclusive", false)
	v.SetDefault("log_level", "info")
}

// Load reads configuration from a YAML file and LOOPCAP_* environment
// variables, on top of the defaults. path may be empty, in which case
// loopcap.yaml is searched for in the working directory and
// ~/.config/loopcap; a missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LOOPCAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("loopcap")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/loopcap")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
