package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is what the producer CLI needs to reach a relay.
type Config struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Key      string `mapstructure:"key"`
	Open     bool   `mapstructure:"open"`
}

// LoadConfig merges, lowest priority first: defaults, the optional YAML
// file at path, FIREHOSE_* environment variables and explicitly set flags.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("url", "http://127.0.0.1:8080")

	v.SetEnvPrefix("FIREHOSE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"url", "username", "password", "key", "open"} {
		_ = v.BindEnv(key)
	}

	if flags != nil {
		for _, key := range []string{"url", "username", "password", "key", "open"} {
			if f := flags.Lookup(key); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", key, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.URL = strings.TrimRight(c.URL, "/")

	if c.URL == "" {
		return nil, fmt.Errorf("url is required (set FIREHOSE_URL, --url or config file)")
	}
	return &c, nil
}
