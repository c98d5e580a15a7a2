// Package config is used to load the configuration file
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/viper"
)

type extract struct {
	Output      string `mapstructure:"output"`
	NoUnquicken bool   `mapstructure:"no-unquicken"`
	IgnoreCRC   bool   `mapstructure:"ignore-crc"`
	Force       bool   `mapstructure:"force"`
	Deps        bool   `mapstructure:"deps"`
	Workers     int    `mapstructure:"workers"`
}

type vdex struct {
	Extract extract `mapstructure:"extract"`
}

// Config is the configuration struct
type Config struct {
	Verbose bool `mapstructure:"verbose"`
	Vdex    vdex `mapstructure:"vdex"`
}

// Unquicken reports whether extraction should restore quickened bytecode
func (c *Config) Unquicken() bool {
	return !c.Vdex.Extract.NoUnquicken
}

func (c *Config) verify() error {
	if c.Vdex.Extract.Output == "" {
		c.Vdex.Extract.Output = "."
	} else if fi, err := os.Stat(c.Vdex.Extract.Output); err == nil && !fi.IsDir() {
		return fmt.Errorf("output %s is not a directory", c.Vdex.Extract.Output)
	}

	if c.Vdex.Extract.Workers < 0 {
		return fmt.Errorf("workers must not be negative (got %d)", c.Vdex.Extract.Workers)
	} else if c.Vdex.Extract.Workers == 0 {
		c.Vdex.Extract.Workers = runtime.NumCPU()
	}

	if c.Vdex.Extract.IgnoreCRC && c.Vdex.Extract.NoUnquicken {
		return errors.New("ignore-crc has no effect without unquickening")
	}

	return nil
}

// Load loads the configuration from viper's merged state (flags, env and config file)
func Load() (*Config, error) {
	var c Config

	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}

	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %w", err)
	}

	return &c, nil
}
