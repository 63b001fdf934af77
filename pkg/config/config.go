// Package config loads the optional vecinfo tool configuration. The config
// carries per-driver open option defaults and connection settings that don't
// belong on the command line; everything in it can be overridden by flags.
package config

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the tool configuration, yaml or toml.
type Config struct {
	OutputFormat    string              `yaml:"output_format" toml:"output_format"`         // "text" or "json"
	DisabledDrivers []string            `yaml:"disabled_drivers" toml:"disabled_drivers"`   // driver names to skip at registration
	OpenOptions     map[string][]string `yaml:"open_options" toml:"open_options"`           // per-driver "key=value" defaults
	SSHKey          string              `yaml:"ssh_key" toml:"ssh_key"`                     // private key for sftp staging
	CredsConn       string              `yaml:"creds_conn" toml:"creds_conn"`               // credentials store connection string
	Workers         int                 `yaml:"workers" toml:"workers"`                     // concurrent layer scans in reports
}

// New loads the config from fname. A missing file is not an error, the
// zero config is usable as is.
func New(fname string) (*Config, error) {
	res := &Config{}
	if fname == "" {
		return res, nil
	}

	data, err := os.ReadFile(fname) // nolint
	if err != nil {
		log.Printf("[DEBUG] no config file %s found", fname)
		return res, nil
	}

	if err := unmarshalConfigFile(fname, data, res); err != nil {
		return nil, fmt.Errorf("can't unmarshal config: %w", err)
	}
	if err := res.check(); err != nil {
		return nil, fmt.Errorf("config %s is invalid: %w", fname, err)
	}
	log.Printf("[DEBUG] config loaded from %s", fname)
	return res, nil
}

// unmarshalConfigFile guesses the format by extension, yaml unless the file
// says toml.
func unmarshalConfigFile(fname string, data []byte, res *Config) error {
	switch {
	case strings.HasSuffix(fname, ".yml") || strings.HasSuffix(fname, ".yaml") || !strings.Contains(fname, "."):
		yamlDecoder := yaml.NewDecoder(bytes.NewReader(data))
		yamlDecoder.KnownFields(true) // strict mode, fail on unknown fields
		if err := yamlDecoder.Decode(res); err != nil {
			return fmt.Errorf("can't unmarshal yaml config %s: %w", fname, err)
		}
	case strings.HasSuffix(fname, ".toml"):
		if err := toml.Unmarshal(data, res); err != nil {
			return fmt.Errorf("can't unmarshal toml config %s: %w", fname, err)
		}
	default:
		return fmt.Errorf("unknown config format %s", fname)
	}
	return nil
}

func (c *Config) check() error {
	if c.OutputFormat != "" && c.OutputFormat != "text" && c.OutputFormat != "json" {
		return fmt.Errorf("unknown output format %q", c.OutputFormat)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers can't be negative")
	}
	for drv, opts := range c.OpenOptions {
		for _, oo := range opts {
			if !strings.Contains(oo, "=") {
				return fmt.Errorf("driver %s open option %q is not key=value", drv, oo)
			}
		}
	}
	return nil
}

// DriverOptions returns the configured open option defaults for a driver.
func (c *Config) DriverOptions(driverName string) []string {
	return c.OpenOptions[driverName]
}

// DriverDisabled reports whether a driver is switched off by config.
func (c *Config) DriverDisabled(name string) bool {
	for _, d := range c.DisabledDrivers {
		if strings.EqualFold(d, name) {
			return true
		}
	}
	return false
}
