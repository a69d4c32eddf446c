// Package config provides configuration loading for socks5gate: a
// single optional YAML file layered under CLI flags.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete socks5gate configuration file shape.
type Config struct {
	Socks5 Socks5Config `yaml:"socks5"`
}

// Socks5Config configures the proxy itself. Every field has a matching
// CLI flag; flag values win over file values.
type Socks5Config struct {
	ListenAddress  string `yaml:"listen_address"`
	ListenPort     int    `yaml:"listen_port"`
	EnableIPv4     bool   `yaml:"enable_ipv4"`
	EnableIPv6     bool   `yaml:"enable_ipv6"`
	MaxConnections int    `yaml:"max_connections"`
	Verbose        bool   `yaml:"verbose"`
	LogFormat      string `yaml:"log_format"`
}

// Default returns the built-in defaults: listen on localhost:1080 (the
// "socks" service port), both address families enabled, verbose logging
// off.
func Default() Config {
	return Config{
		Socks5: Socks5Config{
			ListenAddress:  "localhost",
			ListenPort:     1080,
			EnableIPv4:     true,
			EnableIPv6:     true,
			MaxConnections: 1000,
			LogFormat:      "text",
		},
	}
}

// Load reads a YAML config file layered on top of Default(). A missing
// or unreadable file is an error; callers (the CLI) only invoke Load when
// an explicit --config flag was given.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML to path, used by the `setup` wizard.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects configurations with no address family left enabled
// (for example a config file that disables both) or an invalid port.
func (c Socks5Config) Validate() error {
	if !c.EnableIPv4 && !c.EnableIPv6 {
		return fmt.Errorf("at least one of IPv4 or IPv6 must remain enabled")
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("invalid listen port %d", c.ListenPort)
	}
	return nil
}
