// Package wizard implements the interactive `setup` flow for
// socks5gate: a short form that writes a config file for first-time
// operators.
package wizard

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/outproxy/socks5gate/internal/config"
)

var headingStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("62"))

// Run walks the user through configuring a SOCKS5 proxy instance and
// writes the resulting config to path.
func Run(path string) (config.Config, error) {
	cfg := config.Default()

	fmt.Println(headingStyle.Render("socks5gate setup"))

	listenPort := strconv.Itoa(cfg.Socks5.ListenPort)
	maxConnections := strconv.Itoa(cfg.Socks5.MaxConnections)
	families := "both"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Description("Interface to bind, e.g. localhost or 0.0.0.0").
				Value(&cfg.Socks5.ListenAddress),

			huh.NewInput().
				Title("Listen port").
				Description("TCP port for incoming SOCKS5 connections").
				Validate(validatePort).
				Value(&listenPort),

			huh.NewSelect[string]().
				Title("Address families").
				Options(
					huh.NewOption("IPv4 and IPv6", "both"),
					huh.NewOption("IPv4 only", "v4"),
					huh.NewOption("IPv6 only", "v6"),
				).
				Value(&families),

			huh.NewInput().
				Title("Max concurrent connections").
				Description("0 disables the limit").
				Validate(validateNonNegativeInt).
				Value(&maxConnections),

			huh.NewConfirm().
				Title("Enable verbose logging?").
				Value(&cfg.Socks5.Verbose),
		),
	)

	if err := form.Run(); err != nil {
		return cfg, fmt.Errorf("run wizard form: %w", err)
	}

	port, err := strconv.Atoi(listenPort)
	if err != nil {
		return cfg, fmt.Errorf("invalid listen port %q: %w", listenPort, err)
	}
	cfg.Socks5.ListenPort = port

	maxConn, err := strconv.Atoi(maxConnections)
	if err != nil {
		return cfg, fmt.Errorf("invalid max connections %q: %w", maxConnections, err)
	}
	cfg.Socks5.MaxConnections = maxConn

	switch families {
	case "v4":
		cfg.Socks5.EnableIPv4, cfg.Socks5.EnableIPv6 = true, false
	case "v6":
		cfg.Socks5.EnableIPv4, cfg.Socks5.EnableIPv6 = false, true
	default:
		cfg.Socks5.EnableIPv4, cfg.Socks5.EnableIPv6 = true, true
	}

	if cfg.Socks5.LogFormat == "" {
		cfg.Socks5.LogFormat = "text"
	}

	if err := cfg.Socks5.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := config.Save(path, cfg); err != nil {
		return cfg, fmt.Errorf("save config: %w", err)
	}

	fmt.Println(headingStyle.Render(fmt.Sprintf("wrote %s", path)))
	return cfg, nil
}

func validatePort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if n <= 0 || n > 65535 {
		return fmt.Errorf("must be between 1 and 65535")
	}
	return nil
}

func validateNonNegativeInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if n < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}
