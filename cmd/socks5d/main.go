// Package main provides the CLI entry point for socks5gate.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/outproxy/socks5gate/internal/config"
	"github.com/outproxy/socks5gate/internal/logging"
	"github.com/outproxy/socks5gate/internal/metrics"
	"github.com/outproxy/socks5gate/internal/socks5"
	"github.com/outproxy/socks5gate/internal/wizard"
)

// Version is set at build time via ldflags.
var Version = "dev"

// exUsage is sysexits.h's EX_USAGE: the command was used incorrectly.
const exUsage = 64

func main() {
	rootCmd := &cobra.Command{
		Use:   "socks5d",
		Short: "A standalone SOCKS5 proxy server",
		Long: `socks5d is a standalone SOCKS5 proxy server implementing RFC 1928's
CONNECT command over TCP with no authentication. It is not a mesh agent,
HTTP proxy, or SOCKS4 server.`,
		Version: Version,
		RunE:    runAction,
	}

	addRunFlags(rootCmd)

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(setupCmd())

	// Bad flag usage (unknown flag, missing argument) is EX_USAGE, not a
	// generic failure.
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err}
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var uerr *usageError
		if errors.As(err, &uerr) {
			os.Exit(exUsage)
		}
		os.Exit(1)
	}
}

// usageError marks an error as a command-line usage mistake so main can
// exit with EX_USAGE instead of a generic failure code.
type usageError struct{ err error }

func (u *usageError) Error() string { return u.err.Error() }
func (u *usageError) Unwrap() error { return u.err }

// addRunFlags registers the proxy flags. They are defined on both the
// root command and the run subcommand so `socks5d -4` and
// `socks5d run -4` behave identically.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("ipv4-only", "4", false, "disable IPv6 listeners")
	cmd.Flags().BoolP("ipv6-only", "6", false, "disable IPv4 listeners")
	cmd.Flags().String("listen-address", "localhost", "address to bind")
	cmd.Flags().Int("listen-port", 1080, "TCP port to bind")
	cmd.Flags().StringP("config", "c", "", "path to YAML config file")
	cmd.Flags().Int("max-connections", 1000, "maximum concurrent connections (0 = unlimited)")
	cmd.Flags().BoolP("verbose", "v", false, "enable debug logging")
	cmd.Flags().String("log-format", "text", "log format: text or json")
}

// runCmd exists so `socks5d run` works explicitly; the root command's
// RunE performs the same action as the default when invoked bare.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the SOCKS5 proxy (default action)",
		RunE:  runAction,
	}
	addRunFlags(cmd)
	return cmd
}

func runAction(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.ForVerbosity(cfg.Socks5.Verbose, cfg.Socks5.LogFormat)
	met := metrics.NewMetrics()

	srv := socks5.NewServer(socks5.Config{
		ListenAddress:  cfg.Socks5.ListenAddress,
		ListenPort:     cfg.Socks5.ListenPort,
		EnableIPv4:     cfg.Socks5.EnableIPv4,
		EnableIPv6:     cfg.Socks5.EnableIPv6,
		MaxConnections: cfg.Socks5.MaxConnections,
		Logger:         logger,
		Metrics:        met,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start proxy: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	stopped := make(chan struct{})
	go func() {
		srv.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out, exiting anyway")
	}

	return nil
}

func setupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long:  "Run an interactive wizard to write a socks5gate config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := wizard.Run(configPath)
			if err != nil {
				return fmt.Errorf("setup wizard failed: %w", err)
			}
			fmt.Printf("Configuration written to %s\n", configPath)
			fmt.Printf("Listening on %s:%d\n", cfg.Socks5.ListenAddress, cfg.Socks5.ListenPort)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to write the config file")
	return cmd
}

// resolveConfig layers CLI flags over an optional config file over the
// built-in defaults.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	ipv4Only, _ := cmd.Flags().GetBool("ipv4-only")
	ipv6Only, _ := cmd.Flags().GetBool("ipv6-only")
	if ipv4Only && ipv6Only {
		return cfg, &usageError{fmt.Errorf("cannot pass both -4 and -6")}
	}
	if ipv4Only {
		cfg.Socks5.EnableIPv4, cfg.Socks5.EnableIPv6 = true, false
	}
	if ipv6Only {
		cfg.Socks5.EnableIPv4, cfg.Socks5.EnableIPv6 = false, true
	}

	if cmd.Flags().Changed("listen-address") {
		cfg.Socks5.ListenAddress, _ = cmd.Flags().GetString("listen-address")
	}
	if cmd.Flags().Changed("listen-port") {
		cfg.Socks5.ListenPort, _ = cmd.Flags().GetInt("listen-port")
	}
	if cmd.Flags().Changed("max-connections") {
		cfg.Socks5.MaxConnections, _ = cmd.Flags().GetInt("max-connections")
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Socks5.Verbose, _ = cmd.Flags().GetBool("verbose")
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Socks5.LogFormat, _ = cmd.Flags().GetString("log-format")
	}

	if err := cfg.Socks5.Validate(); err != nil {
		return cfg, &usageError{err}
	}

	return cfg, nil
}
