package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jroosing/upnpkit/internal/config"
	"github.com/jroosing/upnpkit/internal/logx"
	"github.com/jroosing/upnpkit/internal/ssdp"
	"github.com/jroosing/upnpkit/internal/upnpruntime"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var jsonLogs bool
	var debug bool

	cmd := &cobra.Command{
		Use:   "upnpkitd",
		Short: "Runs the UPnP control-point/device runtime (SSDP + GENA)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, jsonLogs, debug)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file (also UPNPKIT_CONFIG)")
	cmd.Flags().BoolVar(&jsonLogs, "json-logs", false, "Enable JSON structured logging")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

func run(configPath string, jsonLogs, debug bool) error {
	cfg, err := config.Load(config.ResolveConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if debug {
		cfg.Logging.Level = "DEBUG"
	}

	logger := logx.Configure(&cfg.Logging)
	logger.Info("upnpkitd starting",
		"pool_max_threads", cfg.Pool.MaxThreads,
		"discovery_enable_ipv6", cfg.Discovery.EnableIPv6,
		"server_string", cfg.Node.ServerString,
	)

	rt, err := upnpruntime.Init(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}

	rt.ControlPoint.SetCallback(func(ev ssdp.DiscoveryEvent) {
		logger.Debug("discovery event",
			"kind", ev.Kind,
			"device_id", ev.DeviceID,
			"device_type", ev.DeviceType,
			"location", ev.Location,
		)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("upnpkitd ready")
	<-ctx.Done()

	logger.Info("upnpkitd shutting down")
	if err := rt.Finalize(); err != nil {
		return fmt.Errorf("runtime shutdown error: %w", err)
	}
	logger.Info("upnpkitd stopped")
	return nil
}
