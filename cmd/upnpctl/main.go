package main

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

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
	cmd := &cobra.Command{
		Use:   "upnpctl",
		Short: "One-shot SSDP discovery client for upnpkit",
	}
	cmd.AddCommand(searchCmd())
	return cmd
}

func searchCmd() *cobra.Command {
	var (
		target  string
		mx      int
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Send an M-SEARCH and print matching devices/services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(target, mx, verbose)
		},
	}
	cmd.Flags().StringVar(&target, "target", "ssdp:all", "Search target (ssdp:all, upnp:rootdevice, uuid:..., urn:...)")
	cmd.Flags().IntVar(&mx, "mx", 3, "Search wait window in seconds")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Log discovery traffic to stderr")
	return cmd
}

func runSearch(target string, mx int, verbose bool) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Discovery.EnableIPv6 = false

	logger := logx.Nop()
	if verbose {
		logger = logx.Configure(&config.LoggingConfig{Level: "DEBUG"})
	}

	rt, err := upnpruntime.Init(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer rt.Finalize()

	var mu sync.Mutex
	var results []ssdp.DiscoveryEvent
	done := make(chan struct{})

	rt.ControlPoint.SetCallback(func(ev ssdp.DiscoveryEvent) {
		switch ev.Kind {
		case ssdp.EventSearchResult:
			mu.Lock()
			results = append(results, ev)
			mu.Unlock()
		case ssdp.EventSearchTimeout:
			close(done)
		}
	})

	if _, err := rt.ControlPoint.SearchByTarget(mx, target, nil); err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	select {
	case <-done:
	case <-time.After(time.Duration(mx+2) * time.Second):
	}

	mu.Lock()
	defer mu.Unlock()
	sort.Slice(results, func(i, j int) bool { return results[i].DeviceID < results[j].DeviceID })
	for _, r := range results {
		fmt.Printf("%s\t%s\t%s\t%s\n", r.DeviceID, r.DeviceType, r.ServiceType, r.Location)
	}
	if len(results) == 0 {
		fmt.Fprintln(os.Stderr, "no devices found")
	}
	return nil
}
