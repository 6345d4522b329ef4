// Package upnpruntime wires NetIF, ThreadPool, TimerThread,
// HandleTable, the SSDP engine, and the GENA engine into a single
// value: global mutable state (handle table, SSDP sockets,
// timer/pool singletons, UUID counter) collapses into one Runtime
// value constructed by Init, torn down by Finalize, and passed
// explicitly to each core operation rather than living in package
// globals.
package upnpruntime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jroosing/upnpkit/internal/config"
	"github.com/jroosing/upnpkit/internal/gena"
	"github.com/jroosing/upnpkit/internal/handle"
	"github.com/jroosing/upnpkit/internal/netif"
	"github.com/jroosing/upnpkit/internal/ssdp"
	"github.com/jroosing/upnpkit/internal/threadpool"
	"github.com/jroosing/upnpkit/internal/timer"
	"github.com/jroosing/upnpkit/internal/transport"
	"github.com/jroosing/upnpkit/internal/uuidgen"
)

// Runtime is the process-wide value every core operation in this
// module takes explicitly instead of reaching for package-level
// globals.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger

	NetIF   *netif.Set
	Pool    *threadpool.Pool
	Timer   *timer.Thread
	Handles *handle.Table

	Sockets      *ssdp.Sockets
	ControlPoint *ssdp.ControlPoint
	Advertiser   *ssdp.Advertiser
	Listener     *ssdp.Listener

	SIDGen     *uuidgen.Generator
	GENA       *gena.Engine
	HTTPClient transport.Client

	ctx    context.Context
	cancel context.CancelFunc
}

// Init constructs a Runtime from cfg: enumerates interfaces, starts
// the pool and timer, opens the SSDP socket set, and wires the
// control-point and GENA engines. A re-usable constructor rather than
// inline main() code, so both cmd/upnpkitd and cmd/upnpctl share it.
func Init(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ifaces, err := netif.NewSet()
	if err != nil {
		return nil, fmt.Errorf("upnpruntime: enumerate interfaces: %w", err)
	}

	attrs := threadpool.Attrs{
		MinThreads:     cfg.Pool.MinThreads,
		MaxThreads:     cfg.Pool.MaxThreads,
		StackSize:      cfg.Pool.StackSize,
		MaxIdleTime:    time.Duration(cfg.Pool.MaxIdleTimeMs) * time.Millisecond,
		JobsPerThread:  cfg.Pool.JobsPerThread,
		MaxJobsTotal:   cfg.Pool.MaxJobsTotal,
		StarvationTime: time.Duration(cfg.Pool.StarvationMs) * time.Millisecond,
		SchedPolicy:    cfg.Pool.SchedPolicy,
	}
	pool := threadpool.New(attrs)

	th := timer.New(clockwork.NewRealClock())
	if err := th.Start(pool); err != nil {
		pool.Shutdown()
		return nil, fmt.Errorf("upnpruntime: start timer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	joinOn := selectJoinInterfaces(ifaces, cfg.Discovery)
	sockets, err := ssdp.NewSockets(ctx, joinOn, cfg.Discovery.EnableIPv6, cfg.Discovery.EnableULAGUA)
	if err != nil {
		logger.Warn("ssdp: failed to open full socket set, continuing degraded", "error", err)
		sockets = &ssdp.Sockets{}
	}

	cp := ssdp.NewControlPoint(pool, th, sockets, ifaces)
	cp.MinSearchTime = cfg.Discovery.MinSearchTime
	cp.MaxSearchTime = cfg.Discovery.MaxSearchTime
	cp.NumSSDPCopy = cfg.Discovery.NumSSDPCopy
	cp.SSDPPause = time.Duration(cfg.Discovery.SSDPPauseMs) * time.Millisecond
	cp.ServerString = cfg.Node.ServerString

	adv := ssdp.NewAdvertiser(pool, th, sockets)
	adv.NumSSDPCopy = cfg.Discovery.NumSSDPCopy
	adv.SSDPPause = time.Duration(cfg.Discovery.SSDPPauseMs) * time.Millisecond
	adv.ServerString = cfg.Node.ServerString
	adv.MaxAge = cfg.Discovery.MaxAge

	listener := ssdp.NewListener(sockets, ifaces, cp, adv)
	listener.Start(ctx)

	sidGen := uuidgen.NewGenerator(ifaces)
	httpClient := transport.NewDefaultClient(10 * time.Second)
	genaEngine := gena.NewEngine(httpClient, th, pool, sidGen)
	genaEngine.AutoRenewGuard = time.Duration(cfg.Eventing.AutoRenewGuard) * time.Second

	rt := &Runtime{
		Config:       cfg,
		Logger:       logger,
		NetIF:        ifaces,
		Pool:         pool,
		Timer:        th,
		Handles:      handle.New(),
		Sockets:      sockets,
		ControlPoint: cp,
		Advertiser:   adv,
		Listener:     listener,
		SIDGen:       sidGen,
		GENA:         genaEngine,
		HTTPClient:   httpClient,
		ctx:          ctx,
		cancel:       cancel,
	}
	return rt, nil
}

// selectJoinInterfaces applies the discovery config's
// use_all_interfaces / selected_interfaces filter to the enumerated
// set, returning multicast-and-up interfaces only.
func selectJoinInterfaces(set *netif.Set, cfg config.DiscoveryConfig) []netif.Interface {
	candidates := set.Select(netif.Filter{Needs: netif.Up | netif.Multicast, Rejects: netif.Loopback})
	if cfg.UseAllInterfaces || len(cfg.SelectedInterfaces) == 0 {
		return candidates
	}

	wanted := make(map[string]bool, len(cfg.SelectedInterfaces))
	for _, name := range cfg.SelectedInterfaces {
		wanted[name] = true
	}
	out := make([]netif.Interface, 0, len(candidates))
	for _, iface := range candidates {
		if wanted[iface.Name] || wanted[iface.FriendlyName] {
			out = append(out, iface)
		}
	}
	return out
}

// Finalize tears the Runtime down: closes SSDP sockets, shuts down the
// timer (which also frees queued events) and the pool (which drains
// queued jobs), invoking free-fns on every path, per the concurrency model's
// "every scoped resource is released on every exit path" rule.
func (r *Runtime) Finalize() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.Sockets != nil {
		r.Sockets.Close()
	}
	if r.Listener != nil {
		r.Listener.Wait()
	}
	if r.Timer != nil {
		r.Timer.Shutdown()
	}
	if r.Pool != nil {
		r.Pool.Shutdown()
	}
	return nil
}
