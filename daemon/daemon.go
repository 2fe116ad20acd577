// Package daemon assembles the production daemon: every manager wired to
// the orchestrator, the control API in front, observability around it.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"uplink/config"
	"uplink/health/ntp"
	"uplink/httpapi"
	"uplink/infra/nat"
	"uplink/infra/netdev"
	"uplink/infra/wifiinfo"
	"uplink/observe"
	"uplink/orchestrator"
	"uplink/platform/accesspoint"
	"uplink/platform/dhcpc"
	"uplink/platform/supplicant"
	"uplink/store"
	"uplink/verify"
)

// Run wires the full daemon from cfg and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	shutdownTracing, err := observe.InitTracing(ctx, observe.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observe.ShutdownWithTimeout(context.Background(), shutdownTracing)

	metrics, err := observe.NewCollector(nil)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.Paths.StateDir, "uplink.db"))
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("Closing the state store failed.", "err", err)
		}
	}()

	apConfig, err := cfg.AccessPoint()
	if err != nil {
		return err
	}

	ifaces := netdev.New(netdev.Config{IWPath: cfg.Binaries.IW})
	link := wifiinfo.New()

	rules, err := nat.New()
	if err != nil {
		return fmt.Errorf("init nat: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Interface:          cfg.Interface,
		AP:                 apConfig,
		Retry:              orchestrator.RetryPolicy{MaxAttempts: cfg.Retry.ConnectAttempts, Backoff: cfg.Retry.ConnectBackoff.Std()},
		AssociationTimeout: cfg.Retry.AssociationTimeout.Std(),
		Verify:             verify.Policy{Interval: cfg.Verify.Interval.Std(), Attempts: cfg.Verify.Attempts},
		MonitorInterval:    cfg.Monitor.Interval.Std(),
	}, orchestrator.Deps{
		Interfaces: ifaces,
		Supplicant: supplicant.New(supplicant.Config{
			Binary: cfg.Binaries.WPASupplicant,
			RunDir: cfg.Paths.RunDir,
			Link:   link,
		}),
		AccessPoint: accesspoint.New(accesspoint.Config{
			RunDir:     cfg.Paths.RunDir,
			HostapdBin: cfg.Binaries.Hostapd,
			DnsmasqBin: cfg.Binaries.Dnsmasq,
			NAT:        rules,
			Addresses:  ifaces,
		}),
		DHCP:     dhcpc.New(dhcpc.Config{Binary: cfg.Binaries.DHCPClient}),
		Verifier: verify.New(link, ifaces),
		Store:    st,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}

	var clock *ntp.Checker
	if cfg.NTP.Enabled {
		clock = ntp.NewChecker(ntp.Config{
			Pool:      cfg.NTP.Pool,
			Interval:  cfg.NTP.Interval.Std(),
			MaxOffset: cfg.NTP.MaxOffset.Std(),
			Metrics:   metrics,
		})
	}

	apiOpts := httpapi.Options{
		Journal:      st,
		Config:       cfg,
		Auth:         cfg.HTTP.Auth,
		ReadTimeout:  cfg.HTTP.ReadTimeout.Std(),
		WriteTimeout: cfg.HTTP.WriteTimeout.Std(),
		IdleTimeout:  cfg.HTTP.IdleTimeout.Std(),
	}
	if clock != nil {
		apiOpts.Clock = clock
	}
	if cfg.HTTP.Metrics {
		apiOpts.Metrics = metrics.Handler()
	}
	api := httpapi.NewServer(orch, apiOpts)

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	defer func() {
		if err := orch.Stop(); err != nil {
			slog.Warn("Stopping the orchestrator failed.", "err", err)
		}
	}()

	if _, err := systemd.SdNotify(false, systemd.SdNotifyReady); err != nil {
		slog.Warn("Notifying systemd failed.", "err", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.ListenAndServe(ctx, cfg.HTTP.Listen) })
	if clock != nil {
		g.Go(func() error {
			clock.Run(ctx)
			return nil
		})
	}

	slog.Info("Daemon running.", "interface", cfg.Interface, "listen", cfg.HTTP.Listen)
	return g.Wait()
}
