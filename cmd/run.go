package cmd

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bavix/btscan/internal/adminhttp"
	"github.com/bavix/btscan/internal/events"
	"github.com/bavix/btscan/internal/metrics"
	"github.com/bavix/btscan/internal/mqttpub"
	"github.com/bavix/btscan/internal/session"
	"github.com/bavix/btscan/internal/version"
)

func newRunCmd() *cobra.Command { //nolint:cyclop,funlen
	var (
		scanOnStart  bool
		scanInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the btscan daemon with the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			log := zerolog.Ctx(ctx)

			log.Info().
				Str("version", version.GetVersion()).
				Str("build_time", version.GetBuildTime()).
				Msg("btscan starting")

			metrics.RegisterCollectors()
			metrics.SetService(cfg.AppName)
			log.Info().Str("config", cfg.Path).Str("backend", cfg.Bluetooth.Backend).Msg("starting")

			hub := adminhttp.NewHub()
			presenters := events.MultiPresenter{hub}
			notifiers := session.MultiNotifier{session.LogNotifier{}, hub}

			if cfg.MQTT.Enabled {
				pub, err := mqttpub.Connect(ctx, cfg.MQTT)
				if err != nil {
					return err
				}

				defer func() { _ = pub.Close() }()

				presenters = append(presenters, pub)
				notifiers = append(notifiers, pub)
			}

			s, err := openSession(ctx, cfg, presenters, notifiers)
			if err != nil {
				return err
			}

			defer func() { _ = s.Close() }()

			metrics.SetReady(true)
			defer metrics.SetReady(false)

			g, gctx := errgroup.WithContext(ctx)

			if !cfg.HTTP.Disabled {
				admin := adminhttp.NewServer(cfg, s, hub)
				if err := admin.Start(gctx); err != nil {
					return err
				}
			}

			if scanOnStart || scanInterval > 0 {
				g.Go(func() error { return scanLoop(gctx, s, scanInterval) })
			}

			g.Go(func() error {
				<-gctx.Done()
				log.Info().Msg("btscan stopping")

				return nil
			})

			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&scanOnStart, "scan", false, "Start a discovery as soon as the daemon is up")
	cmd.Flags().DurationVar(&scanInterval, "scan-interval", 0, "Start a new discovery at this interval (0 disables)")

	return cmd
}

// scanLoop scans once, then on every tick of interval. Scan failures are
// logged; the user already got a message for the ones that have one.
func scanLoop(ctx context.Context, s *session.Session, interval time.Duration) error {
	scan := func() {
		if _, err := s.Scan(ctx); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("scheduled scan failed")
		}
	}

	scan()

	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			scan()
		}
	}
}
