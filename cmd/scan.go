package cmd

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bavix/btscan/internal/devices"
	"github.com/bavix/btscan/internal/session"
)

const scanGrace = 5 * time.Second

var errScanTimeout = errors.New("discovery did not finish in time")

// cliPresenter signals one-shot commands: done closes when the first
// discovery finishes, changed ticks on every refresh.
type cliPresenter struct {
	once    sync.Once
	mu      sync.Mutex
	started bool
	done    chan struct{}
	changed chan struct{}
}

func newCLIPresenter() *cliPresenter {
	return &cliPresenter{
		done:    make(chan struct{}),
		changed: make(chan struct{}, 1),
	}
}

func (w *cliPresenter) Refresh([]devices.Record) {
	select {
	case w.changed <- struct{}{}:
	default:
	}
}

func (w *cliPresenter) SetScanning(visible bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if visible {
		w.started = true

		return
	}

	if w.started {
		w.once.Do(func() { close(w.done) })
	}
}

func newScanCmd() *cobra.Command {
	var (
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one discovery and print the devices found",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if timeout <= 0 {
				timeout = cfg.Bluetooth.DiscoveryDuration + scanGrace
			}

			waiter := newCLIPresenter()

			s, err := openSession(ctx, cfg, waiter, consoleNotifier(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			defer func() { _ = s.Close() }()

			records, err := scanOnce(ctx, s, waiter, timeout)
			if err != nil {
				return err
			}

			return printDevices(cmd.OutOrStdout(), records, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print devices as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting after this long (default: discovery duration + 5s)")

	return cmd
}

// scanOnce starts a discovery, enabling the adapter first if needed, and
// waits for it to finish.
func scanOnce(ctx context.Context, s *session.Session, waiter *cliPresenter, timeout time.Duration) ([]devices.Record, error) {
	outcome, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}

	if outcome == session.ScanEnabled {
		zerolog.Ctx(ctx).Info().Msg("adapter enabled, starting discovery")

		if _, err := s.Scan(ctx); err != nil {
			return nil, err
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-waiter.done:
	case <-timer.C:
		return s.Snapshot(), errScanTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return s.Snapshot(), nil
}
