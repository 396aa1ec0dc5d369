package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bavix/btscan/internal/config"
	"github.com/bavix/btscan/internal/devices"
	customerrors "github.com/bavix/btscan/internal/errors"
	"github.com/bavix/btscan/internal/session"
)

const defaultBondTimeout = 60 * time.Second

var (
	errBondRejected   = errors.New("bond rejected by the device or the stack")
	errActionTimedOut = errors.New("bond state did not settle")
)

func newBondCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "bond <address>",
		Short: "Discover a device and bond with it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBondAction(cmd, args[0], timeout, func(ctx context.Context, s *session.Session, rec devices.Record) (bondCheck, error) {
				if err := s.RequestBond(ctx, rec.Address); err != nil {
					return nil, err
				}

				seenBonding := false

				return func(rec devices.Record, ok bool) (bool, error) {
					switch {
					case !ok:
						return false, nil
					case rec.BondState == devices.Bonded:
						return true, nil
					case rec.BondState == devices.Bonding:
						seenBonding = true
					case seenBonding:
						return true, errBondRejected
					}

					return false, nil
				}, nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", defaultBondTimeout, "Give up waiting for the bond after this long")

	return cmd
}

func newUnbondCmd() *cobra.Command {
	var (
		timeout time.Duration
		yes     bool
	)

	cmd := &cobra.Command{
		Use:   "unbond <address>",
		Short: "Remove the bond with a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBondAction(cmd, args[0], timeout, func(ctx context.Context, s *session.Session, rec devices.Record) (bondCheck, error) {
				if rec.BondState == devices.NotBonded {
					return nil, customerrors.ErrPreconditionViolationWithState(string(session.ActionUnbond), rec.BondState.String())
				}

				if !yes {
					ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), fmt.Sprintf("%s (%s)", session.TextUnbondConfirm, rec.GetDisplayName()))
					if err != nil {
						return nil, err
					}

					if !ok {
						return nil, customerrors.ErrConfirmationRequired
					}
				}

				if _, err := s.SelectDevice(ctx, rec.Address, true); err != nil {
					return nil, err
				}

				return func(_ devices.Record, ok bool) (bool, error) {
					return !ok, nil
				}, nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", defaultBondTimeout, "Give up waiting for the unbond after this long")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

// bondCheck inspects the device after each refresh and reports whether the
// action is over.
type bondCheck func(rec devices.Record, ok bool) (bool, error)

type bondAction func(ctx context.Context, s *session.Session, rec devices.Record) (bondCheck, error)

func runBondAction(cmd *cobra.Command, arg string, timeout time.Duration, action bondAction) error {
	address := devices.NormalizeAddress(arg)
	if err := devices.ValidateAddress(address); err != nil {
		return err
	}

	ctx, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	presenter := newCLIPresenter()

	s, err := openSession(ctx, cfg, presenter, consoleNotifier(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	defer func() { _ = s.Close() }()

	if _, err := scanOnce(ctx, s, presenter, cfg.Bluetooth.DiscoveryDuration+scanGrace); err != nil && !errors.Is(err, errScanTimeout) {
		return err
	}

	rec, ok := s.Lookup(address)
	if !ok {
		return customerrors.ErrDeviceNotFoundWithAddress(address)
	}

	check, err := action(ctx, s, rec)
	if err != nil {
		return err
	}

	if err := waitBond(ctx, s, presenter, address, timeout, check); err != nil {
		return err
	}

	rec, ok = s.Lookup(address)
	if ok {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", rec.Address, rec.GetDisplayName(), rec.BondState.Label())
	} else {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: removed\n", address)
	}

	logBondResult(ctx, cfg, address, ok)

	return nil
}

func waitBond(ctx context.Context, s *session.Session, p *cliPresenter, address string, timeout time.Duration, check bondCheck) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		rec, ok := s.Lookup(address)

		done, err := check(rec, ok)
		if done || err != nil {
			return err
		}

		select {
		case <-p.changed:
		case <-timer.C:
			return fmt.Errorf("%w: %s after %v", errActionTimedOut, address, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func logBondResult(ctx context.Context, cfg *config.Config, address string, listed bool) {
	zerolog.Ctx(ctx).Debug().
		Str("backend", cfg.Bluetooth.Backend).
		Str("address", address).
		Bool("listed", listed).
		Msg("bond action finished")
}

// confirm asks a yes/no question on an interactive terminal. Without one it
// answers no, so scripts have to pass --yes.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	if f, ok := in.(*os.File); ok && !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false, nil
	}

	_, _ = fmt.Fprintf(out, "%s [y/N] ", question)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
