package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bavix/btscan/internal/bluetooth"
	"github.com/bavix/btscan/internal/config"
	customerrors "github.com/bavix/btscan/internal/errors"
)

var errAdapterOff = errors.New("bluetooth adapter is powered off")

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check configuration, permission and adapter state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := zerolog.Ctx(ctx)

			log.Info().
				Str("config", cfg.Path).
				Str("backend", cfg.Bluetooth.Backend).
				Str("permission", cfg.Bluetooth.Permission).
				Msg("checking system status")

			if err := checkPermission(ctx, cfg); err != nil {
				log.Err(err).Msg("permission check failed")

				return err
			}

			if err := checkAdapter(ctx, cfg); err != nil {
				log.Err(err).Msg("adapter check failed")

				return err
			}

			log.Info().Msg("system check completed successfully")

			return nil
		},
	}

	return cmd
}

func checkPermission(ctx context.Context, cfg *config.Config) error {
	authority, err := bluetooth.NewAuthority(cfg)
	if err != nil {
		return err
	}

	granted, err := authority.Request(ctx)
	if err != nil {
		return err
	}

	if !granted {
		return customerrors.ErrPermissionDenied
	}

	zerolog.Ctx(ctx).Info().Msg("bluetooth permission granted")

	return nil
}

func checkAdapter(ctx context.Context, cfg *config.Config) error {
	log := zerolog.Ctx(ctx)

	open, err := bluetooth.NewOpener(cfg)
	if err != nil {
		return err
	}

	sub, err := open(ctx)
	if err != nil {
		return err
	}

	defer func() { _ = sub.Close() }()

	enabled, err := sub.IsEnabled(ctx)
	if err != nil {
		return err
	}

	if !enabled {
		log.Warn().Msg("adapter is powered off; scan will ask to enable it")

		return errAdapterOff
	}

	bonded, err := sub.BondedDevices(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("bonded devices not readable")

		return nil
	}

	log.Info().Int("bonded", len(bonded)).Msg("adapter ready")

	return nil
}
