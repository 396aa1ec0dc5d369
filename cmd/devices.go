package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bavix/btscan/internal/events"
)

func newDevicesCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices bonded with the adapter",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			s, err := openSession(ctx, cfg, events.NopPresenter{}, consoleNotifier(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			defer func() { _ = s.Close() }()

			bonded, err := s.BondedDevices(ctx)
			if err != nil {
				return err
			}

			return printDevices(cmd.OutOrStdout(), bonded, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print devices as JSON")

	return cmd
}
