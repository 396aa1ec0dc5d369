package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bavix/btscan/internal/logging"
	verpkg "github.com/bavix/btscan/internal/version"
)

var (
	cfgFile     string //nolint:gochecknoglobals // cobra command flag
	logLevel    string //nolint:gochecknoglobals // cobra command flag
	logFormat   string //nolint:gochecknoglobals // cobra command flag
	backendFlag string //nolint:gochecknoglobals // cobra command flag
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "btscan",
		Short:         "Discover, bond and unbond Bluetooth devices through BlueZ",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			base := logging.New(cmd.ErrOrStderr(), "btscan", logLevel, logFormat)
			ctx := base.WithContext(cmd.Context())
			cmd.SetContext(ctx)

			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to config file (default: /etc/btscan/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error (default: config log.level)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format: json, console (default: config log.format)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Override bluetooth.backend: bluez, simulated")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newDevicesCmd())
	rootCmd.AddCommand(newBondCmd())
	rootCmd.AddCommand(newUnbondCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newTokenCmd())

	rootCmd.Version = verpkg.GetVersion()
	rootCmd.SetVersionTemplate(verpkg.Get().String() + "\n")

	return rootCmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func ExecuteContext(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
