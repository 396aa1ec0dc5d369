package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bavix/btscan/internal/bluetooth"
	"github.com/bavix/btscan/internal/config"
	"github.com/bavix/btscan/internal/events"
	"github.com/bavix/btscan/internal/logging"
	"github.com/bavix/btscan/internal/session"
)

// loadConfig reads --config, or the default path when present, and applies
// the --backend override. The returned context carries a logger built from
// the log section, with --log-level and --log-format taking precedence.
func loadConfig(cmd *cobra.Command) (context.Context, *config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	if cfgFile == "" {
		cfg, err = config.LoadOrDefault(config.DefaultPath, false)
	} else {
		cfg, err = config.LoadOrDefault(cfgFile, true)
	}

	if err != nil {
		return nil, nil, err
	}

	if backendFlag != "" {
		cfg.Bluetooth.Backend = backendFlag
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	level, format := cfg.Log.Level, cfg.Log.Format
	if flagChanged(cmd, "log-level") {
		level = logLevel
	}

	if flagChanged(cmd, "log-format") {
		format = logFormat
	}

	base := logging.New(cmd.ErrOrStderr(), cfg.AppName, level, format)
	ctx := base.WithContext(cmd.Context())
	cmd.SetContext(ctx)

	return ctx, cfg, nil
}

func flagChanged(cmd *cobra.Command, name string) bool {
	f := cmd.Flag(name)

	return f != nil && f.Changed
}

func openSession(ctx context.Context, cfg *config.Config, presenter events.Presenter, notifier session.Notifier) (*session.Session, error) {
	open, err := bluetooth.NewOpener(cfg)
	if err != nil {
		return nil, err
	}

	authority, err := bluetooth.NewAuthority(cfg)
	if err != nil {
		return nil, err
	}

	return session.Open(ctx, session.Options{
		Open:      open,
		Authority: authority,
		Presenter: presenter,
		Notifier:  notifier,
		QueueSize: cfg.Router.QueueSize,
	})
}

// consoleNotifier prints user messages for one-shot commands.
func consoleNotifier(w io.Writer) session.Notifier {
	return session.NotifierFunc(func(_ context.Context, msg session.Message) {
		_, _ = fmt.Fprintf(w, "%s: %s\n", msg.Level, msg.Text)
	})
}
