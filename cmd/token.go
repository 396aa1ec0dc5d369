package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bavix/btscan/internal/auth"
)

const defaultTokenTTL = 24 * time.Hour

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API scan and bond endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			key, err := cfg.HTTP.SecretKey()
			if err != nil {
				return err
			}

			token, err := auth.NewService(key).IssueToken(subject, ttl)
			if err != nil {
				if errors.Is(err, auth.ErrAuthNotConfigured) {
					return fmt.Errorf("set http.auth_secret: %w", err)
				}

				return err
			}

			zerolog.Ctx(ctx).Info().Str("subject", subject).Dur("ttl", ttl).Msg("admin token issued")

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)

			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "admin", "Token subject, logged with each unbond")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "Token lifetime; 0 issues a token that never expires")

	return cmd
}
