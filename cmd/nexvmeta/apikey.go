package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nexvmeta/internal/infra"
	"nexvmeta/internal/infra/credentials"
	"nexvmeta/internal/setup"
)

func newAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage provider API keys stored in the database",
	}
	var provider, key string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store an API key for a provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			logger := infra.NewLogger("cli").With().Str("cmd", "apikey").Str("provider", provider).Logger()

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			pool, runner, err := setup.Database(ctx, cfg, &logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := setup.Credentials(runner)
			if err := store.Set(ctx, provider, key, map[string]any{"source": "cli"}); err != nil {
				return fmt.Errorf("persist %s api key: %w", provider, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s api key stored\n", strings.ToLower(provider))
			return nil
		},
	}
	set.Flags().StringVar(&provider, "provider", credentials.ProviderGemini, "Provider: "+strings.Join(credentials.Providers, ", "))
	set.Flags().StringVar(&key, "key", "", "API key to store")
	_ = set.MarkFlagRequired("key")
	cmd.AddCommand(set)
	return cmd
}
