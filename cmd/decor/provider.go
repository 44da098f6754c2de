package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/app"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/config"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/providers"
)

var errNoCredential = errors.New("no credential configured for the selected provider")

func loadProvider(ctx context.Context) (providers.Provider, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	p, err := app.BuildProvider(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if p == nil {
		return nil, nil, fmt.Errorf("%s: %w", cfg.Upstream.Provider, errNoCredential)
	}
	return p, cfg, nil
}

func newModelsCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models visible to the configured key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			p, _, err := loadProvider(ctx)
			if err != nil {
				return err
			}
			lister, ok := p.(providers.ModelLister)
			if !ok {
				return fmt.Errorf("provider %s cannot list models", p.Name())
			}
			models, err := lister.ListModels(ctx)
			if err != nil {
				return err
			}
			return printModels(cmd.OutOrStdout(), models)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}

func printModels(w io.Writer, models []providers.ModelInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDISPLAY NAME\tACTIONS")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, m.DisplayName, strings.Join(m.Actions, ","))
	}
	return tw.Flush()
}

func newCheckKeyCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check-key",
		Short: "Probe the configured provider once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			p, cfg, err := loadProvider(ctx)
			if err != nil {
				return err
			}
			if err := p.HealthCheck(ctx); err != nil {
				return fmt.Errorf("%s key rejected: %w", p.Name(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s key ok (model %s)\n", p.Name(), cfg.Upstream.Model)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")
	return cmd
}
