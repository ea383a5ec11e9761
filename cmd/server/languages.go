package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/multichannel-posting-api/internal/config"
	"github.com/multichannel-posting-api/internal/gateway/translation"
	"github.com/spf13/cobra"
)

func newLanguagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the languages the translation gateway supports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			languages, err := translation.NewClient(cfg.Translation).Languages(ctx)
			if err != nil {
				return fmt.Errorf("failed to list languages: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME")
			for _, l := range languages {
				fmt.Fprintf(w, "%s\t%s\n", l.Code, l.Name)
			}
			return w.Flush()
		},
	}
}
