package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/noah-isme/toko-fulfillment/internal/app"
	"github.com/noah-isme/toko-fulfillment/internal/fulfillment"
)

func newAdaptersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "adapters",
		Short: "List provider adapters and validate the configured one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			registry, err := app.NewRegistry(cfg, app.Logger(cfg, "fulfillctl"))
			if err != nil {
				return err
			}
			configured, _ := registry.Adapter()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ADAPTER\tTYPE\tCONFIGURED")
			for _, key := range registry.Adapters() {
				mark := ""
				if key == configured {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", key, fulfillment.TypeName(key), mark)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if err := registry.Validate(); err != nil {
				return fmt.Errorf("env %s: %w", cfg.AppEnv, err)
			}
			return nil
		},
	}
}
