// Command fulfillctl runs fulfillment stages and maintenance tasks by hand.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/toko-fulfillment/internal/config"
)

type rootOptions struct {
	env        string
	configFile string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "fulfillctl",
		Short: "Operate the fulfillment pipeline",
		Long: `fulfillctl runs fulfillment stages outside the scheduler, applies schema
migrations and inspects the configured provider adapter.

Configuration is read from the environment (and .env) like the worker.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.env, "env", "", "override APP_ENV")
	root.PersistentFlags().StringVar(&opts.configFile, "fulfillment-config", "", "override FULFILLMENT_CONFIG_FILE")

	root.AddCommand(
		newRunCmd(opts),
		newLastCmd(opts),
		newMigrateCmd(opts),
		newAdaptersCmd(opts),
	)
	return root
}

// load reads the environment config and applies flag overrides.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if env := strings.TrimSpace(o.env); env != "" {
		cfg.AppEnv = env
	}
	if file := strings.TrimSpace(o.configFile); file != "" {
		cfg.FulfillmentConfigFile = file
	}
	return cfg, nil
}
