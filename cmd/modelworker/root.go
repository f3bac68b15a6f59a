package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/apex-x/modelworker/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
	v          *viper.Viper
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{v: config.New()}
	cmd := &cobra.Command{
		Use:           "modelworker",
		Short:         "Model worker that batches requests into an inference entry point",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().String("log-format", "json", "log format: json|text|discard")
	cmd.PersistentFlags().String("log-level", "info", "log level: debug|info|warn|error")
	bindFlag(opts.v, "log.format", cmd.PersistentFlags().Lookup("log-format"))
	bindFlag(opts.v, "log.level", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(
		newServeCommand(opts),
		newNormalizeCommand(),
		newVersionCommand(),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the worker version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "modelworker %s\n", version)
		},
	}
}

// load resolves the configuration once all flags are parsed.
func (o *rootOptions) load() (config.Config, error) {
	return config.Load(o.v, o.configPath)
}
