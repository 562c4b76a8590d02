// Command keystone runs the membership lifecycle service and its operator
// tooling.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"keystone/internal/platform/config"
	"keystone/internal/platform/logger"
)

const programName = "keystone"

// app carries what PersistentPreRunE resolves for every subcommand.
type app struct {
	debug  bool
	cfg    config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           programName,
		Short:         "Membership status lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger.New(a.debug || cfg.Debug)
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&a.debug, "debug", "D", false, "enable debug logging")

	root.AddCommand(serveCommand(a))
	root.AddCommand(migrateCommand(a))
	root.AddCommand(backfillCommand(a))
	root.AddCommand(issueTokenCommand(a))
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error(err.Error(), "component", programName)
		os.Exit(1)
	}
}
