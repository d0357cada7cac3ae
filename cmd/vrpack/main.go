// Package main implements vrpack, a CLI for vector resource containers and
// the profile store they are exported from.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/vecfs/internal/config"
)

// version is set at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "vrpack",
		Short: "Inspect vector resource containers and move them in and out of a store",
		Long: `vrpack works with .vrkai files (one vector resource) and .vrpack files
(a folder tree of them).

Offline commands read container files directly:
  vrpack inspect notes.vrpack
  vrpack unpack notes.vrpack
  vrpack search notes.vrpack "who maintains the scheduler?"

Store commands act as the profile owner on the configured snapshot store:
  vrpack add --profile alice --path /notes meeting.md
  vrpack export --profile alice --path /notes notes.vrpack
  vrpack import --profile bob --path /shared notes.vrpack`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")

	cmd.AddCommand(
		newInspectCmd(opts),
		newUnpackCmd(opts),
		newSearchCmd(opts),
		newAddCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
	)
	return cmd
}
