package serve

import (
	"github.com/spf13/cobra"
)

// NewServeCommand builds the `serve` subcommand: load a config file, boot
// the router, run until interrupted.
func NewServeCommand() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the proxy router",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serveCmd(configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "obshepherd.yaml", "Path to the connection/route config file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
