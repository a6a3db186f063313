// Command obshepherd runs the WebSocket proxy: `serve` boots the router
// from a config file, `keygen` mints operator auth keys.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/botshepherd/wsproxy/cmd/obshepherd/internal/keygen"
	"github.com/botshepherd/wsproxy/cmd/obshepherd/internal/serve"
)

func main() {
	root := &cobra.Command{
		Use:   "obshepherd",
		Short: "WebSocket reverse/fan-out proxy for OneBot-speaking bot frameworks",
	}

	root.AddCommand(serve.NewServeCommand())
	root.AddCommand(keygen.NewKeygenCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
