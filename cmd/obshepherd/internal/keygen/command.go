// Package keygen implements the `keygen` subcommand: mint one or more
// operator API keys for the auth command hook.
package keygen

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/botshepherd/wsproxy/pkg/authkey"
)

// NewKeygenCommand builds the `keygen` subcommand.
func NewKeygenCommand() *cobra.Command {
	var count int
	var length int

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate operator API keys for the auth command hook",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			keys, err := authkey.GenerateMany(count, length)
			if err != nil {
				return fmt.Errorf("keygen: %w", err)
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of keys to generate")
	cmd.Flags().IntVarP(&length, "length", "l", 32, "Length of each generated key")

	return cmd
}
