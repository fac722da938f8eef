package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string // "text" | "json" | "pretty"
}

// ValidLogFormats defines the allowed log formats.
var ValidLogFormats = []string{"text", "json", "pretty"}

// NewRootCommand creates the root command for the gamesync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "gamesync",
		Short: "Peer-to-peer dice game state synchronization",
		Long: `gamesync keeps a shared dice game consistent across peers that talk
over an unreliable network. Each node applies operations optimistically,
orders them by vector clock and confirms them by majority acknowledgment.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.LogFormat != "" && !slices.Contains(ValidLogFormats, opts.LogFormat) {
				return fmt.Errorf("invalid log format %q: must be one of %v", opts.LogFormat, ValidLogFormats)
			}
			return nil
		},
	}

	// Empty values defer to the config file and environment.
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json|pretty)")

	cmd.AddCommand(NewNodeCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))

	return cmd
}
