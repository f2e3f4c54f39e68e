// Command rowstream serves upstream lists as framed CSV streams over TCP.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "rowstream",
		Short: "Stream upstream lists as framed CSV rows",
		Long: `rowstream resolves a list into its items, fetches every item concurrently
and streams the rows back in list order over a length-prefixed TCP protocol.

Settings are read from flags, ROWSTREAM_* environment variables or config.yaml
in /etc/rowstream, $HOME/.rowstream or the working directory (in that order).`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newHealthCommand())
	root.AddCommand(newListCommand())

	return root
}

// mustBindPFlag binds a viper key to a cobra flag and panics if the binding fails.
func mustBindPFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}
