// The rendezvous command runs a server that waits for a configured set of
// named clients and binds each inbound connection to the next queued name.
//
// Commands:
//
//	serve: loads config.yaml from --config and runs until interrupted
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rendezvous",
	Short: "Named TCP rendezvous server",
	Long: `Stands up a TCP server that waits for a list of named clients. Clients are
	bound to names in the order the names were queued, and a client that drops is
	rebound to its old name as soon as it connects again.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(serveCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
