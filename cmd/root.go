package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dMem/cmd/inspect"
	"github.com/ValentinKolb/dMem/cmd/serve"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dmem",
		Short: "sharded entities with remembered membership",
		Long: fmt.Sprintf(`dMem (v%s)

Runs sharded entities whose membership survives restarts. Every shard
remembers its started entities in an event sourced journal (memory,
leveldb or replicated with RAFT) and restarts them after a crash.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dMem",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dMem v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(inspect.InspectCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
