// gatewaytail connects to the gateway and writes every dispatch event to a
// sink: the console, a postgres table or a redis stream.
//
// Configuration is read from an optional YAML file, GATEWAY_* environment
// variables and flags. When no token is configured it is discovered from
// the desktop client's local storage.
//
// Usage:
//
//	gatewaytail --events MESSAGE_CREATE,MESSAGE_UPDATE
//	gatewaytail --config gatewaytail.yaml --sink postgres --metrics-listen :9090
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := runCmd()
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gatewaytail %s (%s) %s %s/%s\n",
				version, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
