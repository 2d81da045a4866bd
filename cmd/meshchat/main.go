// Command meshchat serves the multi-agent chat API.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "meshchat",
	Short: "Multi-agent chat orchestrator with conversational memory",
	Long: `meshchat routes each chat message to the agents best suited to answer it,
merges their answers into one response and remembers the conversation.

Configuration is read from meshchat.yaml (or --config) and MESHCHAT_*
environment variables, e.g. MESHCHAT_SERVER_ADDR=:9090.`,
	Version:      version,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(agentsCmd)
}

func main() {
	Execute()
}
