package commands

// Root command for Cobra CLI
// Registers the serve subcommand

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "watcher-hub",
	Short: "Watcher Hub - multi-tenant watcher monitoring with Telegram notifications",
	Long: `Watcher Hub runs recurring checks for registered watcher monitors and
delivers alert, status and error notifications through each tenant's own
Telegram bot. An HTTP control surface manages registrations; chat binding
happens through the bots themselves via /start.`,
	Version: "1.0.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
