package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncspace/engine/internal/logger"
)

var (
	configDir    string
	dotEnvFile   string
	identityPath string
	timeout      time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "syncctl - operator CLI for the syncspace sync engine",
	Long: `syncctl wraps the space manager and epoch protocol in a small
operator CLI: creating and inviting into spaces, accepting or declining
invitations, listing members, forcing a key rotation, and revoking a
member, all against a running relay.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", logger.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "directory containing environment config files")
	rootCmd.PersistentFlags().StringVar(&dotEnvFile, "env-file", "", ".env file to load before resolving config (optional)")
	rootCmd.PersistentFlags().StringVar(&identityPath, "identity", "identity.json", "path to this operator's identity file (created if missing)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "per-command relay request timeout")

	// Subcommands are registered in space.go: create-space, invite, accept,
	// decline, revoke, members, rotate, check-invitations
}
