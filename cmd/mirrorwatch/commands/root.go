// Package commands implements the mirrorwatch CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tangthinker/mirrorwatch/internal/client"
	"github.com/tangthinker/mirrorwatch/internal/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile    string
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:   "mirrorwatch",
	Short: "Debounced mirror backups driven by change notifications",
	Long: `mirrorwatch listens for change notifications (Redis pub/sub or a local
directory watch), waits until the stream has been quiet for a configurable
period and then runs exactly one backup for the whole burst.

Run the daemon with "mirrorwatch run". The status, trigger and history
commands talk to a running daemon over its control socket.

Environment variables override config keys: MIRRORWATCH_<SECTION>_<KEY>,
e.g. MIRRORWATCH_DEBOUNCE_QUIET_PERIOD=10s.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml, ~/.mirrorwatch/config.yaml or /etc/mirrorwatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "control socket (default: daemon.socket from config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration with a fresh viper instance.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.New(), cfgFile)
}

// newClient connects to the socket named by --socket or the config.
func newClient() (*client.Client, error) {
	if socketPath != "" {
		return client.NewClient(socketPath), nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return client.NewClient(cfg.Daemon.Socket), nil
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mirrorwatch %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}
