package tourwatch

import (
	"fmt"

	"github.com/igorsilveira/tourwatch/pkg/config"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tourwatch",
	Short: "tourwatch - a resilient client for the tour operations live feed",
	Long: "tourwatch keeps an authenticated WebSocket connection to the operations console's live feed, " +
		"reconnects on unexpected drops, stores what it receives, and relays alerts to chat.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := loadConfig()
		return err
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.tourwatch/tourwatch.toml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of tourwatch",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tourwatch v%s\n", version)
	},
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
