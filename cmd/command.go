package cmd

import (
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "relaycast",
	Short: "Relaycast - media upload orchestration",
	Long: `Relaycast accepts large media files in bounded-size chunks and relays
them to external platforms that each speak a different resumable upload
protocol. It tracks per-session transfer state durably so an interrupted
upload resumes without re-sending acknowledged bytes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config_dir", ".", "Directory for configuration files")
}

// loadConfiguration merges an optional config file into viper. Environment
// variables override file values; explicit CLI flags override both (see
// FlagLoader).
func loadConfiguration(configFileName string) bool {
	viper.SetConfigName(configFileName)
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.relaycast")
	viper.AddConfigPath("/etc/relaycast/")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Info().Msgf("Config file not found: %s", configFileName)
			return false
		}
		log.Warn().Err(err).Msgf("Failed to load config file: %s", configFileName)
		return false
	}
	log.Info().Msgf("Loaded config file: %s", viper.ConfigFileUsed())
	return true
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
