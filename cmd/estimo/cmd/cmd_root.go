package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"estimo/server/config"
)

var (
	cfg      *config.Config
	logLevel string
)

var logger = logrus.New()

var rootCmd = &cobra.Command{
	Use:   "estimo",
	Short: "estimation du prix des appartements à partir des ventes DVF",
	Long: `
estimo estime le prix d'un bien immobilier à partir de son adresse et de ses
caractéristiques, et alimente la base des ventes DVF utilisée pour
l'historique des prix au m².
`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		logger.SetLevel(level)

		cfg, err = config.LoadConfig()
		if err != nil {
			return err
		}
		return nil
	},
}

var Version = "dev"

func init() {
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "niveau de log (debug, info, warn, error)")
}

func Execute(version string) {
	Version = version
	rootCmd.Version = version

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
