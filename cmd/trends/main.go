// Command trends builds a topic taxonomy from dated user feedback and reports how often
// each topic was raised per day.
package main

import (
	"fmt"
	"os"

	"github.com/FrenchMajesty/topic-trends/internal/config"
	"github.com/FrenchMajesty/topic-trends/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version = "dev"

	logLevel string
	logJSON  bool
	verbose  bool

	env    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "trends",
	Short: "Daily topic trends for user feedback",
	Long: `trends pulls a window of dated feedback, clusters each day's items by meaning,
reconciles the clusters against a growing topic taxonomy with an LLM and writes a
topic x date count matrix.

Credentials are read from the environment or a .env file:
  OPENAI_API_KEY, VOYAGEAI_API_KEY, PINECONE_API_KEY, PINECONE_HOST`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		env, err = config.Load()
		if err != nil {
			return err
		}

		level := env.LogLevel
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, logJSON)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "trends %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit JSON logs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "shorthand for --log-level=debug")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
