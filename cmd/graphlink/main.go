package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/codegraph/graphlink/internal/config"
	"github.com/codegraph/graphlink/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	logFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "graphlink",
	Short: "GraphLink - resilient client for remote graph databases",
	Long: `GraphLink maintains a healthy connection pool to a remote graph
database and runs statements through it with retries, circuit breaking,
and automatic session recovery.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Initialize logger
		logger = logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		// Library packages log through slog; route their output per the
		// same verbosity flag.
		logCfg := logging.DefaultConfig(verbose)
		if logFile != "" {
			logCfg = logging.FileConfig(logFile)
		}
		if closeLog, err := logging.Setup(logCfg); err != nil {
			logger.WithError(err).Warn("Failed to set up log output")
		} else {
			cobra.OnFinalize(func() { closeLog() })
		}

		// Load configuration
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("Failed to load config, using defaults")
			cfg = config.Default()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .graphlink/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "mirror library logs to a rotating file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Set custom version template
	rootCmd.SetVersionTemplate(`GraphLink {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	// Add subcommands
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(insertCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configureCmd)
}
