package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"caption-scheduler/internal/app"
	"caption-scheduler/internal/config"
	"caption-scheduler/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "captionctl",
	Short:         "Select, lock and monitor caption assignments",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		appHandle.Out = cmd.OutOrStdout()
		return nil
	},
}

// Execute runs the root command. Failures are reported as one JSON line on
// stderr and mapped to the error kind's exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		line, code := errorLine(err)
		fmt.Fprintln(os.Stderr, line)
		os.Exit(code)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(selectionCmd)
	rootCmd.AddCommand(evidenceCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(fatigueCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(showBaselinesCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
