package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vdo-go/depot/pkg/elog"
)

var log elog.View

var (
	flagJSON    bool
	flagVerbose bool
	flagDebug   bool
	flagConfig  string
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "enable json output")
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to a depot config file")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logger := &elog.CLI{}
		if flagJSON {
			logger.DisableTTY = true
			logrus.SetFormatter(&logrus.JSONFormatter{})
		} else {
			logrus.SetFormatter(logger)
		}
		logrus.SetLevel(logrus.TraceLevel)

		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}
		log = logger
		return nil
	}

	rootCmd.AddCommand(formatCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(scrubCmd)
}

var rootCmd = &cobra.Command{
	Use:   "vdoctl",
	Short: "administer a deduplicating thin-provisioned block-storage depot",
	Long: `vdoctl formats, repairs, rebuilds, and reports on a slab depot's
on-disk backing store.`,
}
