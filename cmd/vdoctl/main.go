// Command vdoctl administers a depot's on-disk format: formatting a
// fresh backing file, replaying its recovery journal after a crash,
// zeroing its slab journals, and reporting geometry and capacity.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Errorf("%v", err)
		os.Exit(1)
	}
}
