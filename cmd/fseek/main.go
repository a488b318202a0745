// Package main provides the entry point for the fseek search tool.
//
// The main package:
// - Parses configuration and flags
// - Initializes logging
// - Runs a search or generates a record file
package main

import (
	"errors"
	"os"

	"github.com/flrossetto/fseek/internal/fseekerr"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals
var rootCmd = &cobra.Command{
	Use:           "fseek",
	Short:         "CLI for fseek",
	Long:          `Parallel first-match substring search over files of fixed-width records`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

//nolint:gochecknoglobals
var log = logrus.New()

func main() {
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.InfoLevel)

	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newGenCmd())

	if err := rootCmd.Execute(); err != nil {
		var ferr *fseekerr.Error
		if !errors.As(err, &ferr) {
			// flag and argument errors from cobra
			err = fseekerr.New(fseekerr.CodeInvalidInput, err.Error())
		}

		log.WithError(err).Error("fseek failed")
		os.Exit(fseekerr.ExitCode(err))
	}
}
