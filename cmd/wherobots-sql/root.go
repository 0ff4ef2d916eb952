// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Query-farm/wherobots-sql/sqlsession"
	"github.com/spf13/cobra"
)

var (
	showVersion bool
	debug       bool
)

var rootCmd = &cobra.Command{
	Use:           "wherobots-sql",
	Short:         "Run SQL on Wherobots SQL sessions",
	Long:          `wherobots-sql provisions a Wherobots SQL session, runs statements on it concurrently and prints the results.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Println(sqlsession.UserAgent())
			return nil
		}
		return cmd.Help()
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Show the client version")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log frames and provisioning progress")
}
