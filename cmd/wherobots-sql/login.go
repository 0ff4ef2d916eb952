// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var loginKey string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a Wherobots API key in the OS credential store",
	Long: `The login command saves an API key so later commands can connect without
--api-key or WHEROBOTS_API_KEY. The key is read from --api-key or, if absent,
from standard input.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.TrimSpace(loginKey)
		if key == "" {
			pterm.Print("API key: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading API key: %w", err)
			}
			key = strings.TrimSpace(line)
		}
		if key == "" {
			return errors.New("empty API key")
		}
		if err := saveAPIKey(key); err != nil {
			return fmt.Errorf("saving API key: %w", err)
		}
		pterm.Success.Println("API key saved")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := clearAPIKey(); err != nil {
			return fmt.Errorf("removing API key: %w", err)
		}
		pterm.Success.Println("Stored API key removed")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginKey, "api-key", "", "API key to store")
	rootCmd.AddCommand(loginCmd, logoutCmd)
}
