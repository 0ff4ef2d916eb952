// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"
)

const (
	serviceName = "wherobots-sql"
	keyAPIKey   = "api_key"
)

// openRing opens the OS credential store, falling back to an encrypted file
// where no native backend is available.
func openRing() (keyring.Keyring, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("locating config directory: %w", err)
	}
	return keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		KeychainTrustApplication: true,
		PassPrefix:               serviceName,
		WinCredPrefix:            serviceName,
		FileDir:                  filepath.Join(dir, serviceName, "keys"),
		FilePasswordFunc:         keyring.TerminalPrompt,
	})
}

func saveAPIKey(key string) error {
	ring, err := openRing()
	if err != nil {
		return err
	}
	return ring.Set(keyring.Item{
		Key:   keyAPIKey,
		Data:  []byte(key),
		Label: "Wherobots API key",
	})
}

// loadAPIKey returns the stored API key, or "" when none is stored.
func loadAPIKey() (string, error) {
	ring, err := openRing()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(keyAPIKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(item.Data)), nil
}

func clearAPIKey() error {
	ring, err := openRing()
	if err != nil {
		return err
	}
	if err := ring.Remove(keyAPIKey); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return err
	}
	return nil
}

// resolveCredentials picks the token or API key to use: flags first, then
// the environment, then the credential store.
func resolveCredentials(token, apiKey string) (string, string, error) {
	if token == "" {
		token = os.Getenv("WHEROBOTS_API_TOKEN")
	}
	if apiKey == "" {
		apiKey = os.Getenv("WHEROBOTS_API_KEY")
	}
	if token != "" || apiKey != "" {
		return token, apiKey, nil
	}
	stored, err := loadAPIKey()
	if err != nil {
		return "", "", fmt.Errorf("reading stored API key: %w", err)
	}
	if stored == "" {
		return "", "", errors.New("no credentials: pass --api-key, set WHEROBOTS_API_KEY or run wherobots-sql login")
	}
	return "", stored, nil
}
