// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/panelsim/pkg/fleet"
)

// GetPassword retrieves the WebSocket password from the environment or prompts
// the user
func GetPassword() (string, error) {
	if pw := os.Getenv(fleet.EnvPassword); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal, read a plain line instead
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// loadConfig reads the fleet file named by --config, applies environment
// overrides and validates the result
func loadConfig() (*fleet.Config, error) {
	cfg := fleet.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = fleet.LoadConfig(configPath, logger)
		if err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if cfg.Server.Transport == fleet.TransportWebSocket && cfg.Server.Username != "" && cfg.Server.Password == "" {
		pw, err := GetPassword()
		if err != nil {
			return nil, err
		}
		cfg.Server.Password = pw
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}
