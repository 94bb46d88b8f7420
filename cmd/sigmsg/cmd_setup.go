package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/digitalbodhi/sigmsg/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("sigmsg setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Account.Number = prompt(scanner, "Account phone number (e.g. +15550001234)", cfg.Account.Number)
		cfg.Account.Name = prompt(scanner, "Profile name", cfg.Account.Name)
		cfg.Account.GivenName = prompt(scanner, "Given name (optional)", cfg.Account.GivenName)
		cfg.Account.FamilyName = prompt(scanner, "Family name (optional)", cfg.Account.FamilyName)

		cfg.Daemon.Host = prompt(scanner, "signal-cli daemon host", cfg.Daemon.Host)
		portStr := prompt(scanner, "signal-cli daemon port", strconv.Itoa(cfg.Daemon.Port))
		if n, err := strconv.Atoi(portStr); err == nil {
			cfg.Daemon.Port = n
		}

		cfg.Gateway.Listen = prompt(scanner, "Gateway listen address", cfg.Gateway.Listen)
		cfg.AutoReply = prompt(scanner, "Auto-reply text (optional)", cfg.AutoReply)

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
