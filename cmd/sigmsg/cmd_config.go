package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/digitalbodhi/sigmsg/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configCheckCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

// printSettings writes every effective setting, marking those an
// environment variable overrides.
func printSettings(w io.Writer, cfg *config.Config) error {
	values, err := config.ListValues(cfg, true)
	if err != nil {
		return err
	}
	for _, s := range config.Settings() {
		line := fmt.Sprintf("%s = %v", s.Key, values[s.Key])
		if _, ok := s.Override(); ok {
			line += "  (from " + s.Env + ")"
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := printSettings(os.Stdout, loadConfig()); err != nil {
			return fmt.Errorf("list config: %w", err)
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get the effective value of a configuration key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		setting, err := config.Lookup(args[0])
		if err != nil {
			return err
		}
		if err := config.SetValue(cfgPath, args[0], args[1]); err != nil {
			return err
		}
		display := args[1]
		if setting.Secret {
			display = config.MaskSecret(display)
		}
		fmt.Fprintf(os.Stdout, "Set %s = %s\n", args[0], display)
		if _, ok := setting.Override(); ok {
			fmt.Fprintf(os.Stderr, "Note: %s is set and takes precedence over the file.\n", setting.Env)
		}
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the configuration is complete enough to serve",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig().Validate(); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "Configuration OK.")
		return nil
	},
}
