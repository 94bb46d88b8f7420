package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/digitalbodhi/sigmsg/internal/event"
	"github.com/digitalbodhi/sigmsg/internal/state"
)

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleRemoveCmd, scheduleEnableCmd, scheduleDisableCmd)

	scheduleAddCmd.Flags().String("name", "", "schedule name (required)")
	scheduleAddCmd.Flags().String("cron", "", "cron expression, seconds field optional (required)")
	scheduleAddCmd.Flags().StringArray("to", nil, "recipient number or group id (repeatable, required)")
	scheduleAddCmd.Flags().String("message", "", "message text (required)")
	scheduleAddCmd.Flags().Bool("group", false, "recipients are group ids")
	scheduleAddCmd.Flags().Bool("disabled", false, "add the schedule disabled")
	_ = scheduleAddCmd.MarkFlagRequired("name")
	_ = scheduleAddCmd.MarkFlagRequired("cron")
	_ = scheduleAddCmd.MarkFlagRequired("to")
	_ = scheduleAddCmd.MarkFlagRequired("message")
}

// A running serve picks up changes through its schedule-file watcher.
func scheduleStore() *state.ScheduleStore {
	cfg := loadConfig()
	return state.NewScheduleStore(state.DefaultSchedulePath(cfg.DataDir))
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage scheduled messages",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a scheduled message",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		expr, _ := cmd.Flags().GetString("cron")
		to, _ := cmd.Flags().GetStringArray("to")
		message, _ := cmd.Flags().GetString("message")
		group, _ := cmd.Flags().GetBool("group")
		disabled, _ := cmd.Flags().GetBool("disabled")

		sc := &state.Schedule{
			Name:       name,
			Schedule:   expr,
			Recipients: event.NormalizeRecipients(to...),
			Message:    message,
			Group:      group,
			Enabled:    !disabled,
		}
		if err := scheduleStore().Add(sc); err != nil {
			return fmt.Errorf("add schedule: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Schedule %q added.\n", name)
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		schedules, err := scheduleStore().List()
		if err != nil {
			return fmt.Errorf("list schedules: %w", err)
		}
		if len(schedules) == 0 {
			fmt.Println("No schedules configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSCHEDULE\tENABLED\tRECIPIENTS\tMESSAGE")
		for _, sc := range schedules {
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
				sc.Name,
				sc.Schedule,
				sc.Enabled,
				strings.Join(sc.Recipients, ","),
				sc.Message,
			)
		}
		return w.Flush()
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a scheduled message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := scheduleStore().Remove(args[0]); err != nil {
			return fmt.Errorf("remove schedule: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Schedule %q removed.\n", args[0])
		return nil
	},
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a scheduled message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := scheduleStore().SetEnabled(args[0], true); err != nil {
			return fmt.Errorf("enable schedule: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Schedule %q enabled.\n", args[0])
		return nil
	},
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a scheduled message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := scheduleStore().SetEnabled(args[0], false); err != nil {
			return fmt.Errorf("disable schedule: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Schedule %q disabled.\n", args[0])
		return nil
	},
}
