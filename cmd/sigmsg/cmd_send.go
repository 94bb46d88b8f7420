package main

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/digitalbodhi/sigmsg/internal/gateway"
)

func init() {
	rootCmd.AddCommand(sendCmd, statusCmd)

	sendCmd.Flags().StringArray("to", nil, "recipient number or group id (repeatable, required)")
	sendCmd.Flags().StringArray("attach", nil, "path of a file to attach (repeatable)")
	sendCmd.Flags().Bool("group", false, "recipients are group ids")
	_ = sendCmd.MarkFlagRequired("to")
}

// gatewayClient returns a client for the gateway of the running serve.
func gatewayClient() *gateway.Client {
	return gateway.NewClient(dialAddr(loadConfig().Gateway.Listen))
}

// dialAddr turns a listen address into one a local client can dial.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message through the running gateway",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetStringArray("to")
		attach, _ := cmd.Flags().GetStringArray("attach")
		group, _ := cmd.Flags().GetBool("group")

		req := gateway.SendRequest{
			Recipients:  to,
			Message:     strings.Join(args, " "),
			Attachments: attach,
			Group:       group,
		}
		if err := gatewayClient().Send(cmd.Context(), req); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Message sent to %s.\n", strings.Join(to, ", "))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the health of the running gateway",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		health, err := gatewayClient().Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		keys := make([]string, 0, len(health))
		for k := range health {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(os.Stdout, "%s = %v\n", k, health[k])
		}
		return nil
	},
}
