package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var blockReason string

var blockCmd = &cobra.Command{
	Use:   "block <ip>",
	Short: "Block an IP address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().Block(args[0], blockReason); err != nil {
			return fmt.Errorf("failed to block %s: %w", args[0], err)
		}
		fmt.Printf("Blocked %s\n", args[0])
		return nil
	},
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <ip>",
	Short: "Unblock an IP address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().Unblock(args[0]); err != nil {
			return fmt.Errorf("failed to unblock %s: %w", args[0], err)
		}
		fmt.Printf("Unblocked %s\n", args[0])
		return nil
	},
}

var blocklistCmd = &cobra.Command{
	Use:     "blocklist",
	Aliases: []string{"bl"},
	Short:   "List blocked IP addresses",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := apiClient().ListBlocked()
		if err != nil {
			return fmt.Errorf("failed to list blocklist: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return json.NewEncoder(os.Stdout).Encode(entries)
		}

		if len(entries) == 0 {
			fmt.Println("No blocked IPs")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "IP\tBLOCKED AT\tREASON")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.IP, e.CreatedAt.Format("2006-01-02 15:04"), e.Reason)
		}
		return tw.Flush()
	},
}

func init() {
	blockCmd.Flags().StringVar(&blockReason, "reason", "", "reason for blocking")
	rootCmd.AddCommand(blockCmd, unblockCmd, blocklistCmd)
}
