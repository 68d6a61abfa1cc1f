package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	findingsAll   bool
	findingsLimit int
)

var findingsCmd = &cobra.Command{
	Use:   "findings",
	Short: "List suspicion findings",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := apiClient().ListFindings(findingsAll, findingsLimit)
		if err != nil {
			return fmt.Errorf("failed to list findings: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return json.NewEncoder(os.Stdout).Encode(list)
		}

		if len(list) == 0 {
			fmt.Println("No findings")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "IP\tREASON\tDETECTED AT\tACTIVE")
		for _, f := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n",
				f.IP, f.Reason, f.DetectedAt.Format("2006-01-02 15:04"), f.IsActive)
		}
		return tw.Flush()
	},
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss <ip> <reason>",
	Short: "Deactivate an active finding",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().DeactivateFinding(args[0], args[1]); err != nil {
			return fmt.Errorf("failed to dismiss finding: %w", err)
		}
		fmt.Printf("Dismissed %s finding for %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	findingsCmd.Flags().BoolVar(&findingsAll, "all", false, "include inactive findings")
	findingsCmd.Flags().IntVar(&findingsLimit, "limit", 50, "maximum findings to return")
	rootCmd.AddCommand(findingsCmd, dismissCmd)
}
