package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run anomaly detection now",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := apiClient().RunScan()
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		fmt.Printf("Scanned %d IPs, recorded %d findings in %s\n",
			stats.IPsScanned, stats.FindingsRecorded, stats.Duration)
		return nil
	},
}

var reportPeriod string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the traffic report",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := apiClient().Report(reportPeriod)
		if err != nil {
			return fmt.Errorf("failed to fetch report: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(raw)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportPeriod, "period", "24h", "report period, e.g. 1h, 24h")
	rootCmd.AddCommand(scanCmd, reportCmd)
}
