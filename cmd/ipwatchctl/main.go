package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sentriq/ipwatch/internal/client"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "ipwatchctl",
	Short: "ipwatch CLI",
	Long: `ipwatchctl is the command-line interface for the ipwatch daemon.

Manage the IP blocklist, review suspicion findings, trigger scans and
generate traffic reports.`,
	Version: "0.1.0",
}

func apiClient() *client.Client {
	return client.New(serverURL)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8090", "ipwatchd base URL")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
