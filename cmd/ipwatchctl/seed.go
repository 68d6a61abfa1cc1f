package main

import (
	"fmt"
	"math/rand"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"
)

var (
	seedCount int
	seedIPs   int
)

// seedCmd pushes synthetic traffic through the check endpoint, handy for
// exercising detectors and the report in a dev environment.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate synthetic traffic for testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient()

		paths := []string{
			"/", "/index.html", "/api/products", "/api/orders",
			"/login", "/admin", "/search", "/static/app.js",
		}
		ips := make([]string, seedIPs)
		for i := range ips {
			ips[i] = gofakeit.IPv4Address()
		}

		outcomes := make(map[string]int)
		for i := 0; i < seedCount; i++ {
			ip := ips[rand.Intn(len(ips))]
			path := paths[rand.Intn(len(paths))]
			outcome, err := c.Check(ip, path, "", "")
			if err != nil {
				return fmt.Errorf("seed request failed: %w", err)
			}
			outcomes[outcome]++
		}

		fmt.Printf("Sent %d requests from %d IPs:\n", seedCount, seedIPs)
		for outcome, n := range outcomes {
			fmt.Printf("  %s: %d\n", outcome, n)
		}
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "count", 200, "number of requests to send")
	seedCmd.Flags().IntVar(&seedIPs, "ips", 10, "number of distinct source IPs")
	rootCmd.AddCommand(seedCmd)
}
