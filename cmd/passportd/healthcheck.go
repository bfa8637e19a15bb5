package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// healthcheckCmd lets distroless images check the server without curl.
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck [url]",
	Short: "Exit non-zero unless url answers with a 2xx status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := "http://localhost:8080/readyz"
		if len(args) == 1 {
			url = args[0]
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")
		return checkHealth(&http.Client{Timeout: timeout}, url)
	},
}

func init() {
	healthcheckCmd.Flags().Duration("timeout", 5*time.Second, "Request timeout")
}

func checkHealth(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("healthcheck failed: status %d", resp.StatusCode)
}
