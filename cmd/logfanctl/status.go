package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the admin API health endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(viper.GetString("api") + "/healthz")
		if err != nil {
			return fmt.Errorf("service unreachable: %w", err)
		}
		defer resp.Body.Close()

		var health struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			return fmt.Errorf("unexpected health response: %w", err)
		}
		fmt.Printf("status: %s\n", health.Status)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the current configuration snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(viper.GetString("api") + "/config")
		if err != nil {
			return fmt.Errorf("service unreachable: %w", err)
		}
		defer resp.Body.Close()

		var doc json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return fmt.Errorf("unexpected config response: %w", err)
		}
		pretty, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(pretty))
		return nil
	},
}
