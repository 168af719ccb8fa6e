package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/user/logfan/internal/config"
	"github.com/user/logfan/pkg/broker"
)

func init() {
	rootCmd.AddCommand(reloadCmd)
}

var reloadCmd = &cobra.Command{
	Use:   "reload <config.json>",
	Short: "Push a configuration document to the control queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		// Validate locally first so a bad document never reaches the
		// control queue.
		if _, err := config.Parse(body); err != nil {
			return fmt.Errorf("document rejected: %w", err)
		}

		pub := broker.NewPublisher(viper.GetString("url"))
		defer pub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pub.PublishControl(ctx, body); err != nil {
			return fmt.Errorf("reload publish failed: %w", err)
		}
		fmt.Printf("reload requested with %s\n", args[0])
		return nil
	},
}
