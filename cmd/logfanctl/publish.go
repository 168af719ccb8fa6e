package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/user/logfan/pkg/broker"
)

var (
	publishProject  string
	publishLevel    string
	publishModule   string
	publishFunction string
	publishMessage  string
	publishCode     int
	publishQueue    string
)

func init() {
	publishCmd.Flags().StringVar(&publishProject, "project", "logfanctl", "project name")
	publishCmd.Flags().StringVar(&publishLevel, "level", "info", "record level")
	publishCmd.Flags().StringVar(&publishModule, "module", "cli", "module name")
	publishCmd.Flags().StringVar(&publishFunction, "function", "publish", "function name")
	publishCmd.Flags().StringVar(&publishMessage, "message", "test message", "message text")
	publishCmd.Flags().IntVar(&publishCode, "code", 0, "numeric code")
	publishCmd.Flags().StringVar(&publishQueue, "queue", "logs", "log queue name")
	rootCmd.AddCommand(publishCmd)
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a test log record to the log queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := json.Marshal(map[string]any{
			"project":   publishProject,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"level":     publishLevel,
			"module":    publishModule,
			"function":  publishFunction,
			"message":   publishMessage,
			"code":      publishCode,
		})
		if err != nil {
			return err
		}

		pub := broker.NewPublisher(viper.GetString("url"))
		defer pub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pub.Publish(ctx, publishQueue, body); err != nil {
			return fmt.Errorf("publish failed: %w", err)
		}
		fmt.Printf("published to %q: %s\n", publishQueue, body)
		return nil
	},
}
