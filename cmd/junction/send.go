package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/junction/internal/transport"
)

func newSendCmd() *cobra.Command {
	var (
		configPath     string
		conversationID string
	)

	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Route one line of text and print the reply",
		Long: `Routes text through this agent's dispatcher without starting a server.

  junction send "@weather_bot what's the forecast?"
  junction send "#smithery:search find golang tutorials"
  junction send /help`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, configPath, conversationID, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id (default: a new one)")
	return cmd
}

func runSend(cmd *cobra.Command, configPath, conversationID, text string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := buildAgent(ctx, agentOpts{Config: cfg, Logger: newLogger(cfg.Log, cmd.ErrOrStderr())})
	if err != nil {
		return err
	}
	defer a.Close()

	if conversationID == "" {
		conversationID = transport.NewConversationID()
	}
	fmt.Fprintln(cmd.OutOrStdout(), a.dispatcher.Route(ctx, text, conversationID, 0))
	return nil
}
