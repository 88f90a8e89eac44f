package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/directory"
	"github.com/zulandar/junction/internal/envelope"
	"github.com/zulandar/junction/internal/heartbeat"
	"github.com/zulandar/junction/internal/server"
	"github.com/zulandar/junction/internal/telegraph"
	discordadapter "github.com/zulandar/junction/internal/telegraph/discord"
	slackadapter "github.com/zulandar/junction/internal/telegraph/slack"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		registry   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent server",
		Long: `Starts the agent's A2A endpoint and, when configured, the registry API,
the heartbeat that keeps the agent's directory entry fresh, and the chat bridge.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			if registry {
				cfg.Server.Registry = true
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, cmd, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen)")
	cmd.Flags().BoolVar(&registry, "registry", false, "also serve the registry API")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	log := newLogger(cfg.Log, os.Stderr)

	events := server.NewEvents()
	var bridge *telegraph.Bridge

	a, err := buildAgent(ctx, agentOpts{
		Config: cfg,
		Logger: log,
		OnEnvelope: func(env *envelope.Envelope) {
			events.Publish(env)
			if bridge != nil {
				bridge.Announce(env)
			}
		},
	})
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Chat.Platform != "" {
		adapter, err := createAdapter(cfg, log)
		if err != nil {
			return err
		}
		bridge, err = telegraph.NewBridge(telegraph.BridgeOpts{
			Adapter:   adapter,
			Router:    a.dispatcher,
			ChannelID: cfg.Chat.ChannelID,
			Logger:    log,
		})
		if err != nil {
			return err
		}
	}

	var hb *heartbeat.Heartbeat
	if cfg.Heartbeat.Enabled {
		hb, err = heartbeat.New(heartbeat.Opts{
			Directory: a.stores.Agents,
			Entry: directory.Entry{
				AgentID:       cfg.Agent.ID,
				Address:       cfg.AgentURL(),
				ServiceCharge: cfg.Agent.ServiceCharge,
				DisplayName:   cfg.Agent.Name,
			},
			Schedule: cfg.Heartbeat.Schedule,
			Logger:   log,
		})
		if err != nil {
			return err
		}
	}

	opts := server.StartOpts{
		Receiver: a.dispatcher,
		Events:   events,
		Config:   cfg.Server,
		Logger:   log,
		Out:      out,
	}
	if cfg.Server.Registry {
		opts.Registry = a.stores.Agents
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx, opts) })
	if hb != nil {
		g.Go(func() error {
			// A registry outage must not take the agent down.
			if err := hb.Run(gctx); err != nil {
				log.Warn().Err(err).Msg("heartbeat: stopped")
			}
			return nil
		})
	}
	if bridge != nil {
		g.Go(func() error { return bridge.Run(gctx) })
		fmt.Fprintf(out, "Chat bridge connected to %s channel %s\n", cfg.Chat.Platform, cfg.Chat.ChannelID)
	}
	if a.stores.File != nil && cfg.Directory.Watch {
		g.Go(func() error { return a.stores.File.Watch(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Agent %s stopped\n", cfg.Agent.ID)
	return nil
}

// createAdapter builds a chat platform adapter from the config.
func createAdapter(cfg *config.Config, log zerolog.Logger) (telegraph.Adapter, error) {
	switch cfg.Chat.Platform {
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken:  cfg.Chat.AppToken,
			BotToken:  cfg.Chat.BotToken,
			ChannelID: cfg.Chat.ChannelID,
			Logger:    log,
		})
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken:  cfg.Chat.BotToken,
			ChannelID: cfg.Chat.ChannelID,
			Logger:    log,
		})
	default:
		return nil, fmt.Errorf("chat: unsupported platform %q", cfg.Chat.Platform)
	}
}
