package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"relaybot/internal/channel"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the enabled channels and the relay loop",
		Long:  "Starts the Bot Framework endpoint, Telegram and CLI channels as configured. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	rt, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	channels := buildChannels(cfg, rt)
	if len(channels) == 0 {
		return errors.New("no channels enabled (see channels.bot, channels.telegram, channels.cli)")
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.loop.Run(gctx)
		return nil
	})
	for _, ch := range channels {
		g.Go(func() error {
			err := ch.Start(gctx, rt.bus)
			if ch.Name() == "cli" {
				// Leaving the REPL ends the session.
				cancel()
			}
			if err != nil {
				return fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
			return nil
		})
		logger.Info("channel enabled", "channel", ch.Name())
	}

	logger.Info("relaybot started", "version", version, "backend", cfg.Backend.URL)
	err = g.Wait()
	for _, ch := range channels {
		ch.Stop()
	}
	logger.Info("shutdown complete")
	return err
}

func buildChannels(cfg *config.Config, rt *app) []domain.Channel {
	var channels []domain.Channel

	if bc := cfg.Channels.Bot; bc.Enabled {
		connector := channel.ConnectorConfig{
			Scope:      cfg.Identity.BotScope,
			HTTPClient: rt.client,
			Logger:     logger,
		}
		if bc.ConnectorAuth {
			connector.Tokens = rt.tokens
		}
		botCfg := channel.BotConfig{
			Host:         bc.Host,
			Port:         bc.Port,
			Path:         bc.Path,
			Secret:       bc.Secret,
			Replier:      channel.NewConnector(connector),
			Feedback:     rt.feedback,
			ReplyTimeout: seconds(cfg.Timeouts.ReplySeconds),
			Logger:       logger,
		}
		if cfg.Metrics.Enabled {
			botCfg.MetricsPath = cfg.Metrics.Endpoint
			botCfg.MetricsHandler = metrics.Collector.Handler()
		}
		channels = append(channels, channel.NewBot(botCfg))
	}

	if tc := cfg.Channels.Telegram; tc.Enabled {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     tc.Token,
			AllowFrom: tc.AllowFrom,
			Feedback:  rt.feedback,
			Logger:    logger,
		}))
	}

	if cfg.Channels.CLI.Enabled {
		channels = append(channels, channel.NewCLI(channel.CLIConfig{Logger: logger}))
	}
	return channels
}
