package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"agentrelay/internal/attachment"
	"agentrelay/internal/claude"
	"agentrelay/internal/config"
	"agentrelay/internal/discord"
	"agentrelay/internal/dispatch"
	"agentrelay/internal/engine"
	"agentrelay/internal/metrics"
	"agentrelay/internal/prompt"
	"agentrelay/internal/scheduler"
	"agentrelay/internal/session"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the relay",
		Long:  "Connects to Discord and relays operator messages to the agent until interrupted.",
		RunE:  runRelay,
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	runLogger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = runLogger
	for _, msg := range config.Warnings(cfg) {
		logger.Warn("config warning", "detail", msg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := session.Open(cfg.Sessions.Backend, cfg.Sessions.Path, logger)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer store.Close()

	client, err := discord.New(discord.Config{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	downloader, err := attachment.NewDownloader(attachment.DownloaderConfig{
		Dir:    cfg.Attachments.Dir,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("attachments: %w", err)
	}

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.NewRegistry()
	}
	relayMetrics := metrics.NewRelay(reg)

	prompts := prompt.NewLoader(cfg.Agent.SystemPromptFile, logger)

	eng, err := engine.New(engine.Config{
		Runner: claude.NewRunner(claude.Config{
			Binary:         cfg.Claude.Binary,
			Model:          cfg.Claude.Model,
			PermissionMode: cfg.Claude.PermissionMode,
			MaxTurns:       cfg.Claude.MaxTurns,
			ExtraArgs:      cfg.Claude.ExtraArgs,
			Logger:         logger,
		}),
		Executor: dispatch.NewExecutor(dispatch.ExecutorConfig{
			Platform:         client,
			MaxMessageLength: cfg.Agent.MaxMessageLength,
			Logger:           logger,
		}),
		Store:            store,
		Downloader:       downloader,
		Prompts:          prompts,
		Resolver:         client,
		Metrics:          relayMetrics,
		Logger:           logger,
		OperatorID:       cfg.Discord.User,
		Profiles:         profiles(cfg),
		MaxFeedbackDepth: cfg.Agent.MaxFeedbackDepth,
		MaxIterations:    cfg.Agent.MaxIterations,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	sched, err := scheduler.New(scheduler.Config{
		Tasks:    tasks(cfg),
		Resolver: client,
		Target:   eng,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := eng.Start(gctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Stop()

	g.Go(func() error {
		return client.Run(gctx, eng)
	})
	g.Go(func() error {
		// Skill channels are resolved by name, which needs the guild list.
		select {
		case <-client.Ready():
		case <-gctx.Done():
			return nil
		}
		return sched.Run(gctx)
	})
	g.Go(func() error {
		if err := prompts.Watch(gctx); err != nil {
			logger.Warn("system prompt watch disabled", "path", cfg.Agent.SystemPromptFile, "err", err)
		}
		return nil
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics.Listen, reg, logger)
		})
	}

	logger.Info("relay started. Press Ctrl+C to stop.", "version", version, "config", cfgPath, "channels", len(cfg.Channels))
	err = g.Wait()
	logger.Info("shutting down relay...")
	return err
}

func profiles(cfg *config.Config) []engine.ChannelProfile {
	out := make([]engine.ChannelProfile, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		out = append(out, engine.ChannelProfile{
			Name:       ch.Name,
			Skill:      ch.Skill,
			WorkDir:    cfg.WorkdirFor(ch),
			LogChannel: ch.LogChannel,
		})
	}
	return out
}

func tasks(cfg *config.Config) []scheduler.Task {
	var out []scheduler.Task
	for _, ch := range cfg.Channels {
		if ch.Skill == "" || (ch.Schedule == "" && !ch.InitOnStart) {
			continue
		}
		out = append(out, scheduler.Task{
			Channel:     ch.Name,
			Schedule:    ch.Schedule,
			InitOnStart: ch.InitOnStart,
		})
	}
	return out
}
