package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"researchbot/internal/agent"
	"researchbot/internal/bus"
	"researchbot/internal/channel"
	"researchbot/internal/config"
	"researchbot/internal/dispatch"
	"researchbot/internal/domain"
	"researchbot/internal/memory"
	"researchbot/internal/metrics"
	"researchbot/internal/projectctx"
	"researchbot/internal/provider"
)

const busBuffer = 100

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the configured chat platform and serve commands",
		Long:  "Starts the platform transport, the command dispatcher and (if enabled) the metrics endpoint. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			return serve(cfg, nil)
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Use the bot from the terminal",
		Long:  "Runs the bot against a console transport. Every channel role maps to a channel of the same name; use /join <channel> to switch and /quit to leave.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Read(cfgPath)
			if err != nil {
				logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
				cfg = config.Defaults()
			}
			cfg.Platform.Name = config.PlatformConsole
			cfg.Channels = config.ConsoleChannels()
			cfg.Credentials = config.LoadCredentials(config.PlatformConsole)
			if err := config.Validate(cfg); err != nil {
				return err
			}
			console := channel.NewConsole(channel.ConsoleConfig{
				In:      os.Stdin,
				Out:     cmd.OutOrStdout(),
				Channel: config.RoleGeneral,
				Logger:  logger,
			})
			return serve(cfg, console)
		},
	}
}

// newTransport builds the transport for the configured platform.
func newTransport(cfg *config.Config) (domain.Transport, error) {
	creds := cfg.Credentials
	allow := []string(cfg.Platform.AllowFrom)
	switch cfg.Platform.Name {
	case config.PlatformDiscord:
		return channel.NewDiscord(channel.DiscordConfig{
			Token:     creds.PlatformToken,
			GuildID:   cfg.Platform.GuildID,
			AllowFrom: allow,
			Logger:    logger,
		})
	case config.PlatformSlack:
		return channel.NewSlack(channel.SlackConfig{
			BotToken:  creds.PlatformToken,
			AppToken:  creds.SlackAppToken,
			AllowFrom: allow,
			Logger:    logger,
		}), nil
	case config.PlatformTelegram:
		return channel.NewTelegram(channel.TelegramConfig{
			Token:     creds.PlatformToken,
			AllowFrom: allow,
			Logger:    logger,
		})
	case config.PlatformConsole:
		return channel.NewConsole(channel.ConsoleConfig{Logger: logger}), nil
	default:
		return nil, fmt.Errorf("unknown platform %q", cfg.Platform.Name)
	}
}

// serve wires every component and blocks until a signal arrives or the
// transport stops. A nil transport is built from the config.
func serve(cfg *config.Config, tr domain.Transport) error {
	closeLog, err := setupLogger(cfg.General)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if tr == nil {
		if tr, err = newTransport(cfg); err != nil {
			return fmt.Errorf("transport: %w", err)
		}
	}

	store, err := memory.Open(cfg.Memory.Backend, cfg.Memory.Path, logger)
	if err != nil {
		return fmt.Errorf("memory store: %w", err)
	}
	defer store.Close()

	reg := provider.NewRegistry(ctx, cfg, logger)
	pool := agent.NewPool(cfg.Agents.WorkerPoolSize, logger)
	defer pool.Wait()

	researchCh, _ := cfg.Channels.Lookup(config.RoleResearch)
	buildCh, _ := cfg.Channels.Lookup(config.RoleBuild)
	set := agent.NewSet(agent.SetConfig{
		Claude:           reg.Claude,
		OpenAI:           reg.OpenAI,
		Gemini:           reg.Gemini,
		ResearchModel:    cfg.Models.Research,
		BuildModel:       cfg.Models.Build,
		GeneralModel:     cfg.Models.General,
		CodeModel:        cfg.Models.Code,
		RouterModel:      cfg.Models.Router,
		MaxTokens:        cfg.Agents.MaxTokens,
		GeneralMaxTokens: cfg.Agents.GeneralMaxTokens,
		PromptsDir:       cfg.Prompts.Dir,
		Prefix:           cfg.Dispatch.Prefix,
		ResearchChannel:  researchCh,
		BuildChannel:     buildCh,
		Pool:             pool,
		Logger:           logger,
	})

	d, err := dispatch.New(dispatch.Config{
		Transport: tr,
		Agents:    dispatch.AgentsFromSet(set),
		Context: projectctx.New(projectctx.Config{
			Dir:    cfg.Prompts.Dir,
			Memory: store,
			Logger: logger,
		}),
		Memory:        store,
		Channels:      cfg.Channels,
		Prefix:        cfg.Dispatch.Prefix,
		ChunkLimit:    cfg.Dispatch.ChunkLimit,
		MaxConcurrent: cfg.Dispatch.MaxConcurrentCommands,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	messageBus := bus.New(busBuffer, logger)

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(workCtx, messageBus) }()

	var metricsDone chan error
	if cfg.Metrics.Enabled {
		metricsDone = make(chan error, 1)
		go func() { metricsDone <- metrics.Serve(workCtx, cfg.Metrics.Listen, cfg.Metrics.Endpoint, logger) }()
	}

	// Console input cannot be interrupted, so shutdown does not wait for
	// the transport goroutine.
	trDone := make(chan error, 1)
	go func() { trDone <- tr.Start(ctx, messageBus) }()

	logger.Info("researchbot started", "platform", tr.Name(), "version", version)

	var exitErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case exitErr = <-trDone:
		if exitErr != nil {
			logger.Error("transport stopped", "err", exitErr)
		}
	case exitErr = <-metricsDone:
		logger.Error("metrics server stopped", "err", exitErr)
		metricsDone = nil
	}

	// Closing the bus lets the dispatcher finish queued and in-flight
	// commands before Run returns.
	messageBus.Close()
	if err := tr.Stop(); err != nil {
		logger.Warn("transport stop", "err", err)
	}
	if err := <-runDone; err != nil {
		logger.Error("dispatcher stopped", "err", err)
	}
	cancelWork()
	if metricsDone != nil {
		if err := <-metricsDone; err != nil {
			logger.Warn("metrics server shutdown", "err", err)
		}
	}

	logger.Info("shutdown complete")
	return exitErr
}
