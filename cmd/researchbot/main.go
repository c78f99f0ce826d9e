package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"researchbot/internal/config"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "researchbot",
		Short:   "Multi-agent research assistant for team chat",
		Long:    "researchbot answers prefix commands in Discord, Slack or Telegram by routing them to Claude, OpenAI and Gemini agents with shared project context.",
		Version: version,
	}
	root.SilenceUsage = true

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.researchbot/config.json)")

	root.AddCommand(runCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(initCmd())
	root.AddCommand(configCmd())
	root.AddCommand(memoryCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// setupLogger replaces the bootstrap logger with one honouring the config's
// level and optional log file. The returned func closes the file.
func setupLogger(gc config.GeneralConfig) (func(), error) {
	var level slog.Level
	if gc.LogLevel != "" {
		if err := level.UnmarshalText([]byte(gc.LogLevel)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if gc.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(gc.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("log directory: %w", err)
		}
		f, err := os.OpenFile(gc.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}

	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closeFn, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the prompts directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Prompts.Dir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "prompts", cfg.Prompts.Dir)
			fmt.Printf("Edit %s to add your channel IDs, then export the platform token and API keys.\n", cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(config.ExpandPath(resolveConfigPath()))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [path]",
		Short: "Print the effective config, or one value (e.g. dispatch.prefix)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(resolveConfigPath())
			if err != nil {
				return err
			}
			var val any = cfg
			if len(args) == 1 {
				if val, err = config.GetByPath(cfg, args[0]); err != nil {
					return err
				}
			}
			data, err := json.MarshalIndent(val, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file and required environment variables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(resolveConfigPath()); err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})

	return cmd
}
