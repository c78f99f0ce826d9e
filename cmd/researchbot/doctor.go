package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"researchbot/internal/config"
	"researchbot/internal/memory"
	"researchbot/internal/projectctx"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your researchbot installation",
		Long: `Verifies the configuration, credentials, memory store and prompts
directory. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Printf("researchbot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var passed, failed, warned int

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'researchbot init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := config.Read(cfgPath)
			if err != nil {
				printFail("Config parse", err.Error())
				return fmt.Errorf("config unreadable")
			}
			if err := config.Validate(cfg); err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			// Backend keys are optional; agents without one answer "unavailable".
			keys := []struct{ name, val string }{
				{"ANTHROPIC_API_KEY", cfg.Credentials.AnthropicKey},
				{"OPENAI_API_KEY", cfg.Credentials.OpenAIKey},
				{"GEMINI_API_KEY", cfg.Credentials.GeminiKey},
			}
			for _, k := range keys {
				if k.val == "" {
					printWarn(k.name, "not set; dependent commands will report unavailable")
					warned++
				} else {
					printPass(k.name, "set")
					passed++
				}
			}

			if err := checkMemory(cmd.Context(), cfg.Memory); err != nil {
				printFail("Memory store", err.Error())
				failed++
			} else {
				printPass("Memory store", cfg.Memory.Backend+": "+cfg.Memory.Path)
				passed++
			}

			found := 0
			for _, name := range projectctx.Documents {
				if _, err := os.Stat(filepath.Join(cfg.Prompts.Dir, name+".md")); err == nil {
					found++
				}
			}
			if found == 0 {
				printWarn("Prompts", fmt.Sprintf("no reference documents in %s", cfg.Prompts.Dir))
				warned++
			} else {
				printPass("Prompts", fmt.Sprintf("%d/%d documents in %s", found, len(projectctx.Documents), cfg.Prompts.Dir))
				passed++
			}

			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					printWarn("Metrics listen", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
					warned++
				} else {
					printPass("Metrics listen", cfg.Metrics.Listen+" available")
					passed++
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned == 0 {
				fmt.Printf("\nAll checks passed. researchbot is ready to run.\n")
			}
			return nil
		},
	}
}

// checkMemory opens the store and reads it once.
func checkMemory(ctx context.Context, mc config.MemoryConfig) error {
	if err := os.MkdirAll(filepath.Dir(mc.Path), 0o755); err != nil {
		return fmt.Errorf("cannot create memory directory: %w", err)
	}
	store, err := memory.Open(mc.Backend, mc.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := store.All(ctx); err != nil {
		return fmt.Errorf("cannot read: %w", err)
	}
	return nil
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
