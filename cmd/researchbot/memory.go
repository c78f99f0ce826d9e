package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"researchbot/internal/config"
	"researchbot/internal/domain"
	"researchbot/internal/memory"
	"researchbot/internal/projectctx"
)

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage persistent memory notes outside of chat",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved notes",
		RunE: withStore(func(ctx context.Context, store domain.MemoryStore, args []string) error {
			entries, err := store.All(ctx)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no memories saved")
				return nil
			}
			for _, e := range entries {
				fmt.Println(projectctx.FormatEntry(e))
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add [note]",
		Short: "Save a note",
		Args:  cobra.MinimumNArgs(1),
		RunE: withStore(func(ctx context.Context, store domain.MemoryStore, args []string) error {
			author := os.Getenv("USER")
			if author == "" {
				author = "cli"
			}
			id, err := store.Add(ctx, strings.Join(args, " "), author)
			if err != nil {
				return err
			}
			fmt.Printf("saved memory #%d\n", id)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a note",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, store domain.MemoryStore, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			ok, err := store.Delete(ctx, id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("memory #%d not found", id)
			}
			fmt.Printf("deleted memory #%d\n", id)
			return nil
		}),
	})

	cmd.AddCommand(importCmd())
	return cmd
}

// withStore opens the configured store around fn.
func withStore(fn func(ctx context.Context, store domain.MemoryStore, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Read(resolveConfigPath())
		if err != nil {
			return err
		}
		store, err := memory.Open(cfg.Memory.Backend, cfg.Memory.Path, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(cmd.Context(), store, args)
	}
}

func importCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "import [memory.json]",
		Short: "Copy a JSON memory document into a SQLite store, keeping ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := config.Read(resolveConfigPath())
				if err != nil {
					return err
				}
				if cfg.Memory.Backend != config.MemoryBackendSQLite {
					return fmt.Errorf("memory.backend is %q; set it to sqlite or pass --db", cfg.Memory.Backend)
				}
				dbPath = cfg.Memory.Path
			}

			doc, err := memory.ReadDocument(args[0])
			if err != nil {
				return err
			}
			store, err := memory.NewSQLiteStore(config.ExpandPath(dbPath), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Import(cmd.Context(), doc)
			if err != nil {
				return err
			}
			fmt.Printf("imported %d memories into %s (next id %d)\n", n, dbPath, doc.NextID)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "target SQLite database (default: memory.path when memory.backend is sqlite)")
	return cmd
}
