package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/kalambet/medchat/internal/config"
	"github.com/kalambet/medchat/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <message...>",
	Short: "Send a message to a running medchat server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		answer, err := client.ask(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), answer)
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List journaled exchanges, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit < 1 {
			return fmt.Errorf("--limit must be at least 1")
		}

		store, cfg, err := openJournal()
		if err != nil {
			return err
		}
		defer store.Close()

		if !cfg.Storage.Journal {
			printWarning("journal is disabled; enable it with: medchat config set storage.journal true")
		}

		versions, err := store.AppliedMigrations()
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
		schema := 0
		if len(versions) > 0 {
			schema = versions[len(versions)-1]
		}
		printStatus(cmd.ErrOrStderr(), "Journal", "%s (schema v%d)", cfg.Storage.DataDir, schema)

		exchanges, err := store.ListExchanges(limit, 0)
		if err != nil {
			return fmt.Errorf("listing exchanges: %w", err)
		}
		printHistory(cmd.OutOrStdout(), exchanges)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single journaled exchange as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openJournal()
		if err != nil {
			return err
		}
		defer store.Close()

		ex, err := store.GetExchange(args[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("exchange %s not found", args[0])
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(ex)
	},
}

func openJournal() (*storage.Store, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("opening storage: %w", err)
	}
	return store, cfg, nil
}

func printHistory(w io.Writer, exchanges []storage.Exchange) {
	if len(exchanges) == 0 {
		fmt.Fprintln(w, "No exchanges found.")
		return
	}

	for _, ex := range exchanges {
		msg := strings.ReplaceAll(ex.Message, "\n", " ")
		if utf8.RuneCountInString(msg) > 80 {
			msg = string([]rune(msg)[:80]) + "..."
		}
		id := ex.ID
		if len(id) > 8 {
			id = id[:8]
		}
		outcome := colorize(colorGreen, "ok")
		if ex.Error != "" {
			outcome = colorize(colorRed, "failed")
		}
		fmt.Fprintf(w, "%s  %s  %-6s  %5dms  %s\n",
			colorize(colorCyan, id),
			ex.CreatedAt.Format("2006-01-02 15:04:05"),
			outcome,
			ex.DurationMs,
			msg,
		)
	}
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of exchanges to list")
	historyCmd.AddCommand(historyShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "# %s\n", config.FilePath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value in the config file. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}

		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
