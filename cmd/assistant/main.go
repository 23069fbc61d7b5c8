package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/assistant-bot/internal/extract"
	"github.com/xaenox/assistant-bot/internal/intent"
	"github.com/xaenox/assistant-bot/internal/models"
	"github.com/xaenox/assistant-bot/internal/storage"
	"github.com/xaenox/assistant-bot/internal/timeresolve"
	"github.com/xaenox/assistant-bot/pkg/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "assistant",
		Short:        "Personal assistant Telegram bot",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env is optional
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bot and the scheduler",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBot(cmd.Context(), configPath)
			},
		},
		newPendingCmd(&configPath),
		newClassifyCmd(&configPath),
	)
	return root
}

func runBot(parent context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start", zap.Error(err))
		return err
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		logger.Error("Assistant stopped with error", zap.Error(err))
		return err
	}
	logger.Info("Assistant stopped")
	return nil
}

func newPendingCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List scheduled emails and reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			resolver, err := timeresolve.New(cfg.Assistant.Timezone)
			if err != nil {
				return err
			}
			store, err := openStore(cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer store.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tSCHEDULED\tCHAT\tSUMMARY")
			for _, kind := range []models.WorkKind{models.KindEmail, models.KindReminder} {
				items, err := store.ListPending(cmd.Context(), kind)
				if err != nil {
					return err
				}
				for _, item := range items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
						item.ID, item.Kind, resolver.Describe(item.ScheduledAt), item.ChatID, item.Summary())
				}
			}
			return w.Flush()
		},
	}
}

func newClassifyCmd(configPath *string) *cobra.Command {
	var withExtract bool

	cmd := &cobra.Command{
		Use:   "classify <message>",
		Short: "Show how a message would be classified",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			out := cmd.OutOrStdout()

			classifier := intent.New(cfg.Assistant.ConfirmationKeywords)
			in, rule := classifier.ClassifyWithRule(text)
			fmt.Fprintf(out, "intent:    %s\nrule:      %s\n", in.Kind, rule)
			if in.Pattern != "" {
				fmt.Fprintf(out, "pattern:   %s\n", in.Pattern)
			}
			if in.Kind == models.IntentClearAll {
				fmt.Fprintf(out, "confirmed: %t\n", in.Confirmed)
			}
			if !withExtract || !in.NeedsExtraction() {
				return nil
			}

			logger := zap.NewNop()
			resolver, err := timeresolve.New(cfg.Assistant.Timezone)
			if err != nil {
				return err
			}
			var oracle extract.Oracle
			if cfg.OpenAI.APIKey != "" {
				oracle = newOracle(cfg, logger)
			}
			payload, err := extract.New(oracle, resolver, logger).Extract(cmd.Context(), in, text, resolver.Now())
			if err != nil {
				return fmt.Errorf("extraction failed: %w", err)
			}
			fmt.Fprintf(out, "payload:   %+v\n", payload)
			return nil
		},
	}
	cmd.Flags().BoolVar(&withExtract, "extract", false, "also extract the action payload")
	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	if strings.EqualFold(level, "debug") {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = lvl
	}
	return cfg.Build()
}

// openStore opens the configured store, creating the data directory of the
// file and sqlite drivers.
func openStore(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	if cfg.Storage.Driver != "postgres" && cfg.Storage.Dir != "" {
		if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return storage.Open(storage.Config{
		Driver: cfg.Storage.Driver,
		Dir:    cfg.Storage.Dir,
		DSN:    cfg.Storage.ConnString(),
	}, logger)
}
