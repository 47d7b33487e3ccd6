// Command autopn exports, analyzes and consolidates the archived
// correspondence of a relation.
package main

import (
	"autopn/internal/config"
	"autopn/internal/logging"
	"autopn/internal/usage"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	configPath string
	relationID string
	workspace  string
	timeout    time.Duration

	logger  *zap.Logger
	cfg     *config.Config
	runID   string
	tracker *usage.Tracker
	command string
)

var rootCmd = &cobra.Command{
	Use:   "autopn",
	Short: "autopn - conversation archive analysis toolkit",
	Long: `autopn exports a relation's e-mails and WhatsApp history into yearly
archives, asks a language model to flag sophisms and real matters, and
consolidates the findings into scored facts, arguments and topics.

Side tools annotate recurring stakes, mine topics, track payments and draft
replies.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ws, err := resolveWorkspace()
		if err != nil {
			return err
		}
		workspace = ws

		if err := godotenv.Load(filepath.Join(ws, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}

		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = loadConfig(ws)
		if err != nil {
			return err
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		if err := logging.Initialize(ws, logging.Settings{
			DebugMode:  cfg.Logging.DebugMode || verbose,
			Level:      level,
			JSONFormat: cfg.Logging.JSONFormat(),
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		if tracker, err = usage.NewTracker(ws); err != nil {
			logger.Warn("token usage not tracked", zap.Error(err))
		}
		command = cmd.CommandPath()
		runID = uuid.NewString()
		if err := logging.InitAudit(runID); err != nil {
			logger.Warn("audit log disabled", zap.Error(err))
		}
		logging.Audit().RunStart(cmd.CommandPath())
		logging.Boot("run %s: %s", runID, cmd.CommandPath())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if tracker != nil {
			if err := tracker.Save(); err != nil {
				logger.Warn("token usage not saved", zap.Error(err))
			}
		}
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func resolveWorkspace() (string, error) {
	if workspace != "" {
		return filepath.Abs(workspace)
	}
	return os.Getwd()
}

// loadConfig finds the config file, falling back to the defaults rooted at
// ws when no file exists.
func loadConfig(ws string) (*config.Config, error) {
	c, err := config.Discover(configPath, ws)
	if err != nil {
		if configPath != "" {
			return nil, err
		}
		logger.Warn("no config file found, using defaults", zap.String("workspace", ws))
		// Load falls back to the defaults for a missing file and still
		// applies the environment overrides.
		if c, err = config.Load(filepath.Join(ws, "config", "autopn.yaml")); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// commandContext bounds a command by --timeout and cancels it on SIGINT
// or SIGTERM. Model calls made under it are counted by the usage tracker.
func commandContext() (context.Context, context.CancelFunc) {
	ctx := context.Background()
	if tracker != nil {
		ctx = usage.WithCommand(usage.NewContext(ctx, tracker), command, relationID)
	}
	var cancelTimeout context.CancelFunc = func() {}
	if timeout > 0 {
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancelTimeout()
	}
}

// finish records the end of a command in the audit log.
func finish(cmd *cobra.Command, start time.Time, err error) error {
	logging.Audit().RunEnd(cmd.CommandPath(), time.Since(start).Milliseconds(), err)
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $AUTOPN_CONFIG or config/autopn.yaml)")
	rootCmd.PersistentFlags().StringVarP(&relationID, "relation", "r", "", "Relation id (default: the only configured relation)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Operation timeout (0 disables it)")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(whatsappCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(yearlyCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(enjeuxCmd)
	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(paymentsCmd)
	rootCmd.AddCommand(replyCmd)
	rootCmd.AddCommand(runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
