package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"quizagent/internal/browser"
	"quizagent/internal/config"
	"quizagent/internal/dataset"
	"quizagent/internal/llm"
	"quizagent/internal/planner"
	"quizagent/internal/runner"
	"quizagent/internal/sandbox"
	"quizagent/internal/server"
	"quizagent/internal/solver"
	"quizagent/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "quizagent",
	Short: "quizagent - autonomous quiz chain solver",
	Long: `quizagent solves chained data quizzes end to end.

For each quiz page it extracts a plan with an LLM, downloads the referenced
data, synthesizes solver code, runs it in a sandboxed interpreter, submits the
answer, and follows the next URL until the chain ends or the deadline hits.

Run "quizagent serve" for the HTTP trigger API, or "quizagent solve <url>"
for a one-shot chain from the terminal.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// serveCmd runs the HTTP trigger API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP trigger API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		run, closeFetcher, err := buildRunner(cfg, st)
		if err != nil {
			return err
		}
		defer closeFetcher()

		srv := server.New(cfg, run, st, logger)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Run() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			logger.Info("shutting down", zap.String("signal", sig.String()))
			return nil
		case err := <-errCh:
			return err
		}
	},
}

// solveCmd runs one chain synchronously from the terminal
var solveCmd = &cobra.Command{
	Use:   "solve <url>",
	Short: "Solve one quiz chain and print the outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Auth.Email == "" || cfg.Auth.Secret == "" {
			return fmt.Errorf("QUIZ_EMAIL and QUIZ_SECRET must be set")
		}

		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		run, closeFetcher, err := buildRunner(cfg, st)
		if err != nil {
			return err
		}
		defer closeFetcher()

		deadline := cfg.Chain.Deadline(time.Now())
		ctx, cancel := context.WithDeadline(context.Background(), deadline.Add(30*time.Second))
		defer cancel()
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		id := uuid.NewString()
		state := run.Run(ctx, id, args[0], cfg.Auth.Email, cfg.Auth.Secret, deadline)

		fmt.Printf("chain %s: %s after %d step(s)\n", id, state.Status, state.Steps)
		if state.Err != "" {
			fmt.Printf("error: %s\n", state.Err)
		}
		if state.Status != runner.StatusDone {
			os.Exit(1)
		}
		return nil
	},
}

// buildRunner wires the chain collaborators from configuration. The returned
// close func shuts the page fetcher down (a no-op for the http backend).
func buildRunner(cfg config.Config, st *store.Store) (*runner.Runner, func(), error) {
	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return nil, nil, err
	}

	fetcher, err := browser.NewFetcher(cfg.Browser, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFetcher := func() {}
	if c, ok := fetcher.(interface{ Close() error }); ok {
		closeFetcher = func() { _ = c.Close() }
	}

	run := runner.New(
		fetcher,
		planner.NewExtractor(client, logger),
		dataset.NewLoader(logger),
		solver.NewSynthesizer(client, logger),
		sandbox.New(cfg.Chain.ExecTimeout(), logger),
		runner.NewHTTPSubmitter(logger),
		runner.Options{
			Mode:            sandbox.Mode(cfg.Chain.ExecutorMode),
			MaxSteps:        cfg.Chain.MaxSteps,
			SubmitOverrides: runner.SubmitOverrides(cfg.Chain.SubmitOverrides),
			Recorder:        st,
		},
		logger,
	)
	return run, closeFetcher, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "quizagent.yaml", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(solveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
