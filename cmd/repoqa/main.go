package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/repoqa/internal/app"
	"github.com/efebarandurmaz/repoqa/internal/config"
	"github.com/efebarandurmaz/repoqa/internal/llm"
	"github.com/efebarandurmaz/repoqa/internal/rag"
	"github.com/efebarandurmaz/repoqa/internal/server"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "repoqa",
		Short:         "Ask questions about a code repository",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default ./repoqa.yaml if present)")

	var addr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, addr)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")

	var (
		ingestNamespace string
		jsonReport      bool
	)
	ingestCmd := &cobra.Command{
		Use:   "ingest <path-or-url>",
		Short: "Embed every eligible file of a repository into a namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(configPath, args[0], ingestNamespace, jsonReport)
		},
	}
	ingestCmd.Flags().StringVar(&ingestNamespace, "namespace", "", "Target namespace (default namespace.default)")
	ingestCmd.Flags().BoolVar(&jsonReport, "json", false, "Print the ingestion report as JSON")

	var (
		queryNamespace string
		topK           int
	)
	queryCmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question from an ingested namespace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(configPath, strings.Join(args, " "), queryNamespace, topK)
		},
	}
	queryCmd.Flags().StringVar(&queryNamespace, "namespace", "", "Namespace to search (default namespace.default)")
	queryCmd.Flags().IntVar(&topK, "top-k", 0, "Number of files to retrieve (default retrieval.top_k)")

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available model providers",
		Run: func(cmd *cobra.Command, args []string) {
			names := make([]string, 0, len(llm.KnownProviders))
			for name := range llm.KnownProviders {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Println("Available providers:")
			fmt.Println()
			for _, name := range names {
				fmt.Printf("  %-14s %s\n", name, llm.KnownProviders[name])
			}
			fmt.Println("  anthropic      (completion only)")
			fmt.Println("  local          (hashing embedder, embedding only)")
			fmt.Println("  custom         (set base_url to any OpenAI-compatible endpoint)")
			fmt.Println()
			fmt.Println("Configure in repoqa.yaml or via environment:")
			fmt.Println("  REPOQA_EMBEDDING_PROVIDER=openai")
			fmt.Println("  REPOQA_LLM_PROVIDER=groq")
			fmt.Println("  REPOQA_LLM_API_KEY=gsk_...")
		},
	}

	rootCmd.AddCommand(serveCmd, ingestCmd, queryCmd, providersCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, config.ErrInvalid), errors.Is(err, rag.ErrInvalidInput):
		return 2
	default:
		return 1
	}
}

func setup(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func runServe(configPath, addr string) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		return err
	}

	health := server.NewHealthServer(&server.HealthConfig{Version: app.Version})
	a.RegisterHealthChecks(health)

	gin.SetMode(gin.ReleaseMode)
	api := server.NewAPI(a.Service, health, a.Metrics, logger)
	srv := server.NewHTTPServer(server.HTTPConfig{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, api.Router())

	shutdown := server.NewShutdownHandler(&server.ShutdownConfig{
		Timeout: cfg.Server.ShutdownTimeout,
		Logger:  logger,
	})
	shutdown.Add(server.HTTPServerShutdownHook("http", func(ctx context.Context) error {
		health.SetReady(false)
		return srv.Shutdown(ctx)
	}))
	a.RegisterShutdownHooks(shutdown)
	shutdown.Start()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	health.SetReady(true)

	select {
	case err := <-errCh:
		shutdown.Shutdown()
		shutdown.Wait()
		return fmt.Errorf("http server: %w", err)
	case <-shutdown.Stopping():
	}
	shutdown.Wait()
	logger.Info("stopped")
	return nil
}

func runIngest(configPath, location, namespace string, jsonReport bool) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer closeApp(a, logger)

	report, err := a.Service.IngestRepository(ctx, location, namespace)
	if report == nil {
		return err
	}

	if jsonReport {
		data, jerr := json.MarshalIndent(report, "", "  ")
		if jerr != nil {
			return jerr
		}
		fmt.Println(string(data))
	} else {
		report.Run.PrintSummary(os.Stdout)
		for _, f := range report.Failed {
			fmt.Printf("  FAILED %s [%s/%s]: %s\n", f.Path, f.Stage, f.Kind, f.Error)
		}
		fmt.Println(report.Message())
	}
	return err
}

func runQuery(configPath, question, namespace string, topK int) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer closeApp(a, logger)

	ans, err := a.Service.Ask(ctx, question, namespace, topK)
	if err != nil {
		return fmt.Errorf("%s failed (%s): %w", rag.StageOf(err), rag.KindName(err), err)
	}

	fmt.Println(ans.Text)
	if len(ans.Sources) > 0 {
		fmt.Println()
		fmt.Println("Context files:")
		for _, s := range ans.Sources {
			fmt.Printf("  %.3f  %s\n", s.Score, s.Key)
		}
	}
	return nil
}

func closeApp(a *app.App, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		logger.Warn("close", "error", err)
	}
}
