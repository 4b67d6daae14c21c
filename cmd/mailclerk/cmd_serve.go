package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xseries/mailclerk/internal/agent"
	"github.com/xseries/mailclerk/internal/agent/tools"
	"github.com/xseries/mailclerk/internal/config"
	"github.com/xseries/mailclerk/internal/dispatch"
	"github.com/xseries/mailclerk/internal/googleauth"
	"github.com/xseries/mailclerk/internal/httpapi"
	"github.com/xseries/mailclerk/internal/mail/gmail"
	"github.com/xseries/mailclerk/internal/ocr"
	"github.com/xseries/mailclerk/internal/respond"
	"github.com/xseries/mailclerk/internal/sheets"
	"github.com/xseries/mailclerk/internal/store"
	"github.com/xseries/mailclerk/internal/types"
	"github.com/xseries/mailclerk/pkg/llm"
	"github.com/xseries/mailclerk/pkg/llm/openai"
)

// skipSetup bypasses the workbook preparation at startup, for
// deployments where the spreadsheet is managed by hand.
var skipSetup bool

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&skipSetup, "skip-setup", false, "skip issue workbook preparation at startup")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mailbox watcher and HTTP trigger",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "mailclerk.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg.StoreBackend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open thread store: %w", err)
	}
	defer st.Close()

	a, err := buildAgent(cfg, st)
	if err != nil {
		return err
	}

	tokens := googleauth.NewRefreshTokenSource(
		cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RefreshToken, cfg.Google.TokenURL)
	transport := gmail.New(cfg.Gmail.BaseURL, tokens)

	responder := respond.New(respond.Config{
		Transport: transport,
		OutboxDir: cfg.Certificates.OutboxDir,
		ImagesDir: cfg.Assets.OrderIDImagesDir,
		Logger:    slog.Default(),
	})

	var extractor ocr.Extractor
	if cfg.OCR.APIURL != "" {
		extractor = ocr.NewHTTPExtractor(cfg.OCR.APIURL, cfg.OCR.APIKey)
	} else {
		slog.Warn("screenshot OCR disabled (no endpoint configured)")
	}

	wm, err := dispatch.LoadWatermark(dispatch.DefaultWatermarkPath(cfg.DataDir), time.Now())
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}

	d := dispatch.New(dispatch.Config{
		Transport: transport,
		Agent:     a,
		Responder: responder,
		Store:     st,
		Extractor: extractor,
		Watermark: wm,
		Logger:    slog.Default(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := httpapi.New(d, slog.Default())
	api.RegisterProbe("gmail", func() bool { return cfg.Google.RefreshToken != "" })
	api.RegisterProbe("agent", func() bool { return cfg.LLM.APIKey != "" })
	api.RegisterProbe("system_prompt", func() bool { return agent.LoadSystemPrompt(cfg.PromptsFile) != "" })
	go func() {
		if err := api.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
			slog.Error("http server stopped", "error", err)
			cancel()
		}
	}()

	go func() {
		if err := d.Run(ctx, cfg.PollInterval); err != nil && ctx.Err() == nil {
			slog.Error("dispatcher stopped", "error", err)
			cancel()
		}
	}()

	slog.Info("mailclerk started",
		"data_dir", cfg.DataDir,
		"store", cfg.StoreBackend,
		"poll_interval", cfg.PollInterval,
		"http_addr", cfg.HTTPAddr,
		"llm_model", cfg.LLM.Model,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	return nil
}

// buildAgent wires the provider, token budget, and tool registry into
// a conversation agent backed by st.
func buildAgent(cfg *config.Config, st types.ThreadStore) (*agent.Agent, error) {
	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})

	budget, err := agent.NewBudget(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if err != nil {
		return nil, fmt.Errorf("create token budget: %w", err)
	}

	registry := agent.NewRegistry()
	registry.Register(tools.NewOrderLookup())
	if cfg.Certificates.APIURL != "" {
		registry.Register(tools.NewCertificateIssue(
			cfg.Certificates.APIURL, cfg.Certificates.APIKey, cfg.Certificates.OutboxDir))
	} else {
		slog.Warn("certificate tool disabled (no endpoint configured)")
	}
	if cfg.Premium.APIURL != "" {
		registry.Register(tools.NewPremiumActivate(cfg.Premium.APIURL, cfg.Premium.APIKey))
	} else {
		slog.Warn("premium tool disabled (no endpoint configured)")
	}

	if cfg.Sheets.SpreadsheetID != "" {
		tokens := googleauth.NewRefreshTokenSource(
			cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RefreshToken, cfg.Google.TokenURL)
		sheetClient := sheets.NewClient(cfg.Sheets.BaseURL, cfg.Sheets.SpreadsheetID, tokens)
		if !skipSetup {
			if err := sheetClient.EnsureSheets(context.Background()); err != nil {
				return nil, fmt.Errorf("prepare issue workbook: %w", err)
			}
		}
		issueLogger := sheets.NewLogger(sheetClient, st, slog.Default())
		registry.Register(tools.NewLogIssue(issueLogger))
	} else {
		slog.Warn("issue logging disabled (no spreadsheet configured)")
	}

	return agent.New(agent.Config{
		Provider:     provider,
		Store:        st,
		Registry:     registry,
		Budget:       budget,
		SystemPrompt: agent.LoadSystemPrompt(cfg.PromptsFile),
		MaxRounds:    cfg.MaxToolRounds,
		MessageCap:   cfg.ThreadMessageCap,
		Logger:       slog.Default(),
	}), nil
}
