package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/northpeak/invoice-tracker/internal/common"
	"github.com/northpeak/invoice-tracker/internal/docsource"
	"github.com/northpeak/invoice-tracker/internal/export"
	"github.com/northpeak/invoice-tracker/internal/llm"
	"github.com/northpeak/invoice-tracker/internal/llm/llamacpp"
	"github.com/northpeak/invoice-tracker/internal/ocr"
	"github.com/northpeak/invoice-tracker/internal/pipeline"
	"github.com/northpeak/invoice-tracker/internal/server"
	"github.com/northpeak/invoice-tracker/internal/session"
	"github.com/northpeak/invoice-tracker/internal/tracker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := session.Open(cfg.Session.DBPath)
	if err != nil {
		logger.Error("open session store", "error", err)
		os.Exit(1)
	}
	defer sess.Close()

	auth := &tracker.ClientCredentials{
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.Tracker.TenantName),
		ClientID:     cfg.Tracker.ClientID,
		ClientSecret: cfg.Tracker.ClientSecret,
		Scope:        cfg.Tracker.Scope,
	}
	store := tracker.NewClient(tracker.Config{
		BaseURL:       fmt.Sprintf("%s/sites/%s/lists/%s", cfg.Tracker.BaseURL, cfg.Tracker.SiteName, cfg.Tracker.ListName),
		RefreshMargin: cfg.Tracker.RefreshMargin,
		MaxRetries:    cfg.Tracker.MaxRetries,
		Timeout:       cfg.Tracker.Timeout,
	}, auth, logger)

	source := docsource.NewHTTPSource(docsource.Config{
		BaseURL: cfg.Source.BaseURL,
		Ticket:  cfg.Source.Ticket,
		Timeout: cfg.Source.Timeout,
	}, logger)

	recognizer := ocr.NewExtractor(ocr.Config{
		Pdftotext:           cfg.OCR.Pdftotext,
		Pdftoppm:            cfg.OCR.Pdftoppm,
		Tesseract:           cfg.OCR.Tesseract,
		TesseractLang:       cfg.OCR.TesseractLang,
		DPI:                 cfg.OCR.DPI,
		MaxPages:            cfg.OCR.MaxPages,
		NativeTextThreshold: cfg.OCR.NativeTextThreshold,
	}, logger)

	completer := llamacpp.NewClient(llamacpp.Config{
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.Timeout,
	}, logger)
	engine := llm.NewEngine(llm.Config{
		Model:        cfg.LLM.Model,
		Temperature:  cfg.LLM.Temperature,
		MaxTokens:    cfg.LLM.MaxTokens,
		PromptBudget: cfg.LLM.PromptBudget,
		HeadChars:    cfg.LLM.HeadChars,
		TailChars:    cfg.LLM.TailChars,
		MinTextLen:   cfg.LLM.MinTextLen,
		BlockConfMin: cfg.LLM.BlockConfMin,
	}, completer, logger)

	processor := pipeline.NewProcessor(pipeline.ProcessorConfig{
		MaxPages:          cfg.OCR.MaxPages,
		BackgroundTimeout: cfg.OCR.BackgroundTimeout,
		TempDir:           cfg.Source.TempDir,
	}, source, recognizer, engine, store, logger)
	batch := pipeline.NewBatch(pipeline.BatchConfig{LockPath: cfg.Session.LockPath, FolderID: cfg.Source.FolderID}, processor, sess, logger)

	exporter := export.NewService(store, logger)

	srv := server.New(server.Config{
		ModelsDir:    cfg.Server.ModelsDir,
		DefaultModel: cfg.LLM.Model,
	}, store, batch, sess, exporter, logger)

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("stopped")
}
