package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/northpeak/invoice-tracker/internal/common"
	"github.com/northpeak/invoice-tracker/internal/docsource"
	"github.com/northpeak/invoice-tracker/internal/llm"
	"github.com/northpeak/invoice-tracker/internal/llm/llamacpp"
	"github.com/northpeak/invoice-tracker/internal/ocr"
	"github.com/northpeak/invoice-tracker/internal/pipeline"
	"github.com/northpeak/invoice-tracker/internal/session"
	"github.com/northpeak/invoice-tracker/internal/tracker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		count   int
		model   string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "invoice-batch",
		Short: "Process unextracted invoices from the tracking list",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd.Context(), count, model, verbose)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "max documents to process (0 = all unprocessed)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model name recorded for this run (default from LLM_MODEL)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline internals to stderr")
	return cmd
}

func runBatch(parent context.Context, count int, model string, verbose bool) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if model == "" {
		model = cfg.LLM.Model
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := session.Open(cfg.Session.DBPath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer sess.Close()

	batch := buildBatch(cfg, sess, logger)

	start := time.Now()
	events, err := batch.Run(ctx, pipeline.BatchRequest{Count: count, Model: model})
	if err != nil {
		return err
	}

	var processed, skipped int
	type failure struct {
		filename string
		detail   string
	}
	var failures []failure

	for ev := range events {
		if ev.Message == pipeline.DoneSentinel {
			continue
		}
		switch ev.Stage {
		case "store":
			processed++
			fmt.Printf("[%d/%d] %s\n", ev.Current, ev.Total, ev.Message)
		case "error":
			if ev.NodeID != 0 {
				skipped++
				failures = append(failures, failure{filename: ev.Filename, detail: ev.Error})
			}
			fmt.Printf("[%d/%d] ERROR %s\n", ev.Current, ev.Total, ev.Message)
		default:
			fmt.Printf("[%d/%d] %s\n", ev.Current, ev.Total, ev.Message)
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Processed", processed},
		{"Skipped", skipped},
		{"Duration", time.Since(start).Round(time.Second)},
	})
	t.Render()

	if len(failures) > 0 {
		ft := table.NewWriter()
		ft.SetOutputMirror(os.Stdout)
		ft.SetStyle(table.StyleLight)
		ft.AppendHeader(table.Row{"File", "Error"})
		for _, f := range failures {
			ft.AppendRow(table.Row{f.filename, text.WrapSoft(f.detail, 72)})
		}
		ft.Render()
	}
	return nil
}

func buildBatch(cfg *common.Config, sess *session.Store, logger *slog.Logger) *pipeline.Batch {
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

	return pipeline.NewBatch(pipeline.BatchConfig{LockPath: cfg.Session.LockPath, FolderID: cfg.Source.FolderID}, processor, sess, logger)
}
