// Package server exposes the processing pipeline over HTTP.
package server

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/northpeak/invoice-tracker/internal/pipeline"
	"github.com/northpeak/invoice-tracker/internal/session"
	"github.com/northpeak/invoice-tracker/internal/tracker"
)

// TrackerStore is the slice of the tracker client the handlers use.
type TrackerStore interface {
	ListItems(ctx context.Context) ([]tracker.Item, error)
	SaveValidation(ctx context.Context, v tracker.Validation) error
}

// BatchRunner starts a processing batch and yields its event stream.
type BatchRunner interface {
	Run(ctx context.Context, req pipeline.BatchRequest) (<-chan pipeline.Event, error)
}

// Exporter produces the validated-items workbook.
type Exporter interface {
	ExportValidatedXLSX(ctx context.Context) ([]byte, error)
}

// SessionReader is the durable session state the HTTP surface reports and
// controls.
type SessionReader interface {
	Read(ctx context.Context) (session.Session, error)
	Stop(ctx context.Context) error
}

// Config for the HTTP server.
type Config struct {
	ModelsDir    string
	DefaultModel string
}

// Server wires handlers to their collaborators.
type Server struct {
	cfg    Config
	store  TrackerStore
	batch  BatchRunner
	sess   SessionReader
	export Exporter
	logger *slog.Logger
}

func New(cfg Config, store TrackerStore, batch BatchRunner, sess SessionReader, export Exporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, store: store, batch: batch, sess: sess, export: export, logger: logger}
}

// Router builds the gin engine with middleware and routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	r.Use(RequestLogger(s.logger))
	r.Use(Recovery(s.logger))

	api := r.Group("/api")
	{
		api.POST("/process", s.handleProcess)
		api.GET("/status", s.handleStatus)
		api.POST("/stop", s.handleStop)
		api.GET("/items", s.handleItems)
		api.GET("/next", s.handleNext)
		api.POST("/validate", s.handleValidate)
		api.GET("/export", s.handleExport)
		api.GET("/models", s.handleModels)
	}
	return r
}
