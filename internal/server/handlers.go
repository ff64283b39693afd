package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/northpeak/invoice-tracker/internal/pipeline"
	"github.com/northpeak/invoice-tracker/internal/tracker"
)

type processRequest struct {
	Count int    `json:"count"`
	Model string `json:"model"`
}

// handleProcess starts a batch and streams its progress as server-sent
// events. The stream always terminates with the [DONE] sentinel.
func (s *Server) handleProcess(c *gin.Context) {
	var req processRequest
	// an empty body means "process everything with the default model"
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Model == "" {
		req.Model = s.cfg.DefaultModel
	}

	events, err := s.batch.Run(c.Request.Context(), pipeline.BatchRequest{Count: req.Count, Model: req.Model})
	if err != nil {
		if errors.Is(err, pipeline.ErrBatchRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "a batch is already running"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	for ev := range events {
		if ev.Stage == "done" && ev.Message == pipeline.DoneSentinel {
			fmt.Fprintf(c.Writer, "data: %s\n\n", pipeline.DoneSentinel)
			c.Writer.Flush()
			continue
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.Warn("server.process.encode_error", "error", err)
			continue
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
		c.Writer.Flush()
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	sess, err := s.sess.Read(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var started *string
	if sess.StartedAt != nil {
		v := sess.StartedAt.Format(time.RFC3339)
		started = &v
	}
	c.JSON(http.StatusOK, gin.H{
		"is_processing": sess.IsProcessing,
		"current_count": sess.CurrentCount,
		"total_count":   sess.TotalCount,
		"model":         sess.Model,
		"console_logs":  sess.ConsoleLogs,
		"started_at":    started,
	})
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.sess.Stop(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

func (s *Server) handleItems(c *gin.Context) {
	items, err := s.store.ListItems(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(items))
	for _, it := range items {
		out = append(out, itemDTO(it))
	}
	c.JSON(http.StatusOK, gin.H{"items": out, "count": len(out)})
}

// handleNext returns the next item awaiting human validation: extracted
// by the machine but not yet reviewed.
func (s *Server) handleNext(c *gin.Context) {
	items, err := s.store.ListItems(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	for _, it := range items {
		if it.AIProcessed && !it.HumanValidated {
			c.JSON(http.StatusOK, gin.H{"item": itemDTO(it)})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"item": nil})
}

type validateRequest struct {
	NodeID        int64   `json:"node_id" binding:"required"`
	InvoiceNumber string  `json:"invoice_number"`
	CompanyName   string  `json:"company_name"`
	InvoiceDate   *string `json:"invoice_date"`
	TotalAmount   float64 `json:"total_amount"`
	Flagged       bool    `json:"flagged"`
	Notes         string  `json:"notes"`
}

func (s *Server) handleValidate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	err := s.store.SaveValidation(c.Request.Context(), tracker.Validation{
		NodeID:        req.NodeID,
		InvoiceNumber: req.InvoiceNumber,
		CompanyName:   req.CompanyName,
		InvoiceDate:   req.InvoiceDate,
		TotalAmount:   req.TotalAmount,
		Flagged:       req.Flagged,
		Notes:         req.Notes,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"validated": true})
}

func (s *Server) handleExport(c *gin.Context) {
	raw, err := s.export.ExportValidatedXLSX(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	filename := "validated-invoices-" + time.Now().Format("2006-01-02") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", raw)
}

// handleModels lists the *.gguf model files available to the completion
// backend.
func (s *Server) handleModels(c *gin.Context) {
	entries, err := os.ReadDir(s.cfg.ModelsDir)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusOK, gin.H{"models": []string{}})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	models := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".gguf") {
			models = append(models, e.Name())
		}
	}
	sort.Strings(models)
	c.JSON(http.StatusOK, gin.H{"models": models, "default": s.cfg.DefaultModel})
}

func itemDTO(it tracker.Item) gin.H {
	return gin.H{
		"node_id":  it.NodeID,
		"filename": it.Filename,
		"doc_url":  it.DocURL,

		"ai_invoice_number": it.AIInvoiceNumber,
		"ai_company_name":   it.AICompanyName,
		"ai_invoice_date":   it.AIInvoiceDate,
		"ai_total_amount":   it.AITotalAmount,
		"ai_confidence":     it.AIConfidence,
		"ai_processed":      it.AIProcessed,

		"human_invoice_number": it.HumanInvoiceNumber,
		"human_company_name":   it.HumanCompanyName,
		"human_invoice_date":   it.HumanInvoiceDate,
		"human_total_amount":   it.HumanTotalAmount,
		"human_validated":      it.HumanValidated,
		"human_flagged":        it.HumanFlagged,
		"human_notes":          it.HumanNotes,

		"ocr_method":     it.OCRMethod,
		"llm_used":       it.LLMUsed,
		"time_taken_sec": it.TimeTakenSec,
	}
}
