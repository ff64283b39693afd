package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/northpeak/invoice-tracker/constants"
	"github.com/northpeak/invoice-tracker/internal/common"
	"github.com/northpeak/invoice-tracker/internal/session"
)

// SessionStore is the durable session state the batch reports into.
type SessionStore interface {
	Start(ctx context.Context, total int, model string) error
	UpdateProgress(ctx context.Context, n int) error
	AppendLog(ctx context.Context, msg string) error
	Stop(ctx context.Context) error
	Read(ctx context.Context) (session.Session, error)
}

// BatchRequest selects how much work one run takes on.
type BatchRequest struct {
	Count int    // max documents this run; 0 means all unprocessed
	Model string // model name recorded in session state
}

// BatchConfig carries batch-level tunables.
type BatchConfig struct {
	LockPath string // flock path enforcing one batch per host
	FolderID int64  // repository folder scanned for documents not yet tracked
}

// Batch drives the processor over the unprocessed backlog.
type Batch struct {
	cfg    BatchConfig
	proc   *Processor
	sess   SessionStore
	logger *slog.Logger
}

func NewBatch(cfg BatchConfig, proc *Processor, sess SessionStore, logger *slog.Logger) *Batch {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LockPath == "" {
		cfg.LockPath = "./invoice-batch.lock"
	}
	return &Batch{cfg: cfg, proc: proc, sess: sess, logger: logger}
}

// ErrBatchRunning is returned when another batch holds the host lock.
var ErrBatchRunning = errors.New("a batch is already running")

// Run starts a batch and returns its event stream. The stream always ends
// with a DoneSentinel event, including on early abort. Per-document
// failures are reported and skipped so the next run retries them; only a
// credential failure aborts the whole batch, since every later store
// write would fail the same way.
func (b *Batch) Run(ctx context.Context, req BatchRequest) (<-chan Event, error) {
	lock := flock.New(b.cfg.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire batch lock: %w", err)
	}
	if !locked {
		return nil, ErrBatchRunning
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer func() {
			if err := lock.Unlock(); err != nil {
				b.logger.Warn("batch.lock.unlock_error", "error", err)
			}
		}()
		b.run(ctx, req, events)
	}()
	return events, nil
}

func (b *Batch) run(ctx context.Context, req BatchRequest, events chan<- Event) {
	start := time.Now()

	defer func() {
		// the run context may already be cancelled; the stop write must land
		if err := b.sess.Stop(context.WithoutCancel(ctx)); err != nil {
			b.logger.Warn("batch.session.stop_error", "error", err)
		}
		select {
		case events <- Event{Stage: "done", Message: DoneSentinel}:
		case <-ctx.Done():
		}
	}()

	work, err := b.backlog(ctx, req.Count)
	if err != nil {
		b.log(ctx, events, Event{Stage: "error", Error: err.Error(), Message: "listing unprocessed documents failed"})
		return
	}
	total := len(work)

	if err := b.sess.Start(ctx, total, req.Model); err != nil {
		b.log(ctx, events, Event{Stage: "error", Error: err.Error(), Message: "starting session failed"})
		return
	}
	b.log(ctx, events, Event{Stage: "fetch", Total: total,
		Message: fmt.Sprintf("starting batch of %d document(s)", total)})

	processed := 0
	for i, doc := range work {
		if ctx.Err() != nil {
			b.log(ctx, events, Event{Stage: "error", Current: processed, Total: total, Message: "batch cancelled"})
			return
		}
		if i > 0 && b.stopRequested(ctx) {
			b.log(ctx, events, Event{Stage: "done", Current: processed, Total: total, Message: "stop requested, ending batch early"})
			return
		}

		ev := Event{Stage: "ocr", NodeID: doc.nodeID, Filename: doc.filename, Current: processed, Total: total,
			Message: fmt.Sprintf("processing %s", doc.filename)}
		b.log(ctx, events, ev)

		out, err := b.proc.ProcessDocument(ctx, doc.nodeID, doc.filename)
		if err != nil {
			if errors.Is(err, common.ErrCredential) {
				b.log(ctx, events, Event{Stage: "error", NodeID: doc.nodeID, Filename: doc.filename,
					Current: processed, Total: total, Error: err.Error(),
					Message: "credential failure, aborting batch"})
				return
			}
			b.log(ctx, events, Event{Stage: "error", NodeID: doc.nodeID, Filename: doc.filename,
				Current: processed, Total: total, Error: err.Error(),
				Message: fmt.Sprintf("skipping %s", doc.filename)})
			continue
		}

		processed++
		if err := b.sess.UpdateProgress(ctx, processed); err != nil {
			b.logger.Warn("batch.session.progress_error", "error", err)
		}
		b.log(ctx, events, Event{Stage: "store", NodeID: doc.nodeID, Filename: doc.filename,
			Current: processed, Total: total,
			Message: fmt.Sprintf("%s: invoice %q, %.2f", doc.filename, out.Fields.InvoiceNumber, out.Fields.TotalAmount)})
	}

	b.log(ctx, events, Event{Stage: "done", Current: processed, Total: total,
		Message: fmt.Sprintf("batch finished: %d/%d processed in %s", processed, total, time.Since(start).Round(time.Second))})
}

type workItem struct {
	nodeID   int64
	filename string
}

// backlog lists tracker items still awaiting extraction, plus repository
// documents that have no tracker row yet. Non-PDF files are skipped;
// upstream is expected to convert before upload.
func (b *Batch) backlog(ctx context.Context, count int) ([]workItem, error) {
	items, err := b.proc.store.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	tracked := make(map[int64]bool, len(items))
	var work []workItem
	for _, it := range items {
		if it.NodeID == 0 {
			continue
		}
		tracked[it.NodeID] = true
		if it.AIProcessed {
			continue
		}
		work = append(work, workItem{nodeID: it.NodeID, filename: it.Filename})
	}

	if b.cfg.FolderID != 0 {
		docs, err := b.proc.source.List(ctx, b.cfg.FolderID)
		if err != nil {
			// the tracked backlog is still good work; log and carry on
			b.logger.Warn("batch.folder.list_error", "folder_id", b.cfg.FolderID, "error", err)
		}
		var fresh []workItem
		for id, name := range docs {
			if tracked[id] || !constants.IsPDFExt(filepath.Ext(name)) {
				continue
			}
			fresh = append(fresh, workItem{nodeID: id, filename: name})
		}
		sort.Slice(fresh, func(i, j int) bool { return fresh[i].nodeID < fresh[j].nodeID })
		work = append(work, fresh...)
	}

	if count > 0 && len(work) > count {
		work = work[:count]
	}
	return work, nil
}

// stopRequested reloads session state so a stop issued from another
// process (or the HTTP surface) lands between documents.
func (b *Batch) stopRequested(ctx context.Context) bool {
	sess, err := b.sess.Read(ctx)
	if err != nil {
		b.logger.Warn("batch.session.read_error", "error", err)
		return false
	}
	return !sess.IsProcessing
}

// log mirrors an event into session console logs and the event stream.
func (b *Batch) log(ctx context.Context, events chan<- Event, ev Event) {
	line := ev.Message
	if ev.Error != "" {
		line = fmt.Sprintf("%s: %s", ev.Message, ev.Error)
	}
	if err := b.sess.AppendLog(ctx, line); err != nil {
		b.logger.Warn("batch.session.log_error", "error", err)
	}
	if ev.Error != "" {
		b.logger.Error("batch.event", "stage", ev.Stage, "node_id", ev.NodeID, "message", ev.Message, "error", ev.Error)
	} else {
		b.logger.Info("batch.event", "stage", ev.Stage, "node_id", ev.NodeID, "message", ev.Message)
	}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
