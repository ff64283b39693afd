package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/northpeak/invoice-tracker/constants"
	"github.com/northpeak/invoice-tracker/internal/common"
	"github.com/northpeak/invoice-tracker/internal/llm"
	"github.com/northpeak/invoice-tracker/internal/ocr"
	"github.com/northpeak/invoice-tracker/internal/session"
	"github.com/northpeak/invoice-tracker/internal/tracker"
)

type fakeSource struct {
	mu      sync.Mutex
	fetched []int64
	failOn  map[int64]bool
	folder  map[int64]string
}

func (f *fakeSource) Fetch(_ context.Context, nodeID int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[nodeID] {
		return nil, common.WrapError(common.ErrSourceFetch, fmt.Sprintf("fetch node %d", nodeID))
	}
	f.fetched = append(f.fetched, nodeID)
	return []byte("%PDF-1.4 fake content"), nil
}

func (f *fakeSource) List(context.Context, int64) (map[int64]string, error) {
	return f.folder, nil
}

type fakeRecognizer struct {
	text string
}

func (f *fakeRecognizer) ExtractFast(_ context.Context, pdfPath string, _ int) (*ocr.Result, error) {
	if !strings.HasSuffix(pdfPath, ".pdf") {
		return nil, fmt.Errorf("expected pdf path, got %s", pdfPath)
	}
	return ocr.NewCompletedResult(constants.OCRNative,
		[]ocr.Page{{PageNum: 1, Text: f.text}}, 1), nil
}

type fakeFields struct {
	mu     sync.Mutex
	failOn map[string]bool // by contained text
	calls  int
}

func (f *fakeFields) Extract(_ context.Context, in llm.Input) llm.InvoiceFields {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for marker := range f.failOn {
		if strings.Contains(in.Text, marker) {
			return llm.InvoiceFields{Error: "completion failed: model down", OCRMethod: string(in.Method)}
		}
	}
	return llm.InvoiceFields{
		InvoiceNumber: "INV-X",
		CompanyName:   "ACME",
		TotalAmount:   10,
		Confidence:    0.8,
		ModelUsed:     "m.gguf",
		OCRMethod:     string(in.Method),
	}
}

type fakeStore struct {
	mu      sync.Mutex
	items   map[int64]map[string]any
	upserts int
	failAll error
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: map[int64]map[string]any{}}
}

func (f *fakeStore) UpsertItem(_ context.Context, nodeID int64, filename string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	f.upserts++
	row, ok := f.items[nodeID]
	if !ok {
		row = map[string]any{}
		f.items[nodeID] = row
	}
	row[constants.FieldNodeID] = nodeID
	row[constants.FieldFilename] = filename
	for k, v := range fields {
		row[k] = v
	}
	return nil
}

func (f *fakeStore) ListItems(context.Context) ([]tracker.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []tracker.Item
	for id, row := range f.items {
		processed, _ := row[constants.FieldAIProcessed].(bool)
		name, _ := row[constants.FieldFilename].(string)
		items = append(items, tracker.Item{NodeID: id, Filename: name, AIProcessed: processed})
	}
	return items, nil
}

func (f *fakeStore) seedUnprocessed(ids ...int64) {
	for _, id := range ids {
		f.items[id] = map[string]any{
			constants.FieldNodeID:      id,
			constants.FieldFilename:    fmt.Sprintf("doc-%d.pdf", id),
			constants.FieldAIProcessed: false,
		}
	}
}

func newTestProcessor(t *testing.T, src *fakeSource, fields *fakeFields, store *fakeStore) *Processor {
	t.Helper()
	return NewProcessor(ProcessorConfig{
		BackgroundTimeout: time.Second,
		TempDir:           t.TempDir(),
	}, src, &fakeRecognizer{text: "Invoice INV-X from ACME total 10.00"}, fields, store, nil)
}

func TestProcessDocumentWritesAIFieldsThenProvenance(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(t, &fakeSource{}, &fakeFields{}, store)

	out, err := p.ProcessDocument(context.Background(), 101, "doc-101.pdf")
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}
	if out.Fields.InvoiceNumber != "INV-X" || !out.OCRComplete {
		t.Errorf("outcome = %+v", out)
	}
	if store.upserts != 2 {
		t.Errorf("upserts = %d, want 2 (fields then provenance)", store.upserts)
	}
	row := store.items[101]
	if row[constants.FieldAIInvoiceNumber] != "INV-X" {
		t.Errorf("row = %+v", row)
	}
	if row[constants.FieldAIProcessed] != true {
		t.Error("AI_Processed should be true after the provenance write")
	}
}

func TestProcessDocumentExtractionFailureLeavesUnprocessed(t *testing.T) {
	store := newFakeStore()
	fields := &fakeFields{failOn: map[string]bool{"Invoice": true}}
	p := newTestProcessor(t, &fakeSource{}, fields, store)

	_, err := p.ProcessDocument(context.Background(), 101, "doc-101.pdf")
	if !errors.Is(err, common.ErrCompletion) {
		t.Fatalf("err = %v, want ErrCompletion", err)
	}
	if store.upserts != 0 {
		t.Errorf("upserts = %d, want 0 on extraction failure", store.upserts)
	}
}

func TestProcessDocumentSourceFailure(t *testing.T) {
	store := newFakeStore()
	src := &fakeSource{failOn: map[int64]bool{7: true}}
	p := newTestProcessor(t, src, &fakeFields{}, store)

	_, err := p.ProcessDocument(context.Background(), 7, "doc-7.pdf")
	if !errors.Is(err, common.ErrSourceFetch) {
		t.Fatalf("err = %v, want ErrSourceFetch", err)
	}
}

func newTestBatch(t *testing.T, proc *Processor) (*Batch, *session.Store) {
	t.Helper()
	dir := t.TempDir()
	sess, err := session.Open(filepath.Join(dir, "session.db"))
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return NewBatch(BatchConfig{LockPath: filepath.Join(dir, "batch.lock")}, proc, sess, nil), sess
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var all []Event
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return all
			}
			all = append(all, ev)
		case <-deadline:
			t.Fatalf("event stream did not finish; got %d events", len(all))
		}
	}
}

func TestBatchProcessesBacklogAndEndsWithSentinel(t *testing.T) {
	store := newFakeStore()
	store.seedUnprocessed(1, 2, 3)
	proc := newTestProcessor(t, &fakeSource{}, &fakeFields{}, store)
	b, sess := newTestBatch(t, proc)

	events, err := b.Run(context.Background(), BatchRequest{Model: "m.gguf"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := collect(t, events)

	last := all[len(all)-1]
	if last.Message != DoneSentinel {
		t.Errorf("last event = %+v, want sentinel", last)
	}
	for id := int64(1); id <= 3; id++ {
		if store.items[id][constants.FieldAIProcessed] != true {
			t.Errorf("node %d not processed", id)
		}
	}

	state, err := sess.Read(context.Background())
	if err != nil {
		t.Fatalf("session read: %v", err)
	}
	if state.IsProcessing {
		t.Error("session still marked processing after batch end")
	}
	if state.CurrentCount != 3 || state.TotalCount != 3 {
		t.Errorf("session progress = %d/%d", state.CurrentCount, state.TotalCount)
	}
	if len(state.ConsoleLogs) == 0 {
		t.Error("batch left no console logs")
	}
}

func TestBatchContinuesPastPerDocumentErrors(t *testing.T) {
	store := newFakeStore()
	store.seedUnprocessed(1, 2, 3, 4, 5)
	src := &fakeSource{failOn: map[int64]bool{3: true}}
	proc := newTestProcessor(t, src, &fakeFields{}, store)
	b, sess := newTestBatch(t, proc)

	events, err := b.Run(context.Background(), BatchRequest{Model: "m.gguf"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := collect(t, events)

	var sawSkip bool
	for _, ev := range all {
		if ev.Stage == "error" && ev.NodeID == 3 {
			sawSkip = true
		}
	}
	if !sawSkip {
		t.Error("no error event for the failing document")
	}
	if store.items[3][constants.FieldAIProcessed] != false {
		t.Error("failed document should stay unprocessed")
	}
	for _, id := range []int64{1, 2, 4, 5} {
		if store.items[id][constants.FieldAIProcessed] != true {
			t.Errorf("node %d should be processed", id)
		}
	}

	state, _ := sess.Read(context.Background())
	if state.CurrentCount != 4 {
		t.Errorf("progress = %d, want 4", state.CurrentCount)
	}
}

func TestBatchAbortsOnCredentialFailure(t *testing.T) {
	store := newFakeStore()
	store.seedUnprocessed(1, 2, 3)
	store.failAll = common.WrapError(common.ErrCredential, "acquire store credential")
	proc := newTestProcessor(t, &fakeSource{}, &fakeFields{}, store)
	b, _ := newTestBatch(t, proc)

	events, err := b.Run(context.Background(), BatchRequest{Model: "m.gguf"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := collect(t, events)

	var abortEvents int
	for _, ev := range all {
		if ev.Stage == "error" && strings.Contains(ev.Message, "aborting") {
			abortEvents++
		}
	}
	if abortEvents != 1 {
		t.Errorf("abort events = %d, want 1 (no retries on later documents)", abortEvents)
	}
	if all[len(all)-1].Message != DoneSentinel {
		t.Error("aborted batch must still end with the sentinel")
	}
}

func TestBatchStopRequestEndsEarly(t *testing.T) {
	store := newFakeStore()
	store.seedUnprocessed(1, 2, 3, 4, 5)
	proc := newTestProcessor(t, &fakeSource{}, &fakeFields{}, store)
	b, sess := newTestBatch(t, proc)

	events, err := b.Run(context.Background(), BatchRequest{Model: "m.gguf"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// flip the processing flag as soon as the first document lands
	go func() {
		for {
			state, err := sess.Read(context.Background())
			if err == nil && state.CurrentCount >= 1 {
				_ = sess.Stop(context.Background())
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	all := collect(t, events)
	if all[len(all)-1].Message != DoneSentinel {
		t.Error("stream must end with the sentinel")
	}

	state, _ := sess.Read(context.Background())
	if state.CurrentCount == 5 {
		t.Skip("batch outran the stop request")
	}
	if state.CurrentCount < 1 {
		t.Errorf("progress = %d, want at least the in-flight document", state.CurrentCount)
	}
}

func TestBatchDiscoversUntrackedFolderDocuments(t *testing.T) {
	store := newFakeStore()
	store.seedUnprocessed(1)
	src := &fakeSource{folder: map[int64]string{
		1:  "doc-1.pdf",    // already tracked
		50: "doc-50.pdf",   // new
		51: "notes-51.txt", // not a pdf, skipped
	}}
	proc := newTestProcessor(t, src, &fakeFields{}, store)

	dir := t.TempDir()
	sess, err := session.Open(filepath.Join(dir, "session.db"))
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	defer sess.Close()
	b := NewBatch(BatchConfig{LockPath: filepath.Join(dir, "batch.lock"), FolderID: 42}, proc, sess, nil)

	events, err := b.Run(context.Background(), BatchRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	collect(t, events)

	if store.items[50][constants.FieldAIProcessed] != true {
		t.Error("untracked pdf should be discovered and processed")
	}
	if _, exists := store.items[51]; exists {
		t.Error("non-pdf should not be processed")
	}
	state, _ := sess.Read(context.Background())
	if state.TotalCount != 2 {
		t.Errorf("total = %d, want tracked + discovered", state.TotalCount)
	}
}

func TestBatchLockExcludesSecondRun(t *testing.T) {
	store := newFakeStore()
	store.seedUnprocessed(1)
	proc := newTestProcessor(t, &fakeSource{}, &fakeFields{}, store)

	dir := t.TempDir()
	lockPath := filepath.Join(dir, "batch.lock")
	sess, err := session.Open(filepath.Join(dir, "session.db"))
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	defer sess.Close()

	b1 := NewBatch(BatchConfig{LockPath: lockPath}, proc, sess, nil)
	b2 := NewBatch(BatchConfig{LockPath: lockPath}, proc, sess, nil)

	events, err := b1.Run(context.Background(), BatchRequest{Model: "m"})
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := b2.Run(context.Background(), BatchRequest{Model: "m"}); !errors.Is(err, ErrBatchRunning) {
		t.Errorf("second Run err = %v, want ErrBatchRunning", err)
	}
	collect(t, events)

	// lock released once the first batch drains
	events2, err := b2.Run(context.Background(), BatchRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Run after release: %v", err)
	}
	collect(t, events2)
}
