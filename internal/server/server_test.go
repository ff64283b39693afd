package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/northpeak/invoice-tracker/internal/pipeline"
	"github.com/northpeak/invoice-tracker/internal/session"
	"github.com/northpeak/invoice-tracker/internal/tracker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubTracker struct {
	items       []tracker.Item
	validations []tracker.Validation
}

func (s *stubTracker) ListItems(context.Context) ([]tracker.Item, error) {
	return s.items, nil
}

func (s *stubTracker) SaveValidation(_ context.Context, v tracker.Validation) error {
	s.validations = append(s.validations, v)
	return nil
}

type stubBatch struct {
	events  []pipeline.Event
	running bool
}

func (s *stubBatch) Run(context.Context, pipeline.BatchRequest) (<-chan pipeline.Event, error) {
	if s.running {
		return nil, pipeline.ErrBatchRunning
	}
	ch := make(chan pipeline.Event, len(s.events)+1)
	for _, ev := range s.events {
		ch <- ev
	}
	ch <- pipeline.Event{Stage: "done", Message: pipeline.DoneSentinel}
	close(ch)
	return ch, nil
}

type stubExport struct{ raw []byte }

func (s *stubExport) ExportValidatedXLSX(context.Context) ([]byte, error) {
	return s.raw, nil
}

func newTestServer(t *testing.T, tr *stubTracker, b *stubBatch) (*Server, *session.Store) {
	t.Helper()
	sess, err := session.Open(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	if tr == nil {
		tr = &stubTracker{}
	}
	if b == nil {
		b = &stubBatch{}
	}
	return New(Config{ModelsDir: t.TempDir(), DefaultModel: "m.gguf"}, tr, b, sess, &stubExport{raw: []byte("xlsx-bytes")}, nil), sess
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatusReflectsSession(t *testing.T) {
	s, sess := newTestServer(t, nil, nil)
	_ = sess.Start(context.Background(), 4, "m.gguf")
	_ = sess.UpdateProgress(context.Background(), 2)
	_ = sess.AppendLog(context.Background(), "working")

	w := doJSON(t, s.Router(), http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		IsProcessing bool     `json:"is_processing"`
		CurrentCount int      `json:"current_count"`
		TotalCount   int      `json:"total_count"`
		ConsoleLogs  []string `json:"console_logs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.IsProcessing || body.CurrentCount != 2 || body.TotalCount != 4 {
		t.Errorf("body = %+v", body)
	}
	if len(body.ConsoleLogs) != 1 || body.ConsoleLogs[0] != "working" {
		t.Errorf("logs = %v", body.ConsoleLogs)
	}
}

func TestStopClearsProcessingFlag(t *testing.T) {
	s, sess := newTestServer(t, nil, nil)
	_ = sess.Start(context.Background(), 1, "m.gguf")

	w := doJSON(t, s.Router(), http.MethodPost, "/api/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	state, _ := sess.Read(context.Background())
	if state.IsProcessing {
		t.Error("session still processing after /api/stop")
	}
}

func TestProcessStreamsEventsAndSentinel(t *testing.T) {
	b := &stubBatch{events: []pipeline.Event{
		{Stage: "fetch", Total: 2, Message: "starting batch of 2 document(s)"},
		{Stage: "store", NodeID: 1, Current: 1, Total: 2, Message: "doc-1.pdf done"},
	}}
	s, _ := newTestServer(t, nil, b)

	w := doJSON(t, s.Router(), http.MethodPost, "/api/process", map[string]any{"count": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n\n")
	if len(lines) != 3 {
		t.Fatalf("events = %d, want 3: %q", len(lines), w.Body.String())
	}
	if lines[len(lines)-1] != "data: "+pipeline.DoneSentinel {
		t.Errorf("last line = %q", lines[len(lines)-1])
	}
	var ev pipeline.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Stage != "store" || ev.NodeID != 1 {
		t.Errorf("event = %+v", ev)
	}
}

func TestProcessConflictWhenBatchRunning(t *testing.T) {
	s, _ := newTestServer(t, nil, &stubBatch{running: true})

	w := doJSON(t, s.Router(), http.MethodPost, "/api/process", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestNextReturnsUnvalidatedItem(t *testing.T) {
	tr := &stubTracker{items: []tracker.Item{
		{NodeID: 1, AIProcessed: true, HumanValidated: true},
		{NodeID: 2, AIProcessed: false},
		{NodeID: 3, AIProcessed: true, Filename: "doc-3.pdf"},
	}}
	s, _ := newTestServer(t, tr, nil)

	w := doJSON(t, s.Router(), http.MethodGet, "/api/next", nil)
	var body struct {
		Item map[string]any `json:"item"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Item == nil || body.Item["node_id"] != float64(3) {
		t.Errorf("item = %v", body.Item)
	}
}

func TestNextEmptyQueue(t *testing.T) {
	s, _ := newTestServer(t, &stubTracker{}, nil)

	w := doJSON(t, s.Router(), http.MethodGet, "/api/next", nil)
	var body struct {
		Item *map[string]any `json:"item"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Item != nil {
		t.Errorf("item = %v, want null", body.Item)
	}
}

func TestValidatePersistsVerdict(t *testing.T) {
	tr := &stubTracker{}
	s, _ := newTestServer(t, tr, nil)

	w := doJSON(t, s.Router(), http.MethodPost, "/api/validate", map[string]any{
		"node_id":        7,
		"invoice_number": "INV-7",
		"company_name":   "ACME",
		"total_amount":   12.5,
		"notes":          "fixed date",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if len(tr.validations) != 1 || tr.validations[0].NodeID != 7 || tr.validations[0].InvoiceNumber != "INV-7" {
		t.Errorf("validations = %+v", tr.validations)
	}
}

func TestValidateRejectsMissingNodeID(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	w := doJSON(t, s.Router(), http.MethodPost, "/api/validate", map[string]any{"invoice_number": "X"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestExportReturnsWorkbook(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	w := doJSON(t, s.Router(), http.MethodGet, "/api/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), ".xlsx") {
		t.Errorf("disposition = %q", w.Header().Get("Content-Disposition"))
	}
	if w.Body.String() != "xlsx-bytes" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestModelsListsGGUFFiles(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	for _, name := range []string{"b.gguf", "a.GGUF", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(s.cfg.ModelsDir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write model file: %v", err)
		}
	}

	w := doJSON(t, s.Router(), http.MethodGet, "/api/models", nil)
	var body struct {
		Models  []string `json:"models"`
		Default string   `json:"default"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Models) != 2 || body.Models[0] != "a.GGUF" || body.Models[1] != "b.gguf" {
		t.Errorf("models = %v", body.Models)
	}
	if body.Default != "m.gguf" {
		t.Errorf("default = %q", body.Default)
	}
}

func TestRequestIDHeaderRoundTrip(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "fixed-id" {
		t.Errorf("request id = %q", got)
	}
}
