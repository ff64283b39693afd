package ocr

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/northpeak/invoice-tracker/constants"
)

// Block is one recognized text region on a page. Created once, never
// mutated afterwards.
type Block struct {
	Text       string       `json:"text"`
	Polygon    [][2]float64 `json:"polygon"`
	Confidence float32      `json:"confidence"`
}

// Page is the recognized content of a single page (1-based PageNum).
type Page struct {
	PageNum int     `json:"page_num"`
	Text    string  `json:"text"`
	Blocks  []Block `json:"blocks"`
}

// Result is the page-indexed outcome of OCR for one document. The fast
// path hands the same *Result to the caller and to the background task, so
// every accessor takes the lock; pages written by the background task
// become visible to readers as they land.
type Result struct {
	mu sync.Mutex

	method     constants.OCRMethod
	pages      []Page
	totalPages int
	note       string // appended to FullText, e.g. page-cap omission

	bgDone bool
	bgErr  error
	done   chan struct{} // closed when the background task finishes
}

func newResult(method constants.OCRMethod, totalPages int) *Result {
	return &Result{
		method:     method,
		totalPages: totalPages,
		done:       make(chan struct{}),
	}
}

// NewCompletedResult builds an already-final Result from known pages, for
// callers that obtained page text through some other recognizer.
func NewCompletedResult(method constants.OCRMethod, pages []Page, totalPages int) *Result {
	r := newResult(method, totalPages)
	for _, p := range pages {
		r.appendPage(p)
	}
	r.finishBackground(nil)
	return r
}

// NewStreamingResult builds a Result whose remaining pages are produced by
// an external recognizer. The returned functions append a page and mark
// the background work finished.
func NewStreamingResult(method constants.OCRMethod, totalPages int) (r *Result, addPage func(Page), finish func(error)) {
	r = newResult(method, totalPages)
	return r, r.appendPage, r.finishBackground
}

// Method reports which extraction path produced this result.
func (r *Result) Method() constants.OCRMethod {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.method
}

func (r *Result) setMethod(m constants.OCRMethod) {
	r.mu.Lock()
	r.method = m
	r.mu.Unlock()
}

// TotalPages is the number of pages the orchestrator will process for this
// document (already capped at max pages).
func (r *Result) TotalPages() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalPages
}

// PageCount is the number of pages present so far.
func (r *Result) PageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pages)
}

func (r *Result) appendPage(p Page) {
	r.mu.Lock()
	r.pages = append(r.pages, p)
	r.mu.Unlock()
}

func (r *Result) setNote(note string) {
	r.mu.Lock()
	r.note = note
	r.mu.Unlock()
}

// FullText is the ordered concatenation of every page present so far, with
// page markers. It is rebuilt from the pages on each call, so it can never
// drift from them, even mid-background-processing.
func (r *Result) FullText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fullTextLocked()
}

func (r *Result) fullTextLocked() string {
	var b strings.Builder
	for i, p := range r.pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "--- PAGE %d ---\n%s", p.PageNum, p.Text)
	}
	if r.note != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(r.note)
	}
	return b.String()
}

// Snapshot returns a consistent copy of the current state for callers that
// need pages and text observed at a single instant.
type Snapshot struct {
	Method        constants.OCRMethod
	Pages         []Page
	FullText      string
	TotalPages    int
	Complete      bool
	BackgroundErr error
}

func (r *Result) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	pages := make([]Page, len(r.pages))
	copy(pages, r.pages)
	return Snapshot{
		Method:        r.method,
		Pages:         pages,
		FullText:      r.fullTextLocked(),
		TotalPages:    r.totalPages,
		Complete:      r.bgDone,
		BackgroundErr: r.bgErr,
	}
}

// finishBackground records the background task outcome. A failure never
// clears pages already collected.
func (r *Result) finishBackground(err error) {
	r.mu.Lock()
	r.bgDone = true
	r.bgErr = err
	r.mu.Unlock()
	close(r.done)
}

// BackgroundComplete reports whether all pages beyond the first have been
// processed (or the background task gave up).
func (r *Result) BackgroundComplete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bgDone
}

// BackgroundErr returns the background task's failure, if any.
func (r *Result) BackgroundErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bgErr
}

// Wait blocks until the background task finishes or the timeout elapses.
// It returns true when the result is complete; on timeout the caller
// proceeds with whatever partial text exists.
func (r *Result) Wait(timeout time.Duration) bool {
	select {
	case <-r.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
