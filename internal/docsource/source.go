// Package docsource fetches invoice documents from the document
// repository's nodes API.
package docsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/northpeak/invoice-tracker/internal/common"
)

// Source lists a folder and fetches document content by node id.
type Source interface {
	Fetch(ctx context.Context, nodeID int64) ([]byte, error)
	List(ctx context.Context, folderID int64) (map[int64]string, error)
}

// Config for the HTTP source.
type Config struct {
	BaseURL string // nodes API root, e.g. https://docs.example.com/api/v2/nodes
	Ticket  string // pre-provisioned auth ticket
	Timeout time.Duration
}

// HTTPSource implements Source against a nodes API using a ticket header.
type HTTPSource struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewHTTPSource(cfg Config, logger *slog.Logger) *HTTPSource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSource{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Fetch downloads a document's content. Any failure maps to
// common.ErrSourceFetch so the pipeline can classify it.
func (s *HTTPSource) Fetch(ctx context.Context, nodeID int64) ([]byte, error) {
	start := time.Now()
	u := fmt.Sprintf("%s/%d/content", s.cfg.BaseURL, nodeID)

	raw, err := s.get(ctx, u)
	if err != nil {
		s.logger.Error("docsource.fetch.error", "node_id", nodeID, "error", err)
		return nil, common.WrapError(common.ErrSourceFetch, fmt.Sprintf("fetch node %d", nodeID))
	}
	s.logger.Info("docsource.fetch.done",
		"node_id", nodeID, "bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds())
	return raw, nil
}

// List returns node id -> filename for the documents in a folder, paging
// through subnode results.
func (s *HTTPSource) List(ctx context.Context, folderID int64) (map[int64]string, error) {
	out := make(map[int64]string)
	for page := 1; ; page++ {
		q := url.Values{"page": {strconv.Itoa(page)}, "limit": {"200"}}
		u := fmt.Sprintf("%s/%d/nodes?%s", s.cfg.BaseURL, folderID, q.Encode())

		raw, err := s.get(ctx, u)
		if err != nil {
			s.logger.Error("docsource.list.error", "folder_id", folderID, "error", err)
			return nil, common.WrapError(common.ErrSourceFetch, fmt.Sprintf("list folder %d", folderID))
		}

		var body struct {
			Results []struct {
				Data struct {
					Properties struct {
						ID   int64  `json:"id"`
						Name string `json:"name"`
					} `json:"properties"`
				} `json:"data"`
			} `json:"results"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, common.WrapError(common.ErrSourceFetch, "decode folder listing")
		}
		for _, r := range body.Results {
			out[r.Data.Properties.ID] = r.Data.Properties.Name
		}
		if len(body.Results) < 200 {
			break
		}
	}
	s.logger.Info("docsource.list.done", "folder_id", folderID, "count", len(out))
	return out, nil
}

func (s *HTTPSource) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("OTCSTicket", s.cfg.Ticket)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("source returned %d", resp.StatusCode)
	}
	return raw, nil
}
