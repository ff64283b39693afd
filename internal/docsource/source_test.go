package docsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/northpeak/invoice-tracker/internal/common"
)

func TestFetchSendsTicketAndReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("OTCSTicket") != "tick-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/101/content" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer srv.Close()

	s := NewHTTPSource(Config{BaseURL: srv.URL, Ticket: "tick-1"}, nil)
	raw, err := s.Fetch(context.Background(), 101)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(raw) != "%PDF-1.4 fake" {
		t.Errorf("content = %q", raw)
	}
}

func TestFetchErrorMapsToSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewHTTPSource(Config{BaseURL: srv.URL, Ticket: "t"}, nil)
	_, err := s.Fetch(context.Background(), 5)
	if !errors.Is(err, common.ErrSourceFetch) {
		t.Fatalf("err = %v, want ErrSourceFetch", err)
	}
}

func TestListPagesThroughFolder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		var n int
		switch page {
		case 1:
			n = 200
		case 2:
			n = 3
		default:
			t.Errorf("unexpected page %d", page)
		}
		fmt.Fprint(w, `{"results":[`)
		for i := 0; i < n; i++ {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			id := (page-1)*200 + i + 1
			fmt.Fprintf(w, `{"data":{"properties":{"id":%d,"name":"doc-%d.pdf"}}}`, id, id)
		}
		fmt.Fprint(w, `]}`)
	}))
	defer srv.Close()

	s := NewHTTPSource(Config{BaseURL: srv.URL, Ticket: "t"}, nil)
	docs, err := s.List(context.Background(), 42)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 203 {
		t.Fatalf("len = %d, want 203", len(docs))
	}
	if docs[201] != "doc-201.pdf" {
		t.Errorf("docs[201] = %q", docs[201])
	}
}
