package llm

import "testing"

func TestSanitizeDate(t *testing.T) {
	cases := []struct {
		in   any
		want string // "" means nil
	}{
		{"2024-03-15", "2024-03-15"},
		{"15/03/2024", "2024-03-15"},
		{"03/15/2024", "2024-03-15"},
		{"March 15, 2024", "2024-03-15"},
		{"15 Mar 2024", "2024-03-15"},
		{"20240315", "2024-03-15"},
		{"  2024-03-15  ", "2024-03-15"},
		{"null", ""},
		{"N/A", ""},
		{"sometime last spring", ""},
		{nil, ""},
		{42.0, ""},
	}
	for _, c := range cases {
		got := sanitizeDate(c.in)
		if c.want == "" {
			if got != nil {
				t.Errorf("sanitizeDate(%v) = %q, want nil", c.in, *got)
			}
			continue
		}
		if got == nil || *got != c.want {
			t.Errorf("sanitizeDate(%v) = %v, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitizeDateIdempotent(t *testing.T) {
	first := sanitizeDate("Jan 2, 2024")
	if first == nil {
		t.Fatal("expected a date")
	}
	second := sanitizeDate(*first)
	if second == nil || *second != *first {
		t.Errorf("second pass = %v, want %q", second, *first)
	}
}

func TestSanitizeAmount(t *testing.T) {
	cases := []struct {
		in   any
		want float64
	}{
		{1234.56, 1234.56},
		{"$1,234.56", 1234.56},
		{"1.234,56 EUR", 1.23456}, // separator ambiguity resolves digit-wise
		{"99", 99},
		{"-42.50", -42.5},
		{"free", 0},
		{"", 0},
		{nil, 0},
		{true, 0},
	}
	for _, c := range cases {
		if got := sanitizeAmount(c.in); got != c.want {
			t.Errorf("sanitizeAmount(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSanitizeRecordMissingKeys(t *testing.T) {
	f := sanitizeRecord(map[string]any{"invoice_number": "X-1"})
	if f.InvoiceNumber != "X-1" {
		t.Errorf("invoice_number = %q", f.InvoiceNumber)
	}
	if f.CompanyName != "" || f.InvoiceDate != nil || f.TotalAmount != 0 {
		t.Errorf("missing keys should zero: %+v", f)
	}
}
