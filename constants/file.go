package constants

import "strings"

// AllowedExtensions holds the extensions the pipeline will accept from the
// document repository. Anything else must be converted to PDF upstream.
var AllowedExtensions = map[string]struct{}{
	"pdf": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsPDFExt reports whether the extension (with or without dot) is a PDF.
func IsPDFExt(ext string) bool {
	return NormalizeExt(ext) == "pdf"
}
