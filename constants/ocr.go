package constants

// OCRMethod records which extraction path produced a document's text.
type OCRMethod string

// Stable values (recorded in the tracker's OCR_Method column).
const (
	OCRNative     OCRMethod = "native"     // embedded PDF text was sufficient
	OCRRecognized OCRMethod = "recognized" // recognition engine ran on rasterized pages
	OCRFallback   OCRMethod = "fallback"   // recognition failed, native text used anyway
	OCRError      OCRMethod = "error"      // both paths failed
)
