package pipeline

// DoneSentinel terminates every batch event stream.
const DoneSentinel = "[DONE]"

// Event is one line of batch progress pushed to stream consumers. The
// final event always carries DoneSentinel as its Message.
type Event struct {
	Stage    string `json:"stage"` // fetch|ocr|extract|store|done|error
	NodeID   int64  `json:"node_id,omitempty"`
	Filename string `json:"filename,omitempty"`
	Current  int    `json:"current"`
	Total    int    `json:"total"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}
