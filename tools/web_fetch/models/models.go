package models

// Result is the outcome of one page fetch. Fetch failures are soft: the
// fetcher records them here and returns a nil error, so a slow or broken
// site never aborts a research run.
type Result struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Success   bool   `json:"success"`
	ErrKind   string `json:"err_kind,omitempty"` // "timeout" or "other"
	Status    int    `json:"status,omitempty"`
	ElapsedMS int    `json:"elapsed_ms,omitempty"`
}

const (
	ErrKindTimeout = "timeout"
	ErrKindOther   = "other"
)
