package domain

import "time"

// ReportSection is one titled block of a report document.
type ReportSection struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}

// ReportDocument is an assembled activity report ready for rendering.
type ReportDocument struct {
	Title       string          `json:"title"`
	Repo        string          `json:"repo"`
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
	GeneratedAt time.Time       `json:"generated_at"`
	Sections    []ReportSection `json:"sections"`
	Sources     []string        `json:"sources,omitempty"`
	ModelID     string          `json:"model_id,omitempty"`
}
