package clean

import "time"

// PageIssue records a page left unmodified because it could not be
// analysed.
type PageIssue struct {
	Page   int    `json:"page" yaml:"page"`
	Reason string `json:"reason" yaml:"reason"`
}

// Report summarises one run. Page numbers are one-based.
type Report struct {
	Input       string        `json:"input,omitempty" yaml:"input,omitempty"`
	Output      string        `json:"output,omitempty" yaml:"output,omitempty"`
	DebugDir    string        `json:"debug_dir,omitempty" yaml:"debug_dir,omitempty"`
	DPI         float64       `json:"dpi" yaml:"dpi"`
	Center      string        `json:"center" yaml:"center"`
	TotalPages  int           `json:"total_pages" yaml:"total_pages"`
	EditedPages []int         `json:"edited_pages" yaml:"edited_pages"`
	Centered    []int         `json:"centered_pages,omitempty" yaml:"centered_pages,omitempty"`
	Fallback    []int         `json:"fallback_pages,omitempty" yaml:"fallback_pages,omitempty"`
	Unselected  []int         `json:"unselected_pages,omitempty" yaml:"unselected_pages,omitempty"`
	Skipped     []PageIssue   `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Objects     int           `json:"objects" yaml:"objects"`
	Bytes       int64         `json:"bytes" yaml:"bytes"`
	Elapsed     time.Duration `json:"elapsed_ns" yaml:"elapsed"`
}

// EditRatio is the share of pages that were edited, in [0, 1].
func (r Report) EditRatio() float64 {
	if r.TotalPages == 0 {
		return 0
	}
	return float64(len(r.EditedPages)) / float64(r.TotalPages)
}
