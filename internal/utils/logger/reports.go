package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// StringListReport collects lines that are written out as a plain text list.
type StringListReport struct {
	Title string

	mu    sync.Mutex
	items []string
}

var ReportPath = "reports"

// NewStringListReport returns an empty report with the given title.
func NewStringListReport(title string) *StringListReport {
	return &StringListReport{Title: title}
}

// Add appends items to the report. Safe for concurrent use.
func (r *StringListReport) Add(items ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, items...)
}

// Len returns the number of collected items.
func (r *StringListReport) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// WriteToFile appends the report to {dir}/report-{title}.txt and resets it.
// An empty dir falls back to ReportPath.
func (r *StringListReport) WriteToFile(dir string) (string, error) {
	if dir == "" {
		dir = ReportPath
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	reportFullPath := filepath.Join(dir, fmt.Sprintf("report-%s.txt", safeTitle(r.Title)))

	f, err := os.OpenFile(reportFullPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if _, err := fmt.Fprintln(f, item); err != nil {
			return "", fmt.Errorf("writing to file: %w", err)
		}
	}
	r.items = nil
	if _, err := fmt.Fprintln(f); err != nil {
		return "", fmt.Errorf("writing new line to file: %w", err)
	}
	return reportFullPath, nil
}

// Replace spaces and special characters with underscores
func safeTitle(title string) string {
	if title == "" {
		return "untitled"
	}
	var b strings.Builder
	for _, r := range title {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
