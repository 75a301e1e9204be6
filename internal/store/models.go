package store

import "time"

// Run is one recorded login attempt
type Run struct {
	ID             int64         `json:"id"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Status         string        `json:"status"`
	FinalURL       string        `json:"final_url"`
	ScreenshotPath string        `json:"screenshot_path,omitempty"`
	Error          string        `json:"error,omitempty"`
	Trigger        string        `json:"trigger"` // "cli" or "schedule"
}

// Succeeded reports whether the run verified a login
func (r Run) Succeeded() bool {
	return r.Status == StatusSuccess
}

// StatusSuccess is the status string stored for a verified login.
const StatusSuccess = "success"

// StatusCount is the number of runs with one status
type StatusCount struct {
	Status string
	Count  int
}
