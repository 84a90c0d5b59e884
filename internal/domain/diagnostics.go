package domain

import "time"

// DiagnosticStatus indicates whether a single environment check passed.
type DiagnosticStatus string

const (
	DiagnosticStatusPass DiagnosticStatus = "pass"
	DiagnosticStatusFail DiagnosticStatus = "fail"
)

// DiagnosticItem is one environment check result with optional hint.
type DiagnosticItem struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Status  DiagnosticStatus `json:"status"`
	Message string           `json:"message"`
	Hint    string           `json:"hint,omitempty"`
}

// DiagnosticReport aggregates environment checks for the availability probe.
type DiagnosticReport struct {
	GeneratedAt      time.Time        `json:"generated_at"`
	BrowserAvailable bool             `json:"browser_available"`
	RemuxAvailable   bool             `json:"remux_available"`
	HasFailures      bool             `json:"has_failures"`
	Items            []DiagnosticItem `json:"items"`
}
