// Package event defines the telemetry log entry broadcast by the control plane.
package event

import "time"

// Level classifies a log event's severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// LogEvent is a single structured entry emitted by a service or agent and
// fanned out to live subscribers.
type LogEvent struct {
	EventID   string         `json:"event_id"`
	Service   string         `json:"service"`
	TaskID    string         `json:"task_id,omitempty"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ControlState is the global halt flag reported by the control endpoints.
type ControlState struct {
	Halted   bool      `json:"halted"`
	Reason   string    `json:"reason,omitempty"`
	HaltedAt time.Time `json:"halted_at,omitempty"`
}
