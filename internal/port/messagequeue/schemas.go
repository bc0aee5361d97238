package messagequeue

// TaskStatusPayload is the schema for tasks.status messages.
type TaskStatusPayload struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// GuardVerdictPayload is the schema for guardian.decisions messages.
type GuardVerdictPayload struct {
	TaskID   string   `json:"task_id,omitempty"`
	Kind     string   `json:"kind"`
	Decision string   `json:"decision"`
	Score    float64  `json:"score"`
	Reasons  []string `json:"reasons,omitempty"`
}

// ControlHaltPayload is the schema for control.halt messages.
type ControlHaltPayload struct {
	Halted bool   `json:"halted"`
	Reason string `json:"reason,omitempty"`
}
