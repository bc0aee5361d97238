// Package control defines the port for the global kill switch.
package control

import "context"

// HaltChecker reports whether the system-wide kill switch is engaged.
// Checked once per task before planning; implementations should be cheap.
type HaltChecker interface {
	Halted(ctx context.Context) (bool, string, error)
}
