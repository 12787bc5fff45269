package orchestrator

import (
	"github.com/nexasecurity/nexasec/internal/data/model"
)

var transitions = map[model.ScanStatus][]model.ScanStatus{
	model.StatusPending: {model.StatusRunning},
	model.StatusRunning: {model.StatusCompleted, model.StatusFailed, model.StatusCancelled},
}

// CanTransition reports whether a scan may move from one status to another.
// Terminal statuses have no outgoing transitions.
func CanTransition(from, to model.ScanStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
