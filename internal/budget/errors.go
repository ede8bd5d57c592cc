package budget

import "fmt"

// ErrExceeded is returned when usage surpasses configured limits.
type ErrExceeded struct {
	Kind  string
	Usage string
	Limit string
}

func (e ErrExceeded) Error() string {
	if e.Limit != "" {
		return fmt.Sprintf("budget %s exceeded: usage=%s limit=%s", e.Kind, e.Usage, e.Limit)
	}
	return fmt.Sprintf("budget %s exceeded: usage=%s", e.Kind, e.Usage)
}

// ErrApprovalRequired indicates that a run needs manual approval before
// execution.
type ErrApprovalRequired struct {
	EstimatedCost float64
	Threshold     float64
}

func (e ErrApprovalRequired) Error() string {
	if e.Threshold > 0 {
		return fmt.Sprintf("run requires approval: estimated cost $%.4f exceeds threshold $%.4f", e.EstimatedCost, e.Threshold)
	}
	return fmt.Sprintf("run requires approval: estimated cost $%.4f", e.EstimatedCost)
}
