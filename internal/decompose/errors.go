package decompose

import "errors"

var (
	errPlanSize     = errors.New("decompose: plan size out of bounds (1-50)")
	errMissingField = errors.New("decompose: task missing task_id or prompt")
)
