package taxonomy

import "fmt"

// Stages at which a classification attempt can fail
const (
	StageRequest  = "request"
	StageParse    = "parse"
	StageValidate = "validate"
)

// ClassificationError describes a failed classification call. The agent recovers from
// it by leaving the day unmapped; it is surfaced for logging and auditing only.
type ClassificationError struct {
	Stage string
	Err   error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification %s failed: %v", e.Stage, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}
