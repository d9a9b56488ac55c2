package lesson

import "fmt"

// ValidationError means a required lesson field or required asset is missing.
// It is raised before the upload orchestrator is ever invoked and is never
// retried automatically.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid draft: %s: %s", e.Field, e.Message)
}

// CommitError means the metadata call was rejected after all assets
// succeeded. Uploaded assets are not rolled back.
type CommitError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *CommitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("lesson commit rejected: %s", e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("lesson commit failed: %v", e.Err)
	}
	return fmt.Sprintf("lesson commit failed with status %d", e.StatusCode)
}

func (e *CommitError) Unwrap() error { return e.Err }
