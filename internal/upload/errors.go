package upload

import (
	"fmt"

	"github.com/tutorhive/lesson-publisher/internal/types"
)

// AssetTooLargeError means the blob exceeds the size ceiling for its kind.
// It is raised before any network connection is opened.
type AssetTooLargeError struct {
	Asset types.AssetKind
	Size  int64
	Limit int64
}

func (e *AssetTooLargeError) Error() string {
	return fmt.Sprintf("%s asset is %d bytes, limit is %d bytes", e.Asset, e.Size, e.Limit)
}

// UploadErrorKind classifies why a single upload failed.
type UploadErrorKind string

const (
	Transport UploadErrorKind = "transport"
	Status    UploadErrorKind = "status"
	Response  UploadErrorKind = "response"
	Timeout   UploadErrorKind = "timeout"
	Canceled  UploadErrorKind = "canceled"
)

// UploadError is the terminal failure of one asset upload.
type UploadError struct {
	Asset   types.AssetKind
	Kind    UploadErrorKind
	Message string
	Err     error
}

func (e *UploadError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("upload of %s failed (%s): %s", e.Asset, e.Kind, msg)
}

func (e *UploadError) Unwrap() error { return e.Err }

// OrchestrationError is the first failure observed across one orchestration
// run; it terminates the whole submission under the all-or-nothing policy.
type OrchestrationError struct {
	Asset types.AssetKind
	Err   error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("orchestration failed on %s: %v", e.Asset, e.Err)
}

func (e *OrchestrationError) Unwrap() error { return e.Err }
