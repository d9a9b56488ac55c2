package upload

import (
	"context"
	"sync"
	"time"

	"github.com/tutorhive/lesson-publisher/internal/types"
)

// ProgressFunc observes the fractional progress of one task in [0, 1].
type ProgressFunc func(fraction float64)

// Task uploads one blob to one destination. A task runs at most once: it
// emits a monotonically non-decreasing sequence of progress fractions and
// terminates in exactly one of success (with a URL) or failure.
type Task struct {
	kind     types.AssetKind
	blob     *types.Blob
	uploader Uploader
	timeout  time.Duration

	mu   sync.Mutex
	last float64
	ran  bool
}

// NewTask creates a task for one asset slot payload. A non-zero timeout
// bounds the whole upload regardless of which backend performs it.
func NewTask(kind types.AssetKind, blob *types.Blob, uploader Uploader, timeout time.Duration) *Task {
	return &Task{kind: kind, blob: blob, uploader: uploader, timeout: timeout}
}

// Kind returns the asset kind this task uploads.
func (t *Task) Kind() types.AssetKind { return t.kind }

// Run performs the upload. The size gate is checked first: an oversized blob
// fails with AssetTooLargeError before any network connection is opened.
func (t *Task) Run(ctx context.Context, onProgress ProgressFunc) (string, error) {
	t.mu.Lock()
	if t.ran {
		t.mu.Unlock()
		return "", &UploadError{Asset: t.kind, Kind: Transport, Message: "task already ran"}
	}
	t.ran = true
	t.mu.Unlock()

	if limit := t.kind.MaxSizeBytes(); t.blob.Size() > limit {
		return "", &AssetTooLargeError{Asset: t.kind, Size: t.blob.Size(), Limit: limit}
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	url, err := t.uploader.Upload(ctx, t.kind, t.blob, func(written, total int64) {
		t.emit(onProgress, written, total)
	})
	if err != nil {
		return "", err
	}

	// Guarantee a final 1.0 before the terminal event.
	t.emit(onProgress, 1, 1)
	return url, nil
}

func (t *Task) emit(onProgress ProgressFunc, written, total int64) {
	if onProgress == nil || total <= 0 {
		return
	}
	fraction := float64(written) / float64(total)
	if fraction > 1 {
		fraction = 1
	}

	t.mu.Lock()
	if fraction < t.last {
		t.mu.Unlock()
		return
	}
	t.last = fraction
	t.mu.Unlock()

	onProgress(fraction)
}
