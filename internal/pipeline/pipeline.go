package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tutorhive/lesson-publisher/internal/media"
	"github.com/tutorhive/lesson-publisher/internal/repository"
	"github.com/tutorhive/lesson-publisher/internal/services/lesson"
	"github.com/tutorhive/lesson-publisher/internal/types"
	"github.com/tutorhive/lesson-publisher/internal/upload"
)

// Update is one observation of a publish run: the pipeline state and the
// aggregate upload progress, plus the lesson on Committed or the causing
// error on Failed.
type Update struct {
	State    types.PipelineState
	Progress float64
	Lesson   *types.Lesson
	Err      error
}

// transformFunc matches media.Transform; swapped out in tests.
type transformFunc func(r io.Reader, aspect media.Ratio) (*types.Blob, error)

// Pipeline is the façade combining transform, upload orchestration and
// metadata commit into one all-or-nothing publish operation. One pipeline
// instance drives one draft at a time.
type Pipeline struct {
	uploader    upload.Uploader
	commits     *lesson.Service
	repo        repository.LessonRepository
	transform   transformFunc
	aspect      media.Ratio
	taskTimeout time.Duration

	mu       sync.Mutex
	state    types.PipelineState
	draft    *types.LessonDraft
	cancel   context.CancelFunc
	progress float64
	lastErr  error
}

// New creates a publish pipeline. repo may be nil when no local lesson state
// is kept; a non-zero taskTimeout bounds each individual asset upload.
func New(uploader upload.Uploader, commits *lesson.Service, repo repository.LessonRepository, taskTimeout time.Duration) *Pipeline {
	return &Pipeline{
		uploader:    uploader,
		commits:     commits,
		repo:        repo,
		transform:   media.Transform,
		aspect:      media.ThumbnailRatio,
		taskTimeout: taskTimeout,
		state:       types.StateIdle,
	}
}

// State returns the pipeline's current state.
func (p *Pipeline) State() types.PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastError returns the error that moved the pipeline into Failed.
func (p *Pipeline) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Submit starts a publish run for the draft. It is valid only from Idle.
// The returned channel delivers state and progress updates and is closed
// once the run reaches a terminal state.
func (p *Pipeline) Submit(ctx context.Context, draft *types.LessonDraft) (<-chan Update, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != types.StateIdle {
		return nil, fmt.Errorf("pipeline is %s, submit requires %s", p.state, types.StateIdle)
	}
	p.draft = draft
	return p.start(ctx), nil
}

// Retry restarts the entire pipeline from Validating. Every non-empty slot
// is re-uploaded; no partial success is carried over between attempts. Valid
// only from Failed.
func (p *Pipeline) Retry(ctx context.Context) (<-chan Update, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != types.StateFailed {
		return nil, fmt.Errorf("retry is only valid from %s, pipeline is %s", types.StateFailed, p.state)
	}
	for _, slot := range p.draft.Slots {
		slot.Reset()
	}
	return p.start(ctx), nil
}

// Cancel aborts the run cooperatively. It is valid only before Committing
// begins; once the metadata call is underway the run completes or fails on
// its own. In-flight uploads are signalled to abort, but the remote store
// may already hold partial or full data.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == types.StateValidating || p.state == types.StateUploading {
		if p.cancel != nil {
			p.cancel()
		}
	}
}

// start must be called with p.mu held.
func (p *Pipeline) start(ctx context.Context) <-chan Update {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = types.StateValidating
	p.progress = 0
	p.lastErr = nil

	updates := make(chan Update, 32)
	go p.run(runCtx, p.draft, updates)
	return updates
}

func (p *Pipeline) run(ctx context.Context, draft *types.LessonDraft, updates chan Update) {
	defer close(updates)

	p.emit(updates, types.StateValidating, nil)

	if err := p.commits.ValidateDraft(draft); err != nil {
		p.fail(updates, err)
		return
	}

	// Size gates are local checks: an oversized asset fails the run before
	// any upload connection is opened.
	for _, slot := range draft.ActiveSlots() {
		if limit := slot.Kind.MaxSizeBytes(); slot.Blob.Size() > limit {
			p.fail(updates, &upload.AssetTooLargeError{Asset: slot.Kind, Size: slot.Blob.Size(), Limit: limit})
			return
		}
	}

	if thumb := draft.Slots[types.KindThumbnail]; thumb != nil && !thumb.IsEmpty() && p.transform != nil {
		blob, err := p.transform(bytes.NewReader(thumb.Blob.Data), p.aspect)
		if err != nil {
			p.fail(updates, err)
			return
		}
		thumb.Blob = blob
	}

	if p.cancelled(ctx, updates) {
		return
	}

	slots := draft.ActiveSlots()
	tasks := make([]*upload.Task, 0, len(slots))
	for _, slot := range slots {
		if err := slot.BeginUpload(); err != nil {
			p.fail(updates, err)
			return
		}
		tasks = append(tasks, upload.NewTask(slot.Kind, slot.Blob, p.uploader, p.taskTimeout))
	}

	p.emit(updates, types.StateUploading, nil)

	results, err := upload.RunAll(ctx, tasks, func(event upload.ProgressEvent) {
		p.observeProgress(updates, draft, event)
	})

	for _, slot := range slots {
		if url, ok := results[slot.Kind]; ok {
			slot.Succeed(url)
		}
	}
	if err != nil {
		var orchErr *upload.OrchestrationError
		if errors.As(err, &orchErr) {
			if slot := draft.Slots[orchErr.Asset]; slot != nil {
				slot.Fail(orchErr.Err)
			}
		}
		if p.cancelled(ctx, updates) {
			return
		}
		p.fail(updates, err)
		return
	}

	if !p.beginCommit(ctx, updates) {
		return
	}

	committed, err := p.commits.Commit(ctx, draft, results)
	if err != nil {
		p.fail(updates, err)
		return
	}

	if p.repo != nil {
		if err := p.repo.Merge(ctx, committed); err != nil {
			slog.Warn("failed to merge committed lesson into repository",
				slog.String("lesson_id", committed.ID), slog.String("error", err.Error()))
		}
	}

	slog.Info("lesson published",
		slog.String("lesson_id", committed.ID), slog.String("course_id", draft.CourseID))
	p.emit(updates, types.StateCommitted, committed)
}

// observeProgress mirrors task progress onto the slot and emits the
// aggregate. The aggregate shown to the caller never decreases.
func (p *Pipeline) observeProgress(updates chan Update, draft *types.LessonDraft, event upload.ProgressEvent) {
	p.mu.Lock()
	if slot := draft.Slots[event.Kind]; slot != nil && event.Fraction > slot.Progress {
		slot.Progress = event.Fraction
	}
	if event.Aggregate > p.progress {
		p.progress = event.Aggregate
	}
	aggregate := p.progress
	p.mu.Unlock()

	// Progress updates are best-effort; state transitions are not dropped.
	select {
	case updates <- Update{State: types.StateUploading, Progress: aggregate}:
	default:
	}
}

// beginCommit moves the run into Committing unless a cancel already landed.
// The check and the state change happen under one lock acquisition so that
// Cancel, which tests the state under the same lock, can never fire after the
// metadata call is underway.
func (p *Pipeline) beginCommit(ctx context.Context, updates chan Update) bool {
	p.mu.Lock()
	if ctx.Err() != nil {
		p.state = types.StateCancelled
		progress := p.progress
		p.mu.Unlock()

		slog.Info("lesson publish cancelled")
		updates <- Update{State: types.StateCancelled, Progress: progress}
		return false
	}
	p.state = types.StateCommitting
	p.progress = 1
	p.mu.Unlock()

	updates <- Update{State: types.StateCommitting, Progress: 1}
	return true
}

func (p *Pipeline) cancelled(ctx context.Context, updates chan Update) bool {
	if ctx.Err() == nil {
		return false
	}

	p.mu.Lock()
	p.state = types.StateCancelled
	progress := p.progress
	p.mu.Unlock()

	slog.Info("lesson publish cancelled")
	updates <- Update{State: types.StateCancelled, Progress: progress}
	return true
}

func (p *Pipeline) emit(updates chan Update, state types.PipelineState, committed *types.Lesson) {
	p.mu.Lock()
	p.state = state
	if state == types.StateCommitting || state == types.StateCommitted {
		p.progress = 1
	}
	progress := p.progress
	p.mu.Unlock()

	updates <- Update{State: state, Progress: progress, Lesson: committed}
}

func (p *Pipeline) fail(updates chan Update, err error) {
	p.mu.Lock()
	p.state = types.StateFailed
	p.lastErr = err
	progress := p.progress
	p.mu.Unlock()

	slog.Error("lesson publish failed", slog.String("error", err.Error()))
	updates <- Update{State: types.StateFailed, Progress: progress, Err: err}
}
