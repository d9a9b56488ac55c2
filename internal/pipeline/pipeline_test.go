package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tutorhive/lesson-publisher/internal/media"
	"github.com/tutorhive/lesson-publisher/internal/repository"
	"github.com/tutorhive/lesson-publisher/internal/services/lesson"
	"github.com/tutorhive/lesson-publisher/internal/types"
	"github.com/tutorhive/lesson-publisher/internal/upload"
)

// fakeUploader returns a canned URL per kind and counts invocations. failFor
// makes the named kind fail for the first failAttempts calls.
type fakeUploader struct {
	mu           sync.Mutex
	calls        int
	attempts     map[types.AssetKind]int
	failFor      types.AssetKind
	failAttempts int
	block        chan struct{}
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{attempts: make(map[types.AssetKind]int)}
}

func (f *fakeUploader) Upload(ctx context.Context, kind types.AssetKind, blob *types.Blob, progress func(written, total int64)) (string, error) {
	f.mu.Lock()
	f.calls++
	f.attempts[kind]++
	attempt := f.attempts[kind]
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if kind == f.failFor && attempt <= f.failAttempts {
		return "", &upload.UploadError{Asset: kind, Kind: upload.Transport, Message: "connection reset"}
	}

	total := blob.Size()
	if progress != nil {
		progress(total/2, total)
		progress(total, total)
	}
	return fmt.Sprintf("https://cdn.example.com/%s", kind), nil
}

func (f *fakeUploader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// commitServer echoes the submitted asset URLs back in the lesson record.
func commitServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		resp := map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"lesson": map[string]interface{}{
					"id":              "lesson-42",
					"course":          "course-1",
					"title":           payload["title"],
					"video":           payload["video"],
					"video_thumbnail": payload["video_thumbnail"],
					"pdf_note":        payload["pdf_note"],
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func stubTransform(r io.Reader, aspect media.Ratio) (*types.Blob, error) {
	return &types.Blob{Name: "thumbnail.jpg", ContentType: "image/jpeg", Data: make([]byte, 512)}, nil
}

func createDraft() *types.LessonDraft {
	draft := types.NewLessonDraft("course-1", "tutor-1", "Intro to Go")
	draft.Slots[types.KindVideo].Attach(&types.Blob{Name: "v.mp4", ContentType: "video/mp4", Data: make([]byte, 4096)})
	draft.Slots[types.KindThumbnail].Attach(&types.Blob{Name: "t.png", ContentType: "image/png", Data: make([]byte, 1024)})
	draft.Slots[types.KindPDFNotes].Attach(&types.Blob{Name: "n.pdf", ContentType: "application/pdf", Data: make([]byte, 2048)})
	return draft
}

func drain(t *testing.T, updates <-chan Update) []Update {
	t.Helper()
	var all []Update
	timeout := time.After(5 * time.Second)
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return all
			}
			all = append(all, update)
		case <-timeout:
			t.Fatal("timed out waiting for pipeline updates")
		}
	}
}

func TestPipeline_CreateReachesCommitted(t *testing.T) {
	server := commitServer(t)
	defer server.Close()

	uploader := newFakeUploader()
	repo := repository.NewMemoryRepository()
	p := New(uploader, lesson.NewService(server.URL, nil), repo, 0)
	p.transform = stubTransform

	updates, err := p.Submit(context.Background(), createDraft())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all := drain(t, updates)

	final := all[len(all)-1]
	if final.State != types.StateCommitted {
		t.Fatalf("expected %s, got %s (err=%v)", types.StateCommitted, final.State, final.Err)
	}
	if final.Lesson == nil {
		t.Fatal("expected committed lesson")
	}
	if final.Lesson.VideoURL != "https://cdn.example.com/video" {
		t.Fatalf("unexpected video url %q", final.Lesson.VideoURL)
	}
	if final.Lesson.ThumbnailURL != "https://cdn.example.com/thumbnail" {
		t.Fatalf("unexpected thumbnail url %q", final.Lesson.ThumbnailURL)
	}
	if final.Lesson.PDFNoteURL != "https://cdn.example.com/pdf_notes" {
		t.Fatalf("unexpected pdf url %q", final.Lesson.PDFNoteURL)
	}
	if uploader.callCount() != 3 {
		t.Fatalf("expected 3 uploads, got %d", uploader.callCount())
	}

	// The committed lesson is merged into the repository.
	merged, err := repo.Get(context.Background(), "lesson-42")
	if err != nil {
		t.Fatalf("expected lesson in repository: %v", err)
	}
	if merged.Title != "Intro to Go" {
		t.Fatalf("unexpected merged title %q", merged.Title)
	}

	// Progress never decreases across the run.
	prev := 0.0
	for i, update := range all {
		if update.Progress < prev {
			t.Fatalf("progress decreased at update %d: %f -> %f", i, prev, update.Progress)
		}
		prev = update.Progress
	}
}

func TestPipeline_OversizedVideoFailsBeforeTransport(t *testing.T) {
	server := commitServer(t)
	defer server.Close()

	uploader := newFakeUploader()
	p := New(uploader, lesson.NewService(server.URL, nil), nil, 0)
	p.transform = stubTransform

	draft := createDraft()
	draft.Slots[types.KindVideo].Attach(&types.Blob{
		Name: "huge.mp4", ContentType: "video/mp4", Data: make([]byte, (100<<20)+1),
	})

	updates, err := p.Submit(context.Background(), draft)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all := drain(t, updates)

	final := all[len(all)-1]
	if final.State != types.StateFailed {
		t.Fatalf("expected %s, got %s", types.StateFailed, final.State)
	}
	var tooLarge *upload.AssetTooLargeError
	if !errors.As(final.Err, &tooLarge) {
		t.Fatalf("expected AssetTooLargeError, got %v", final.Err)
	}
	if uploader.callCount() != 0 {
		t.Fatalf("expected no transport invocation, got %d", uploader.callCount())
	}
}

func TestPipeline_ValidationFailureBlocksSubmission(t *testing.T) {
	uploader := newFakeUploader()
	p := New(uploader, lesson.NewService("http://localhost", nil), nil, 0)
	p.transform = stubTransform

	draft := createDraft()
	draft.Slots[types.KindPDFNotes] = types.NewSlot(types.KindPDFNotes)

	updates, err := p.Submit(context.Background(), draft)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all := drain(t, updates)

	final := all[len(all)-1]
	if final.State != types.StateFailed {
		t.Fatalf("expected %s, got %s", types.StateFailed, final.State)
	}
	var valErr *lesson.ValidationError
	if !errors.As(final.Err, &valErr) {
		t.Fatalf("expected ValidationError, got %v", final.Err)
	}
	if uploader.callCount() != 0 {
		t.Fatalf("expected no uploads, got %d", uploader.callCount())
	}
}

func TestPipeline_RetryRestartsFromValidating(t *testing.T) {
	server := commitServer(t)
	defer server.Close()

	uploader := newFakeUploader()
	uploader.failFor = types.KindVideo
	uploader.failAttempts = 1

	p := New(uploader, lesson.NewService(server.URL, nil), nil, 0)
	p.transform = stubTransform

	updates, err := p.Submit(context.Background(), createDraft())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all := drain(t, updates)
	if final := all[len(all)-1]; final.State != types.StateFailed {
		t.Fatalf("expected first attempt to fail, got %s", final.State)
	}
	if p.State() != types.StateFailed {
		t.Fatalf("expected pipeline in %s, got %s", types.StateFailed, p.State())
	}

	retryUpdates, err := p.Retry(context.Background())
	if err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}
	all = drain(t, retryUpdates)
	if final := all[len(all)-1]; final.State != types.StateCommitted {
		t.Fatalf("expected retry to commit, got %s (err=%v)", final.State, final.Err)
	}

	// Retry re-uploads every non-empty slot, not only the failed one.
	if uploader.callCount() != 6 {
		t.Fatalf("expected 6 uploads across both attempts, got %d", uploader.callCount())
	}

	if _, err := p.Retry(context.Background()); err == nil {
		t.Fatal("expected retry from Committed to be rejected")
	}
}

func TestPipeline_CancelDuringUpload(t *testing.T) {
	server := commitServer(t)
	defer server.Close()

	uploader := newFakeUploader()
	uploader.block = make(chan struct{})

	p := New(uploader, lesson.NewService(server.URL, nil), nil, 0)
	p.transform = stubTransform

	updates, err := p.Submit(context.Background(), createDraft())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Wait for the run to reach Uploading before cancelling.
	deadline := time.Now().Add(2 * time.Second)
	for p.State() != types.StateUploading {
		if time.Now().After(deadline) {
			t.Fatal("pipeline never reached Uploading")
		}
		time.Sleep(time.Millisecond)
	}
	p.Cancel()

	all := drain(t, updates)
	final := all[len(all)-1]
	if final.State != types.StateCancelled {
		t.Fatalf("expected %s, got %s", types.StateCancelled, final.State)
	}

	if _, err := p.Submit(context.Background(), createDraft()); err == nil {
		t.Fatal("expected submit after terminal state to be rejected")
	}
}

func TestPipeline_CancelDuringCommitIsIgnored(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, `{"success": true, "data": {"lesson": {"id": "lesson-42"}}}`)
	}))
	defer server.Close()

	uploader := newFakeUploader()
	p := New(uploader, lesson.NewService(server.URL, nil), nil, 0)
	p.transform = stubTransform

	updates, err := p.Submit(context.Background(), createDraft())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.State() != types.StateCommitting {
		if time.Now().After(deadline) {
			t.Fatal("pipeline never reached Committing")
		}
		time.Sleep(time.Millisecond)
	}

	// Once the metadata call is underway the run completes on its own.
	p.Cancel()
	close(release)

	all := drain(t, updates)
	final := all[len(all)-1]
	if final.State != types.StateCommitted {
		t.Fatalf("expected %s, got %s (err=%v)", types.StateCommitted, final.State, final.Err)
	}
}

func TestPipeline_SubmitWhileRunningRejected(t *testing.T) {
	uploader := newFakeUploader()
	uploader.block = make(chan struct{})
	defer close(uploader.block)

	p := New(uploader, lesson.NewService("http://localhost", nil), nil, 0)
	p.transform = stubTransform

	updates, err := p.Submit(context.Background(), createDraft())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := p.Submit(context.Background(), createDraft()); err == nil {
		t.Fatal("expected second submit to be rejected")
	}

	p.Cancel()
	drain(t, updates)
}
