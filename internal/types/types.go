package types

import "fmt"

// AssetKind identifies one of the binary resources attached to a lesson.
type AssetKind string

const (
	KindVideo     AssetKind = "video"
	KindThumbnail AssetKind = "thumbnail"
	KindPDFNotes  AssetKind = "pdf_notes"
)

// AssetKinds lists every kind in the order slots are processed.
var AssetKinds = []AssetKind{KindVideo, KindThumbnail, KindPDFNotes}

// MaxSizeBytes returns the upload size ceiling for this kind.
func (k AssetKind) MaxSizeBytes() int64 {
	switch k {
	case KindVideo:
		return 100 << 20
	case KindThumbnail:
		return 5 << 20
	case KindPDFNotes:
		return 10 << 20
	}
	return 0
}

// Field returns the lesson payload field this kind's URL is written to.
func (k AssetKind) Field() string {
	switch k {
	case KindVideo:
		return "video"
	case KindThumbnail:
		return "video_thumbnail"
	case KindPDFNotes:
		return "pdf_note"
	}
	return string(k)
}

// SlotState tracks one asset slot through a submission attempt.
type SlotState string

const (
	SlotEmpty     SlotState = "empty"
	SlotReady     SlotState = "ready"
	SlotUploading SlotState = "uploading"
	SlotSucceeded SlotState = "succeeded"
	SlotFailed    SlotState = "failed"
)

// Blob is an in-memory binary payload owned by exactly one slot.
type Blob struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the payload length in bytes.
func (b *Blob) Size() int64 {
	if b == nil {
		return 0
	}
	return int64(len(b.Data))
}

// AssetSlot is the typed holder for one asset kind within a lesson draft.
// A slot moves Ready -> Uploading -> Succeeded/Failed exactly once per
// submission attempt; Reset prepares it for the next attempt.
type AssetSlot struct {
	Kind      AssetKind
	Blob      *Blob
	State     SlotState
	Progress  float64
	ResultURL string
	Err       error
}

// NewSlot creates an empty slot for the given kind.
func NewSlot(kind AssetKind) *AssetSlot {
	return &AssetSlot{Kind: kind, State: SlotEmpty}
}

// Attach gives the slot its payload and marks it ready for upload.
func (s *AssetSlot) Attach(blob *Blob) {
	s.Blob = blob
	s.State = SlotReady
}

// IsEmpty reports whether the slot has nothing to upload.
func (s *AssetSlot) IsEmpty() bool {
	return s.Blob == nil || s.State == SlotEmpty
}

// BeginUpload transitions the slot into Uploading.
func (s *AssetSlot) BeginUpload() error {
	if s.State != SlotReady {
		return fmt.Errorf("slot %s is %s, expected %s", s.Kind, s.State, SlotReady)
	}
	s.State = SlotUploading
	return nil
}

// Succeed records the terminal result URL. The URL is immutable once set.
func (s *AssetSlot) Succeed(url string) {
	if s.State == SlotSucceeded || s.State == SlotFailed {
		return
	}
	s.State = SlotSucceeded
	s.Progress = 1
	s.ResultURL = url
}

// Fail records the terminal error.
func (s *AssetSlot) Fail(err error) {
	if s.State == SlotSucceeded || s.State == SlotFailed {
		return
	}
	s.State = SlotFailed
	s.Err = err
}

// Reset clears attempt state so the whole slot can be re-uploaded.
func (s *AssetSlot) Reset() {
	s.Progress = 0
	s.ResultURL = ""
	s.Err = nil
	if s.Blob != nil {
		s.State = SlotReady
	} else {
		s.State = SlotEmpty
	}
}

// LessonDraft is the caller-assembled input to one publish run. A draft with
// an empty LessonID creates a new lesson and requires all three slots; a
// draft tied to an existing LessonID may leave slots empty, in which case the
// previously committed URL in PriorURLs is carried forward unchanged.
type LessonDraft struct {
	LessonID        string `validate:"-"`
	CourseID        string `validate:"required"`
	TutorID         string `validate:"required"`
	Title           string `validate:"required"`
	Description     string
	DurationMinutes int `validate:"gte=0"`

	Slots     map[AssetKind]*AssetSlot `validate:"-"`
	PriorURLs map[AssetKind]string     `validate:"-"`
}

// NewLessonDraft creates a draft with empty slots for every asset kind.
func NewLessonDraft(courseID, tutorID, title string) *LessonDraft {
	slots := make(map[AssetKind]*AssetSlot, len(AssetKinds))
	for _, kind := range AssetKinds {
		slots[kind] = NewSlot(kind)
	}
	return &LessonDraft{
		CourseID:  courseID,
		TutorID:   tutorID,
		Title:     title,
		Slots:     slots,
		PriorURLs: make(map[AssetKind]string),
	}
}

// IsUpdate reports whether this draft edits an existing lesson.
func (d *LessonDraft) IsUpdate() bool {
	return d.LessonID != ""
}

// ActiveSlots returns the non-empty slots in processing order.
func (d *LessonDraft) ActiveSlots() []*AssetSlot {
	var active []*AssetSlot
	for _, kind := range AssetKinds {
		if slot := d.Slots[kind]; slot != nil && !slot.IsEmpty() {
			active = append(active, slot)
		}
	}
	return active
}

// Lesson is the committed record returned by the backend.
type Lesson struct {
	ID           string `json:"id"`
	CourseID     string `json:"course,omitempty"`
	Tutor        string `json:"tutor"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Duration     int    `json:"duration"`
	VideoURL     string `json:"video"`
	ThumbnailURL string `json:"video_thumbnail"`
	PDFNoteURL   string `json:"pdf_note"`
	CreatedAt    string `json:"created_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

// PipelineState is the observable state of one publish run.
type PipelineState string

const (
	StateIdle       PipelineState = "idle"
	StateValidating PipelineState = "validating"
	StateUploading  PipelineState = "uploading"
	StateCommitting PipelineState = "committing"
	StateCommitted  PipelineState = "committed"
	StateFailed     PipelineState = "failed"
	StateCancelled  PipelineState = "cancelled"
)

// Terminal reports whether no further transitions can happen from this state.
func (s PipelineState) Terminal() bool {
	return s == StateCommitted || s == StateFailed || s == StateCancelled
}
