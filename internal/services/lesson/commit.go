package lesson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/tutorhive/lesson-publisher/internal/types"
)

// AuthFunc yields the Authorization header value for backend calls.
type AuthFunc func() (string, error)

// Service submits lesson metadata to the backend as a single
// create-or-update call once every required asset URL is known.
type Service struct {
	baseURL  string
	client   *http.Client
	auth     AuthFunc
	validate *validator.Validate
}

// NewService creates a commit service for the given API base URL. auth may
// be nil when the backend call needs no credentials (tests).
func NewService(baseURL string, auth AuthFunc) *Service {
	return &Service{
		baseURL:  baseURL,
		client:   &http.Client{},
		auth:     auth,
		validate: validator.New(),
	}
}

// lessonPayload is the commit request body.
type lessonPayload struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Duration       int    `json:"duration"`
	Video          string `json:"video"`
	VideoThumbnail string `json:"video_thumbnail"`
	PDFNote        string `json:"pdf_note"`
	Tutor          string `json:"tutor"`
}

type commitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Lesson types.Lesson `json:"lesson"`
	} `json:"data"`
}

// ValidateDraft checks the draft's metadata and asset slots. On create all
// three slots must carry a payload; on edit a slot may be empty only when a
// previously committed URL exists to carry forward.
func (s *Service) ValidateDraft(draft *types.LessonDraft) error {
	if err := s.validate.Struct(draft); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return &ValidationError{Field: errs[0].Field(), Message: errs[0].Tag()}
		}
		return &ValidationError{Field: "draft", Message: err.Error()}
	}

	for _, kind := range types.AssetKinds {
		slot := draft.Slots[kind]
		if slot != nil && !slot.IsEmpty() {
			continue
		}
		if !draft.IsUpdate() {
			return &ValidationError{Field: string(kind), Message: "asset is required"}
		}
		if draft.PriorURLs[kind] == "" {
			return &ValidationError{Field: string(kind), Message: "no previous asset to carry forward"}
		}
	}
	return nil
}

// Commit issues exactly one network call: POST for create, PUT for update.
// resolved holds the freshly uploaded URLs; slots left empty on an edit fall
// back to the draft's carried-forward URLs.
func (s *Service) Commit(ctx context.Context, draft *types.LessonDraft, resolved map[types.AssetKind]string) (*types.Lesson, error) {
	payload := lessonPayload{
		Title:          draft.Title,
		Description:    draft.Description,
		Duration:       draft.DurationMinutes,
		Video:          s.resolveURL(draft, resolved, types.KindVideo),
		VideoThumbnail: s.resolveURL(draft, resolved, types.KindThumbnail),
		PDFNote:        s.resolveURL(draft, resolved, types.KindPDFNotes),
		Tutor:          draft.TutorID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &CommitError{Err: fmt.Errorf("failed to encode lesson payload: %w", err)}
	}

	method := http.MethodPost
	url := fmt.Sprintf("%s/tutor/addlesson/%s", s.baseURL, draft.CourseID)
	if draft.IsUpdate() {
		method = http.MethodPut
		url = fmt.Sprintf("%s/tutor/lessons/%s", s.baseURL, draft.LessonID)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, &CommitError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.auth != nil {
		header, err := s.auth()
		if err != nil {
			return nil, &CommitError{Err: fmt.Errorf("failed to attach credentials: %w", err)}
		}
		req.Header.Set("Authorization", header)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &CommitError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &CommitError{StatusCode: resp.StatusCode, Err: err}
	}

	var parsed commitResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &CommitError{StatusCode: resp.StatusCode, Message: "unparseable commit response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !parsed.Success {
		return nil, &CommitError{StatusCode: resp.StatusCode, Message: parsed.Message}
	}

	lsn := parsed.Data.Lesson
	return &lsn, nil
}

func (s *Service) resolveURL(draft *types.LessonDraft, resolved map[types.AssetKind]string, kind types.AssetKind) string {
	if url, ok := resolved[kind]; ok && url != "" {
		return url
	}
	return draft.PriorURLs[kind]
}
