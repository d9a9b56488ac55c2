package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/tutorhive/lesson-publisher/internal/types"
)

// destinationSegment maps an asset kind to its upload endpoint path segment.
func destinationSegment(kind types.AssetKind) string {
	switch kind {
	case types.KindVideo:
		return "video"
	case types.KindThumbnail:
		return "image"
	default:
		return "raw"
	}
}

// HostedUploader performs a single multipart POST per asset to the hosted
// media endpoint for its kind. The response must carry a secure_url field;
// anything else is a failed upload.
type HostedUploader struct {
	baseURL   string
	preset    string
	namespace string
	client    *http.Client
}

// NewHostedUploader creates an uploader for the hosted media endpoints.
// Upload deadlines are the caller's concern and arrive through the context.
func NewHostedUploader(baseURL, preset, namespace string) *HostedUploader {
	return &HostedUploader{
		baseURL:   baseURL,
		preset:    preset,
		namespace: namespace,
		client:    &http.Client{},
	}
}

type hostedResponse struct {
	SecureURL string `json:"secure_url"`
	Error     struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload sends the blob as multipart form data and returns the stored URL.
func (u *HostedUploader) Upload(ctx context.Context, kind types.AssetKind, blob *types.Blob, progress func(written, total int64)) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", blob.Name)
	if err != nil {
		return "", &UploadError{Asset: kind, Kind: Transport, Err: err}
	}
	if _, err := part.Write(blob.Data); err != nil {
		return "", &UploadError{Asset: kind, Kind: Transport, Err: err}
	}
	if err := form.WriteField("upload_preset", u.preset); err != nil {
		return "", &UploadError{Asset: kind, Kind: Transport, Err: err}
	}
	if err := form.WriteField("cloud_name", u.namespace); err != nil {
		return "", &UploadError{Asset: kind, Kind: Transport, Err: err}
	}
	if err := form.Close(); err != nil {
		return "", &UploadError{Asset: kind, Kind: Transport, Err: err}
	}

	total := int64(body.Len())
	reader := &progressReader{r: &body, total: total, report: progress}

	endpoint := fmt.Sprintf("%s/%s/upload", u.baseURL, destinationSegment(kind))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return "", &UploadError{Asset: kind, Kind: Transport, Err: err}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.ContentLength = total

	resp, err := u.client.Do(req)
	if err != nil {
		return "", classifyTransportError(ctx, kind, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &UploadError{Asset: kind, Kind: Transport, Err: err}
	}

	var parsed hostedResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = json.Unmarshal(raw, &parsed)
		msg := parsed.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("upload endpoint returned status %d", resp.StatusCode)
		}
		return "", &UploadError{Asset: kind, Kind: Status, Message: msg}
	}

	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &UploadError{Asset: kind, Kind: Response, Message: "unparseable upload response", Err: err}
	}
	if parsed.SecureURL == "" {
		return "", &UploadError{Asset: kind, Kind: Response, Message: "upload response missing secure_url"}
	}
	return parsed.SecureURL, nil
}

// classifyTransportError distinguishes timeouts and aborts from plain
// transport failures.
func classifyTransportError(ctx context.Context, kind types.AssetKind, err error) *UploadError {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &UploadError{Asset: kind, Kind: Timeout, Message: "upload timed out", Err: err}
	case errors.Is(ctx.Err(), context.Canceled):
		return &UploadError{Asset: kind, Kind: Canceled, Message: "upload aborted", Err: err}
	default:
		return &UploadError{Asset: kind, Kind: Transport, Err: err}
	}
}
