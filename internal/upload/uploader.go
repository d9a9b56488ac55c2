package upload

import (
	"context"
	"io"

	"github.com/tutorhive/lesson-publisher/internal/types"
)

// Uploader pushes one blob to its destination and returns the stored URL.
// Implementations report transfer progress through the callback as bytes are
// written; the reported counts are non-decreasing.
type Uploader interface {
	Upload(ctx context.Context, kind types.AssetKind, blob *types.Blob, progress func(written, total int64)) (string, error)
}

// progressReader counts bytes as they are consumed from the wrapped reader.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	report func(written, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		if p.report != nil {
			p.report(p.read, p.total)
		}
	}
	return n, err
}
