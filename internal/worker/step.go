package worker

import (
	"bytes"
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/disintegration/imaging"
	"github.com/ledongthuc/pdf"

	"github.com/Cecilia-Banda/multilingual-file-manager/internal/model"
)

// Simulator is a Step that sleeps for a fixed duration, matching the
// behavior of the reference pipeline. Used in dev mode and tests.
type Simulator struct {
	Delay time.Duration
}

// Process waits out the delay or the context, whichever ends first.
func (s Simulator) Process(ctx context.Context, _ *model.FileRecord, _ []byte) error {
	timer := time.NewTimer(s.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inspector is the default Step: it verifies that the uploaded bytes really
// are what the declared MIME type claims. Only the status flip is persisted;
// no processing artifact is stored.
type Inspector struct{}

// Process dispatches on the record's MIME type.
func (Inspector) Process(ctx context.Context, rec *model.FileRecord, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch rec.MimeType {
	case "application/pdf":
		return inspectPDF(content)
	case "image/jpeg", "image/png":
		return inspectImage(content)
	case "text/plain":
		if !utf8.Valid(content) {
			return fmt.Errorf("text file contains invalid UTF-8")
		}
		return nil
	default:
		return fmt.Errorf("no inspection for MIME type %s", rec.MimeType)
	}
}

// inspectPDF parses the document and walks its pages.
func inspectPDF(content []byte) error {
	doc, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return fmt.Errorf("parse pdf: %w", err)
	}
	total := doc.NumPage()
	if total == 0 {
		return fmt.Errorf("pdf has no pages")
	}
	for page := 1; page <= total; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		if _, err := p.GetPlainText(nil); err != nil {
			return fmt.Errorf("pdf page %d: %w", page, err)
		}
	}
	return nil
}

// inspectImage decodes the image and runs it through a downscale, which
// forces a full pixel decode rather than a header-only check.
func inspectImage(content []byte) error {
	img, err := imaging.Decode(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	if thumb := imaging.Resize(img, 64, 0, imaging.Lanczos); thumb == nil {
		return fmt.Errorf("downscale image")
	}
	return nil
}
