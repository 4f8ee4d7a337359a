// Package ocr turns captured frames into text and filters the recognized
// lines down to the part worth translating.
package ocr

import (
	"context"
	"strings"

	apperrors "github.com/GriffinCanCode/subvoice/internal/errors"
	"github.com/GriffinCanCode/subvoice/internal/trace"
)

// Recognizer extracts text from an encoded image.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Filtered wraps a Recognizer and passes its output through a LineFilter.
type Filtered struct {
	rec    Recognizer
	filter *LineFilter
}

// NewFiltered wraps rec so recognized lines pass through filter.
func NewFiltered(rec Recognizer, filter *LineFilter) *Filtered {
	return &Filtered{rec: rec, filter: filter}
}

// Recognize returns the filtered text. Recognizer failures come back as
// OCR_FAILED unless they already carry a code.
func (f *Filtered) Recognize(ctx context.Context, image []byte) (string, error) {
	ctx, span := trace.StartSpan(ctx, "ocr")
	defer span.End()
	span.SetAttr("bytes", len(image))

	raw, err := f.rec.Recognize(ctx, image)
	if err != nil {
		span.SetError(err)
		if apperrors.CodeOf(err) == apperrors.Unknown {
			err = apperrors.Wrap(err, apperrors.OCRFailed, "recognize frame")
		}
		return "", err
	}
	text := f.filter.Apply(SplitLines(raw))
	span.SetAttr("chars", len(text))
	return text, nil
}

// SplitLines breaks recognizer output into trimmed, non-empty lines.
func SplitLines(raw string) []string {
	var lines []string
	for _, l := range strings.Split(raw, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
