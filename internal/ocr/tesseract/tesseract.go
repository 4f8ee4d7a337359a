// Package tesseract recognizes text in-process with libtesseract.
package tesseract

import (
	"context"
	"sync"

	"github.com/otiai10/gosseract/v2"

	apperrors "github.com/GriffinCanCode/subvoice/internal/errors"
)

// Recognizer owns one tesseract client. Calls are serialized because the
// client holds a single image at a time.
type Recognizer struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// New creates a recognizer for the given tesseract language codes.
func New(languages ...string) (*Recognizer, error) {
	client := gosseract.NewClient()
	if len(languages) > 0 {
		if err := client.SetLanguage(languages...); err != nil {
			client.Close()
			return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "set ocr languages")
		}
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		client.Close()
		return nil, apperrors.Wrap(err, apperrors.OCRFailed, "set page segmentation mode")
	}
	return &Recognizer{client: client}, nil
}

func (r *Recognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.client.SetImageFromBytes(image); err != nil {
		return "", apperrors.Wrap(err, apperrors.OCRFailed, "load frame")
	}
	text, err := r.client.Text()
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.OCRFailed, "tesseract")
	}
	return text, nil
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client.Close()
}
