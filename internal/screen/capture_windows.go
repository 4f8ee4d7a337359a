//go:build windows

package screen

import (
	"context"
	"os/exec"

	apperrors "github.com/GriffinCanCode/subvoice/internal/errors"
)

type windowsBackend struct{}

// TODO: capture through GDI BitBlt instead of refusing.
func (windowsBackend) command(ctx context.Context, r Region, out string) (*exec.Cmd, error) {
	return nil, apperrors.New(apperrors.CaptureFailed, "region capture not supported on windows")
}

// New creates a platform-specific screen capturer
func New() (Capturer, error) {
	return newExecCapturer(windowsBackend{})
}
