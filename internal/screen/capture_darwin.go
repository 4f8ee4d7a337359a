//go:build darwin

package screen

import (
	"context"
	"fmt"
	"os/exec"
)

type darwinBackend struct{}

// -x: no sound, -t png, -R x,y,w,h region in points
func (darwinBackend) command(ctx context.Context, r Region, out string) (*exec.Cmd, error) {
	rect := fmt.Sprintf("%d,%d,%d,%d", r.X1, r.Y1, r.Width(), r.Height())
	return exec.CommandContext(ctx, "screencapture", "-x", "-t", "png", "-R", rect, out), nil
}

// New creates a platform-specific screen capturer
func New() (Capturer, error) {
	return newExecCapturer(darwinBackend{})
}
