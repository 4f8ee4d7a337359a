//go:build linux

package screen

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	apperrors "github.com/GriffinCanCode/subvoice/internal/errors"
)

type linuxBackend struct {
	lookPath func(string) (string, error)
	wayland  bool
}

func (l linuxBackend) command(ctx context.Context, r Region, out string) (*exec.Cmd, error) {
	geometry := fmt.Sprintf("%dx%d+%d+%d", r.Width(), r.Height(), r.X1, r.Y1)
	has := func(tool string) bool {
		_, err := l.lookPath(tool)
		return err == nil
	}

	switch {
	case l.wayland && has("grim"):
		return exec.CommandContext(ctx, "grim", "-g", fmt.Sprintf("%d,%d %dx%d", r.X1, r.Y1, r.Width(), r.Height()), out), nil
	case has("maim"):
		return exec.CommandContext(ctx, "maim", "-g", geometry, out), nil
	case has("import"):
		return exec.CommandContext(ctx, "import", "-window", "root", "-crop", geometry, out), nil
	case has("scrot"):
		return exec.CommandContext(ctx, "scrot", "-o", "-a", fmt.Sprintf("%d,%d,%d,%d", r.X1, r.Y1, r.Width(), r.Height()), out), nil
	}
	return nil, apperrors.New(apperrors.CaptureFailed, "no region screenshot tool found (install grim, maim, imagemagick or scrot)")
}

// New creates a platform-specific screen capturer
func New() (Capturer, error) {
	return newExecCapturer(linuxBackend{lookPath: exec.LookPath, wayland: os.Getenv("WAYLAND_DISPLAY") != ""})
}
