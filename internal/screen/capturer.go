// Package screen captures a rectangular screen region as an encoded image by
// shelling out to the platform's screenshot tool.
package screen

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"

	apperrors "github.com/GriffinCanCode/subvoice/internal/errors"
)

// Capturer grabs one image of a screen region.
type Capturer interface {
	Capture(ctx context.Context, r Region) ([]byte, error)
	Close() error
}

// backend builds the platform command that writes region r to out.
type backend interface {
	command(ctx context.Context, r Region, out string) (*exec.Cmd, error)
}

// execCapturer runs a backend command into a private temp directory.
type execCapturer struct {
	backend
	tempDir string
	seq     atomic.Uint64
}

func newExecCapturer(b backend) (*execCapturer, error) {
	dir, err := os.MkdirTemp("", "subvoice-screen-*")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CaptureFailed, "create screenshot dir")
	}
	return &execCapturer{backend: b, tempDir: dir}, nil
}

func (c *execCapturer) Capture(ctx context.Context, r Region) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	out := filepath.Join(c.tempDir, fmt.Sprintf("shot-%d.png", c.seq.Add(1)))
	defer os.Remove(out)

	cmd, err := c.command(ctx, r, out)
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CaptureFailed, "screenshot command").
			WithMetadata("tool", filepath.Base(cmd.Path)).
			WithMetadata("stderr", stderr.String())
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CaptureFailed, "read screenshot")
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CaptureFailed, "empty screenshot")
	}
	return data, nil
}

func (c *execCapturer) Close() error {
	slog.Debug("removing screenshot dir", "dir", c.tempDir)
	return os.RemoveAll(c.tempDir)
}
