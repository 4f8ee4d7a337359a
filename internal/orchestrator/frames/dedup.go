// Package frames recognizes repeated captures so OCR can be skipped for a
// frame that looks the same as the previous one.
package frames

import (
	"bytes"
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"log/slog"
	"sync"

	"github.com/corona10/goimagehash"
)

// Dedup compares each frame's perceptual hash with the previous frame's and
// remembers the text recognized for it.
type Dedup struct {
	maxDistance int

	mu       sync.Mutex
	lastHash *goimagehash.ImageHash
	lastText string
	hasText  bool
	skipped  uint64
}

// New creates a Dedup. Frames whose hash differs by at most maxDistance bits
// count as repeats; a negative maxDistance disables the check.
func New(maxDistance int) *Dedup {
	return &Dedup{maxDistance: maxDistance}
}

// Lookup reports the text of the previous frame if img repeats it. Frames
// that fail to decode never match.
func (d *Dedup) Lookup(img []byte) (string, bool) {
	if d.maxDistance < 0 {
		return "", false
	}
	hash := perception(img)

	d.mu.Lock()
	defer d.mu.Unlock()
	if hash == nil {
		d.lastHash, d.hasText = nil, false
		return "", false
	}
	prev := d.lastHash
	d.lastHash = hash
	if prev == nil || !d.hasText {
		return "", false
	}
	dist, err := prev.Distance(hash)
	if err != nil || dist > d.maxDistance {
		d.hasText = false
		return "", false
	}
	d.skipped++
	slog.Debug("skipping OCR due to similar frame", "distance", dist)
	return d.lastText, true
}

// Remember records the text recognized for the frame passed to the last Lookup.
func (d *Dedup) Remember(text string) {
	d.mu.Lock()
	d.lastText, d.hasText = text, d.lastHash != nil
	d.mu.Unlock()
}

// Reset forgets the previous frame.
func (d *Dedup) Reset() {
	d.mu.Lock()
	d.lastHash, d.lastText, d.hasText = nil, "", false
	d.mu.Unlock()
}

// Skipped returns how many frames reused the previous text.
func (d *Dedup) Skipped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.skipped
}

func perception(b []byte) *goimagehash.ImageHash {
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return nil
	}
	return hash
}
