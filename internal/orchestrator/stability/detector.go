// Package stability decides whether freshly recognized text is worth
// translating. Text is accepted on the sample where it first settles: it
// matches the previous sample but not the one before, so a caption is
// translated once after it stops changing and not again while it stays.
package stability

import (
	"sync"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultWindowSize = 3
	DefaultThreshold  = 0.8
	DefaultMaxLength  = 200
)

// Config controls the acceptance policy. WindowSize 3 is the settle detector;
// WindowSize 2 accepts whenever the newest sample differs from the previous.
type Config struct {
	WindowSize int
	Threshold  float64
	MaxLength  int // in runes
}

func (c Config) withDefaults() Config {
	if c.WindowSize != 2 && c.WindowSize != 3 {
		c.WindowSize = DefaultWindowSize
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = DefaultThreshold
	}
	if c.MaxLength <= 0 {
		c.MaxLength = DefaultMaxLength
	}
	return c
}

// Detector holds the sliding window of recent samples.
type Detector struct {
	cfg    Config
	mu     sync.Mutex
	window []string // oldest first, len == cfg.WindowSize
}

// New creates a detector with its window pre-filled with empty sentinels.
func New(cfg Config) *Detector {
	cfg = cfg.withDefaults()
	return &Detector{cfg: cfg, window: make([]string, cfg.WindowSize)}
}

// Check records text and reports whether it should be translated. Empty or
// oversized text is rejected without touching the window.
func (d *Detector) Check(text string) bool {
	if text == "" || utf8.RuneCountInString(text) > d.cfg.MaxLength {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.window, d.window[1:])
	d.window[len(d.window)-1] = text

	w, thr := d.window, d.cfg.Threshold
	n := len(w)
	if n == 2 {
		return Similarity(w[1], w[0]) < thr
	}
	return Similarity(w[n-1], w[n-2]) >= thr && Similarity(w[n-1], w[n-3]) < thr
}

// Window returns a copy of the window, oldest first.
func (d *Detector) Window() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.window...)
}

// Reset refills the window with sentinels.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.window {
		d.window[i] = ""
	}
}

// Similarity returns 1 - editDistance/maxRuneLength over NFC-normalized input.
// Two empty strings are identical. An insertion scores lower here than under
// an indel-normalized ratio, so thresholds tuned for one need retuning.
func Similarity(a, b string) float64 {
	a, b = norm.NFC.String(a), norm.NFC.String(b)
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
