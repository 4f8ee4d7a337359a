package ocr

import (
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	apperrors "github.com/GriffinCanCode/subvoice/internal/errors"
	"github.com/GriffinCanCode/subvoice/internal/syncx"
)

const (
	DefaultExcludeAmount = 3
	minFilterLines       = 3
)

// LineFilter separates dialogue from recurring UI chrome. When a frame yields
// several lines, the longest one is kept and the rest are counted; a line seen
// ExcludeAmount times is excluded from then on.
type LineFilter struct {
	amount int
	set    *syncx.Value[map[string]struct{}]

	mu     sync.Mutex
	counts map[string]int
}

// NewLineFilter creates a filter seeded with excluded.
func NewLineFilter(amount int, excluded []string) *LineFilter {
	if amount <= 0 {
		amount = DefaultExcludeAmount
	}
	f := &LineFilter{
		amount: amount,
		set:    syncx.NewValue(map[string]struct{}{}),
		counts: make(map[string]int),
	}
	f.SetExcluded(excluded)
	return f
}

// Apply reduces recognized lines to the text to translate. Fewer than three
// lines are joined unchanged; "" means nothing survived.
func (f *LineFilter) Apply(lines []string) string {
	if len(lines) < minFilterLines {
		return strings.Join(lines, "\n")
	}

	set := f.set.Load()
	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		if _, ok := set[l]; !ok {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		return ""
	}

	longest := 0
	for i, l := range kept {
		if utf8.RuneCountInString(l) > utf8.RuneCountInString(kept[longest]) {
			longest = i
		}
	}

	var promote []string
	f.mu.Lock()
	for i, l := range kept {
		if i == longest {
			continue
		}
		f.counts[l]++
		if f.counts[l] == f.amount {
			promote = append(promote, l)
		}
	}
	f.mu.Unlock()

	if len(promote) > 0 {
		f.set.Update(func(cur map[string]struct{}) map[string]struct{} {
			next := make(map[string]struct{}, len(cur)+len(promote))
			for k := range cur {
				next[k] = struct{}{}
			}
			for _, l := range promote {
				next[l] = struct{}{}
			}
			return next
		})
		slog.Debug("lines excluded", "lines", promote)
	}
	return kept[longest]
}

// Excluded returns the excluded lines in sorted order.
func (f *LineFilter) Excluded() []string {
	set := f.set.Load()
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SetExcluded replaces the exclude set and forgets the pending counts.
func (f *LineFilter) SetExcluded(lines []string) {
	next := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		if l != "" {
			next[l] = struct{}{}
		}
	}
	f.set.Store(next)
	f.mu.Lock()
	f.counts = make(map[string]int)
	f.mu.Unlock()
}

type excludeFile struct {
	Exclude []string `yaml:"exclude"`
}

// LoadExcludeSet reads a YAML exclude file. A missing file is an empty set.
func LoadExcludeSet(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ConfigMissing, "read exclude set %s", path)
	}
	var f excludeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ConfigInvalid, "parse exclude set %s", path)
	}
	return f.Exclude, nil
}

// SaveExcludeSet writes lines to path, replacing it atomically.
func SaveExcludeSet(path string, lines []string) error {
	data, err := yaml.Marshal(excludeFile{Exclude: lines})
	if err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "encode exclude set")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperrors.Wrapf(err, apperrors.Internal, "write exclude set %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apperrors.Wrapf(err, apperrors.Internal, "replace exclude set %s", path)
	}
	return nil
}
