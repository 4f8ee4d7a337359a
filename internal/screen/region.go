package screen

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/GriffinCanCode/subvoice/internal/errors"
)

// Region is a screen rectangle given by two corners in pixels.
type Region struct {
	X1 int `json:"x1" yaml:"x1"`
	Y1 int `json:"y1" yaml:"y1"`
	X2 int `json:"x2" yaml:"x2"`
	Y2 int `json:"y2" yaml:"y2"`
}

// ParseRegion reads "x1,y1,x2,y2" and normalizes the corners.
func ParseRegion(s string) (Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Region{}, apperrors.Newf(apperrors.ConfigInvalid, "region %q: want x1,y1,x2,y2", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Region{}, apperrors.Wrapf(err, apperrors.ConfigInvalid, "region %q", s)
		}
		v[i] = n
	}
	r := Region{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}.Normalize()
	return r, r.Validate()
}

// Normalize orders the corners so X1 <= X2 and Y1 <= Y2.
func (r Region) Normalize() Region {
	return Region{
		X1: min(r.X1, r.X2), Y1: min(r.Y1, r.Y2),
		X2: max(r.X1, r.X2), Y2: max(r.Y1, r.Y2),
	}
}

func (r Region) Width() int  { return r.X2 - r.X1 }
func (r Region) Height() int { return r.Y2 - r.Y1 }

// Validate rejects regions with no area or negative origins.
func (r Region) Validate() error {
	if r.Width() <= 0 || r.Height() <= 0 {
		return apperrors.Newf(apperrors.ConfigInvalid, "region %s has no area", r)
	}
	if r.X1 < 0 || r.Y1 < 0 {
		return apperrors.Newf(apperrors.ConfigInvalid, "region %s starts off screen", r)
	}
	return nil
}

// IsZero reports whether no region was set.
func (r Region) IsZero() bool { return r == Region{} }

func (r Region) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X1, r.Y1, r.X2, r.Y2)
}
