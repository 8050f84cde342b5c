// Package validate checks that a saved model loads back numerically intact.
package validate

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/qrv0/tensorstore/internal/artifact"
	"github.com/qrv0/tensorstore/internal/dtype"
	"github.com/qrv0/tensorstore/internal/store"
	"github.com/qrv0/tensorstore/internal/tensor"
)

// DefaultAtol is the absolute tolerance used when none is given.
const DefaultAtol = 1e-3

// Mismatch describes one tensor that failed comparison.
type Mismatch struct {
	Name       string  `json:"name"`
	Reason     string  `json:"reason"`
	MaxAbsDiff float64 `json:"max_abs_diff,omitempty"`
}

type Report struct {
	Compared   int        `json:"compared"`
	Identical  int        `json:"identical"`
	Missing    []string   `json:"missing,omitempty"`
	Extra      []string   `json:"extra,omitempty"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
	// MaxAbsDiff is the largest element difference over all compared tensors.
	MaxAbsDiff float64 `json:"max_abs_diff"`
	// MaxRelErr is the largest ||got-want|| / ||want|| over compared tensors.
	MaxRelErr float64 `json:"max_rel_err"`
}

func (r *Report) OK() bool {
	return len(r.Missing) == 0 && len(r.Mismatches) == 0
}

// Err summarizes a failed report, or returns nil.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	var parts []string
	if len(r.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing %s", strings.Join(r.Missing, ", ")))
	}
	for _, m := range r.Mismatches {
		parts = append(parts, fmt.Sprintf("%s: %s", m.Name, m.Reason))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(parts, "; "))
}

// Compare checks every tensor of want against the tensor of the same name
// in got. Tensors with equal dtype and bytes are identical; otherwise the
// values must agree within atol after decoding to float64.
func Compare(want, got tensor.Collection, atol float64) *Report {
	r := &Report{}
	for _, w := range want {
		g, ok := got.Lookup(w.Name)
		if !ok {
			r.Missing = append(r.Missing, w.Name)
			continue
		}
		r.Compared++
		if w.DType == g.DType && sameShape(w.Shape, g.Shape) && bytes.Equal(w.Data, g.Data) {
			r.Identical++
			continue
		}
		diff, rel, err := compareValues(w, g)
		if err != nil {
			r.Mismatches = append(r.Mismatches, Mismatch{Name: w.Name, Reason: err.Error()})
			continue
		}
		r.MaxAbsDiff = math.Max(r.MaxAbsDiff, diff)
		r.MaxRelErr = math.Max(r.MaxRelErr, rel)
		if diff > atol || math.IsNaN(diff) {
			r.Mismatches = append(r.Mismatches, Mismatch{
				Name:       w.Name,
				Reason:     fmt.Sprintf("max abs diff %g exceeds %g", diff, atol),
				MaxAbsDiff: diff,
			})
		}
	}
	for _, g := range got {
		if _, ok := want.Lookup(g.Name); !ok {
			r.Extra = append(r.Extra, g.Name)
		}
	}
	return r
}

func compareValues(w, g *tensor.Tensor) (maxAbs, rel float64, err error) {
	if !sameShape(w.Shape, g.Shape) {
		return 0, 0, fmt.Errorf("shape %v, want %v", g.Shape, w.Shape)
	}
	a, err := w.Float64s()
	if err != nil {
		return 0, 0, err
	}
	b, err := g.Float64s()
	if err != nil {
		return 0, 0, err
	}
	if len(a) == 0 {
		return 0, 0, nil
	}
	// NaN must sit at the same positions; those pairs and exactly equal
	// pairs (matching infinities included) contribute no difference.
	ref := make([]float64, 0, len(a))
	diff := make([]float64, 0, len(a))
	for i := range a {
		an, bn := math.IsNaN(a[i]), math.IsNaN(b[i])
		switch {
		case an != bn:
			return math.NaN(), math.NaN(), nil
		case an:
			continue
		case a[i] == b[i]:
			diff = append(diff, 0)
		default:
			diff = append(diff, a[i]-b[i])
		}
		ref = append(ref, a[i])
	}
	if len(diff) == 0 {
		return 0, 0, nil
	}
	maxAbs = floats.Norm(diff, math.Inf(1))
	if n := floats.Norm(ref, 2); n > 0 && !math.IsInf(n, 0) {
		rel = floats.Norm(diff, 2) / n
	}
	return maxAbs, rel, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type RoundTripOptions struct {
	Config artifact.Config
	Force  bool
	// DType, when valid, is requested on load; comparisons then use Atol.
	DType dtype.DType
	Atol  float64
}

// RoundTrip saves c to loc, loads it back into a skeleton declaring every
// tensor name and compares the result with c.
func RoundTrip(ctx context.Context, o *artifact.Orchestrator, c tensor.Collection, loc artifact.Location, opts RoundTripOptions) (*Report, error) {
	if err := o.Save(ctx, c, opts.Config, loc, opts.Force); err != nil {
		return nil, err
	}
	target, err := o.Load(ctx, loc, artifact.SkeletonFactory(c.Names()...), artifact.LoadOptions{DType: opts.DType})
	if err != nil {
		return nil, err
	}
	sk, ok := target.(*store.Skeleton)
	if !ok {
		return nil, fmt.Errorf("unexpected target %T", target)
	}
	atol := opts.Atol
	if atol == 0 {
		atol = DefaultAtol
	}
	return Compare(c, sk.Collection(), atol), nil
}
