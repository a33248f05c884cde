package maskdiff

import (
	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// DefaultDim is the perception hash size. It should be a power of 2.
const DefaultDim = 16

type Result struct {
	Distance  int     // perception hash distance
	Differing int     // pixels where exactly one mask is set
	IoU       float64 // foreground intersection over union, 1 when both are empty
}

// Compare measures how far apart two masks are. b is resized to a when
// their sizes differ.
func Compare(a, b *mask.Mask, dim int) (Result, error) {
	var r Result

	ha, err := goimagehash.ExtPerceptionHash(a.Image(), dim, dim)
	if err != nil {
		return r, errors.Wrap(err, "goimagehash.ExtPerceptionHash")
	}
	hb, err := goimagehash.ExtPerceptionHash(b.Image(), dim, dim)
	if err != nil {
		return r, errors.Wrap(err, "goimagehash.ExtPerceptionHash")
	}
	r.Distance, err = ha.Distance(hb)
	if err != nil {
		return r, errors.Wrap(err, "hash.Distance")
	}

	if a.Width != b.Width || a.Rows != b.Rows {
		b = mask.FromGray(imaging.Resize(b.Image(), a.Width, a.Rows, imaging.NearestNeighbor))
	}
	var inter, union int
	for i := range a.Pix {
		ia, ib := a.Pix[i] != 0, b.Pix[i] != 0
		if ia && ib {
			inter++
		}
		if ia || ib {
			union++
		}
		if ia != ib {
			r.Differing++
		}
	}
	r.IoU = 1
	if union > 0 {
		r.IoU = float64(inter) / float64(union)
	}
	return r, nil
}

// Tracker reports how much each mask differs from the one before it.
type Tracker struct {
	dim  int
	prev *mask.Mask
}

func NewTracker(dim int) *Tracker {
	return &Tracker{dim: dim}
}

// Next returns the comparison with the previous mask; ok is false for the
// first mask.
func (t *Tracker) Next(m *mask.Mask) (r Result, ok bool, err error) {
	prev := t.prev
	t.prev = m
	if prev == nil {
		return r, false, nil
	}
	r, err = Compare(prev, m, t.dim)
	return r, err == nil, err
}
