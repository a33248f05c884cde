package maskdiff

import (
	"testing"

	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/stretchr/testify/require"
)

func box(w, h, x0, y0, x1, y1 int) *mask.Mask {
	m := &mask.Mask{Rows: h, Width: w, Pix: make([]byte, w*h)}
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			m.Pix[y*w+x] = 0xff
		}
	}
	return m
}

func TestCompareIdentical(t *testing.T) {
	a := box(64, 64, 10, 10, 40, 40)
	r, err := Compare(a, box(64, 64, 10, 10, 40, 40), DefaultDim)
	require.NoError(t, err)
	require.Zero(t, r.Distance)
	require.Zero(t, r.Differing)
	require.Equal(t, 1.0, r.IoU)
}

func TestCompareDisjoint(t *testing.T) {
	a := box(64, 64, 0, 0, 16, 16)
	b := box(64, 64, 48, 48, 64, 64)
	r, err := Compare(a, b, DefaultDim)
	require.NoError(t, err)
	require.Positive(t, r.Distance)
	require.Equal(t, 2*16*16, r.Differing)
	require.Zero(t, r.IoU)
}

func TestCompareResizes(t *testing.T) {
	a := box(64, 64, 0, 0, 32, 64)
	b := box(32, 32, 0, 0, 16, 32)
	r, err := Compare(a, b, DefaultDim)
	require.NoError(t, err)
	require.Zero(t, r.Differing)
}

func TestTracker(t *testing.T) {
	tr := NewTracker(DefaultDim)
	_, ok, err := tr.Next(box(32, 32, 0, 0, 8, 8))
	require.NoError(t, err)
	require.False(t, ok)

	r, ok, err := tr.Next(box(32, 32, 0, 0, 8, 16))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 64, r.Differing)
	require.InDelta(t, 0.5, r.IoU, 1e-9)
}
