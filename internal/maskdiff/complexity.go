package maskdiff

import (
	"compress/gzip"

	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/pkg/errors"
)

type discardCounter struct {
	count int
}

func (dc *discardCounter) Write(p []byte) (n int, err error) {
	dc.count += len(p)
	return len(p), nil
}

// Complexity is the gzip compressed size of the mask over its raw size.
// Solid masks score near zero; speckled ones score higher.
func Complexity(m *mask.Mask) (float64, error) {
	if len(m.Pix) == 0 {
		return 0, mask.ErrEmptyResult
	}
	buf := &discardCounter{}
	enc, err := gzip.NewWriterLevel(buf, gzip.BestSpeed)
	if err != nil {
		return -1, err
	}
	if _, err := enc.Write(m.Pix); err != nil {
		return -1, errors.Wrap(err, "gzip write")
	}
	if err := enc.Close(); err != nil {
		return -1, errors.Wrap(err, "gzip close")
	}
	return float64(buf.count) / float64(len(m.Pix)), nil
}
