package mask

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Mask is a single channel, row-major segmentation mask.
type Mask struct {
	Rows, Width int
	Pix         []byte
}

// Reshape copies out into a Mask of width columns. A zero length output is
// how the native library reports failure.
func Reshape(out *Output, width int) (*Mask, error) {
	return FromBytes(out.Bytes(), width)
}

// FromBytes is Reshape for a buffer already in Go memory. data is copied.
func FromBytes(data []byte, width int) (*Mask, error) {
	if len(data) == 0 {
		return nil, ErrEmptyResult
	}
	if width <= 0 {
		return nil, errors.Wrapf(ErrInvalidImage, "width=%d", width)
	}
	if len(data)%width != 0 {
		return nil, errors.Wrapf(ErrMalformedOutput, "%d bytes, width %d", len(data), width)
	}
	m := &Mask{
		Rows:  len(data) / width,
		Width: width,
		Pix:   make([]byte, len(data)),
	}
	copy(m.Pix, data)
	return m, nil
}

// FromGray converts any image into a mask, keeping luminance.
func FromGray(img image.Image) *Mask {
	b := img.Bounds()
	m := &Mask{Rows: b.Dy(), Width: b.Dx(), Pix: make([]byte, b.Dx()*b.Dy())}
	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < m.Rows; y++ {
			copy(m.Pix[y*m.Width:(y+1)*m.Width], g.Pix[y*g.Stride:])
		}
		return m
	}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			m.Pix[i] = color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			i++
		}
	}
	return m
}

func (m *Mask) Image() *image.Gray {
	return &image.Gray{
		Pix:    m.Pix,
		Stride: m.Width,
		Rect:   image.Rect(0, 0, m.Width, m.Rows),
	}
}

// Coverage is the fraction of pixels inside the mask.
func (m *Mask) Coverage() float64 {
	if len(m.Pix) == 0 {
		return 0
	}
	var n int
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return float64(n) / float64(len(m.Pix))
}

// WriteFile encodes the mask in the format implied by the extension of path.
func (m *Mask) WriteFile(path string) error {
	if err := imaging.Save(m.Image(), path); err != nil {
		return errors.Wrapf(err, "imaging.Save %s", path)
	}
	return nil
}

func ReadFile(path string) (*Mask, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "imaging.Open %s", path)
	}
	return FromGray(img), nil
}
