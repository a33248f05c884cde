package mask

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// RGB is a dense row-major image with three interleaved 8-bit channels.
type RGB struct {
	Width, Height int
	Pix           []byte
}

// FromImage flattens img into RGB order, dropping alpha.
func FromImage(img image.Image) (*RGB, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, errors.Wrapf(ErrInvalidImage, "%dx%d", w, h)
	}
	out := &RGB{Width: w, Height: h, Pix: make([]byte, 3*w*h)}

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride:]
			dst := out.Pix[y*w*3:]
			for x := 0; x < w; x++ {
				copy(dst[x*3:x*3+3], row[x*4:x*4+3])
			}
		}
	case *image.RGBA:
		// premultiplied, but identical for opaque inputs which is what decoders hand us
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride:]
			dst := out.Pix[y*w*3:]
			for x := 0; x < w; x++ {
				copy(dst[x*3:x*3+3], row[x*4:x*4+3])
			}
		}
	default:
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				out.Pix[i], out.Pix[i+1], out.Pix[i+2] = c.R, c.G, c.B
				i += 3
			}
		}
	}
	return out, nil
}

func (r *RGB) Validate() error {
	if r == nil || r.Width <= 0 || r.Height <= 0 {
		return ErrInvalidImage
	}
	if len(r.Pix) != 3*r.Width*r.Height {
		return errors.Wrapf(ErrInvalidImage, "buffer is %d bytes, want %d", len(r.Pix), 3*r.Width*r.Height)
	}
	return nil
}

// Image returns an NRGBA view of the buffer, mainly for previews.
func (r *RGB) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	for i, j := 0, 0; i < len(r.Pix); i, j = i+3, j+4 {
		img.Pix[j], img.Pix[j+1], img.Pix[j+2], img.Pix[j+3] = r.Pix[i], r.Pix[i+1], r.Pix[i+2], 0xff
	}
	return img
}
