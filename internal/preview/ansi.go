package preview

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/disintegration/imaging"
	"github.com/eliukblau/pixterm/pkg/ansimage"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// dithered pixterm cells cover 4x8 pixels
const (
	cellW = 4
	cellH = 8
)

var Tint = color.NRGBA{R: 0x1e, G: 0x90, B: 0xff, A: 0xff}

// Overlay blends Tint into the masked pixels of img and marks click. img is
// resized to the mask when their sizes differ, as they do after the input
// was shrunk.
func Overlay(img image.Image, m *mask.Mask, click *mask.Point) *image.NRGBA {
	var out *image.NRGBA
	if b := img.Bounds(); b.Dx() != m.Width || b.Dy() != m.Rows {
		out = imaging.Resize(img, m.Width, m.Rows, imaging.NearestNeighbor)
	} else {
		out = imaging.Clone(img)
	}
	for y := 0; y < m.Rows; y++ {
		for x := 0; x < m.Width; x++ {
			if m.Pix[y*m.Width+x] == 0 {
				continue
			}
			i := out.PixOffset(x, y)
			for c, v := range []uint8{Tint.R, Tint.G, Tint.B} {
				out.Pix[i+c] = uint8((uint16(out.Pix[i+c]) + uint16(v)) / 2)
			}
		}
	}
	if click != nil {
		cx, cy := int(click.X), int(click.Y)
		for d := -3; d <= 3; d++ {
			out.Set(cx+d, cy, color.NRGBA{R: 0xff, A: 0xff})
			out.Set(cx, cy+d, color.NRGBA{R: 0xff, A: 0xff})
		}
	}
	return out
}

// Render scales img into cols x rows terminal cells.
func Render(img image.Image, cols, rows int) (string, error) {
	if cols <= 0 || rows <= 0 {
		return "", errors.Errorf("bad terminal size %dx%d", cols, rows)
	}
	ansi, err := ansimage.NewScaledFromImage(img, cellH*rows, cellW*cols, color.Black, ansimage.ScaleModeFit, ansimage.DitheringWithChars)
	if err != nil {
		return "", errors.Wrap(err, "ansimage.NewScaledFromImage")
	}
	return ansi.Render(), nil
}

// Draw renders img to stdout at the size of the terminal.
func Draw(img image.Image) error {
	ws, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ)
	if err != nil {
		return errors.Wrap(err, "unix.IoctlGetWinsize")
	}
	s, err := Render(img, int(ws.Col), int(ws.Row)-1)
	if err != nil {
		return err
	}
	fmt.Print(s)
	return nil
}
