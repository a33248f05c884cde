package mask

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Open decodes the image at path, applying any EXIF orientation. Every
// failure, including a missing file, is reported as ErrImageNotFound.
func Open(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(ErrImageNotFound, "%s: %v", path, err)
	}
	return img, nil
}
