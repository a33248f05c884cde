package masker

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"image"
	"math"

	"github.com/WIZARDISHUNGRY/samask/internal/cache"
	"github.com/WIZARDISHUNGRY/samask/internal/logger"
	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultMaxSide is the longest side an input may have before it is shrunk.
const DefaultMaxSide = 1024

// Masker turns an image and a click into a mask file using a Generator.
type Masker struct {
	gen     mask.Generator
	cache   cache.Cache
	maxSide int
}

type Option func(*Masker) error

func New(gen mask.Generator, opts ...Option) (*Masker, error) {
	if gen == nil {
		return nil, errors.New("nil generator")
	}
	m := &Masker{gen: gen}
	for _, o := range opts {
		if err := o(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WithCache remembers masks for deterministic requests.
func WithCache(c cache.Cache) Option {
	return func(m *Masker) error {
		m.cache = c
		return nil
	}
}

// WithMaxSide shrinks inputs larger than n pixels on either side before
// they reach the generator. Zero disables it.
func WithMaxSide(n int) Option {
	return func(m *Masker) error {
		if n < 0 {
			return errors.Errorf("max side %d < 0", n)
		}
		m.maxSide = n
		return nil
	}
}

// GenerateMask decodes imagePath and runs one mask request for click. The
// mask is written to params.OutputPath unless it is empty. No file is
// written when the generator returns an empty or malformed mask.
func (m *Masker) GenerateMask(ctx context.Context, imagePath string, click mask.Point, params mask.Params) (*mask.Mask, error) {
	params.InputPath = imagePath
	if err := params.Validate(); err != nil {
		return nil, err
	}
	img, err := mask.Open(imagePath)
	if err != nil {
		return nil, err
	}
	return m.GenerateMaskImage(ctx, img, click, params)
}

// GenerateMaskImage is GenerateMask for an already decoded image.
func (m *Masker) GenerateMaskImage(ctx context.Context, img image.Image, click mask.Point, params mask.Params) (*mask.Mask, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	ctx, log := logger.WithFields(ctx, logrus.Fields{
		"click": []float32{click.X, click.Y},
		"seed":  params.Seed,
	})

	img, click = fit(img, click, m.maxSide)
	rgb, err := mask.FromImage(img)
	if err != nil {
		return nil, err
	}

	key := ""
	if m.cache != nil && params.Seed >= 0 {
		key = cacheKey(rgb, click, params)
		if b, ok, err := m.cache.Get(ctx, key); err != nil {
			log.WithError(err).Warn("cache get")
		} else if ok {
			log.Debug("cache hit")
			return m.finish(ctx, b, rgb.Width, params, "")
		}
	}

	out, err := m.gen.GenerateMask(ctx, &mask.Request{
		Image:  rgb,
		Click:  click,
		Params: params,
	})
	if err != nil {
		return nil, errors.Wrap(err, "generate mask")
	}
	defer out.Release()

	return m.finish(ctx, out.Bytes(), rgb.Width, params, key)
}

func (m *Masker) finish(ctx context.Context, data []byte, width int, params mask.Params, key string) (*mask.Mask, error) {
	log := logger.Entry(ctx)

	mk, err := mask.FromBytes(data, width)
	if err != nil {
		log.WithError(err).WithField("output_size", len(data)).Warn("unusable mask")
		return nil, err
	}
	if key != "" {
		if err := m.cache.Set(ctx, key, append([]byte(nil), mk.Pix...)); err != nil {
			log.WithError(err).Warn("cache set")
		}
	}
	if params.OutputPath != "" {
		if err := mk.WriteFile(params.OutputPath); err != nil {
			return nil, err
		}
	}
	log.WithFields(logrus.Fields{
		"rows":     mk.Rows,
		"width":    mk.Width,
		"coverage": mk.Coverage(),
	}).Info("mask generated")
	return mk, nil
}

// fit shrinks img with nearest neighbour so neither side exceeds maxSide,
// moving click along with it.
func fit(img image.Image, click mask.Point, maxSide int) (image.Image, mask.Point) {
	b := img.Bounds()
	nx, ny := b.Dx(), b.Dy()
	if maxSide <= 0 || (nx <= maxSide && ny <= maxSide) {
		return img, click
	}
	scale := math.Max(float64(nx)/float64(maxSide), float64(ny)/float64(maxSide))
	w := max(1, int(float64(nx)/scale+0.5))
	h := max(1, int(float64(ny)/scale+0.5))

	out := imaging.Resize(img, w, h, imaging.NearestNeighbor)
	return out, mask.Point{
		X: float32(float64(click.X) * float64(w) / float64(nx)),
		Y: float32(float64(click.Y) * float64(h) / float64(ny)),
	}
}

func cacheKey(rgb *mask.RGB, click mask.Point, params mask.Params) string {
	h := sha256.New()
	var hdr [20]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(rgb.Width))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(rgb.Height))
	binary.LittleEndian.PutUint32(hdr[8:], math.Float32bits(click.X))
	binary.LittleEndian.PutUint32(hdr[12:], math.Float32bits(click.Y))
	binary.LittleEndian.PutUint32(hdr[16:], uint32(params.Seed))
	h.Write(hdr[:])
	h.Write([]byte(params.ModelPath))
	h.Write(rgb.Pix)
	return hex.EncodeToString(h.Sum(nil))
}
