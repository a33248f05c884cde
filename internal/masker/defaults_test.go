package masker_test

import (
	"context"
	"image"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/WIZARDISHUNGRY/samask/internal/config"
	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/WIZARDISHUNGRY/samask/internal/masker"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

type recordingGenerator struct {
	mutex sync.Mutex
	last  *mask.Request
}

func (g *recordingGenerator) GenerateMask(ctx context.Context, req *mask.Request) (*mask.Output, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.last = req
	return mask.NewOutput(make([]byte, req.Image.Width*req.Image.Height), nil), nil
}

func TestCommandDefaultsKeepFullSize(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "wide.png")
	require.NoError(t, imaging.Save(image.NewNRGBA(image.Rect(0, 0, 1280, 720)), in))

	flags, err := config.Parse("samask", []string{"-env", "", "-s", "42", "-o", filepath.Join(dir, "out.png")}, io.Discard)
	require.NoError(t, err)

	gen := &recordingGenerator{}
	m, err := masker.New(gen, masker.WithMaxSide(flags.ResolveMaxSide()))
	require.NoError(t, err)
	params, err := flags.Params(in, flags.Output)
	require.NoError(t, err)

	mk, err := m.GenerateMask(context.Background(), in, mask.Point{X: 1279, Y: 719}, params)
	require.NoError(t, err)

	require.Equal(t, 3*1280*720, len(gen.last.Image.Pix))
	require.Equal(t, mask.Point{X: 1279, Y: 719}, gen.last.Click)
	require.Equal(t, 1280, mk.Width)
	require.Equal(t, 720, mk.Rows)
}

func TestServeDefaultsShrink(t *testing.T) {
	flags, err := config.Parse("samask", []string{"-env", "", "-serve"}, io.Discard)
	require.NoError(t, err)

	gen := &recordingGenerator{}
	m, err := masker.New(gen, masker.WithMaxSide(flags.ResolveMaxSide()))
	require.NoError(t, err)
	params, err := flags.Params("", "")
	require.NoError(t, err)

	mk, err := m.GenerateMaskImage(context.Background(), image.NewNRGBA(image.Rect(0, 0, 2048, 1024)), mask.Point{X: 2047, Y: 1023}, params)
	require.NoError(t, err)
	require.Equal(t, 1024, mk.Width)
	require.Equal(t, 512, mk.Rows)
}
