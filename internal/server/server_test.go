package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WIZARDISHUNGRY/samask/internal/cache"
	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/WIZARDISHUNGRY/samask/internal/masker"
	"github.com/WIZARDISHUNGRY/samask/internal/scratch"
	"github.com/WIZARDISHUNGRY/samask/pkg/fetch"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	mutex     sync.Mutex
	reqs      []*mask.Request
	empty     bool
	malformed bool  // answer width+1 bytes
	err       error // returned instead of output
}

func (f *fakeGenerator) GenerateMask(ctx context.Context, req *mask.Request) (*mask.Output, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.reqs = append(f.reqs, req)
	switch {
	case f.err != nil:
		return nil, f.err
	case f.empty:
		return mask.NewOutput(nil, nil), nil
	case f.malformed:
		return mask.NewOutput(make([]byte, req.Image.Width+1), nil), nil
	}
	data := make([]byte, req.Image.Width*req.Image.Height)
	for i := 0; i < len(data)/2; i++ {
		data[i] = 0xff
	}
	return mask.NewOutput(data, nil), nil
}

func newTestServer(t *testing.T, gen mask.Generator, opts ...Option) *Server {
	m, err := masker.New(gen, masker.WithCache(cache.NewLRU(1<<20, time.Minute)))
	require.NoError(t, err)
	mk, cleanup, err := scratch.NewFactory("samask-server-test-")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, cleanup()) })

	params, err := mask.NewParams(42, 2, "model.bin", "", "")
	require.NoError(t, err)
	s, err := New(m, params, mk, opts...)
	require.NoError(t, err)
	return s
}

func pngBytes(t *testing.T, w, h int) []byte {
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, image.NewNRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, fields map[string]string, img []byte) *http.Request {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if img != nil {
		fw, err := mw.CreateFormFile("image", "input.png")
		require.NoError(t, err)
		_, err = fw.Write(img)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/generate_mask", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestGenerateMask(t *testing.T) {
	gen := &fakeGenerator{}
	s := newTestServer(t, gen)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, map[string]string{"x": "10", "y": "5.5"}, pngBytes(t, 20, 10)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Equal(t, "10", rec.Header().Get("X-Mask-Rows"))
	require.Equal(t, "20", rec.Header().Get("X-Mask-Width"))
	require.Equal(t, "0.5000", rec.Header().Get("X-Mask-Coverage"))

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 20, 10), img.Bounds())

	require.Len(t, gen.reqs, 1)
	require.Equal(t, mask.Point{X: 10, Y: 5.5}, gen.reqs[0].Click)
	require.Equal(t, int32(42), gen.reqs[0].Params.Seed)
	require.Empty(t, gen.reqs[0].Params.OutputPath)
	require.NotEmpty(t, gen.reqs[0].Params.InputPath)
}

func TestGenerateMaskSeed(t *testing.T) {
	gen := &fakeGenerator{}
	s := newTestServer(t, gen)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, map[string]string{"x": "1", "y": "1", "seed": "7"}, pngBytes(t, 4, 4)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int32(7), gen.reqs[0].Params.Seed)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, map[string]string{"x": "1", "y": "1", "seed": "lots"}, pngBytes(t, 4, 4)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateMaskBadRequests(t *testing.T) {
	gen := &fakeGenerator{}
	s := newTestServer(t, gen)

	for name, req := range map[string]*http.Request{
		"no image":     multipartRequest(t, map[string]string{"x": "1", "y": "1"}, nil),
		"no x":         multipartRequest(t, map[string]string{"y": "1"}, pngBytes(t, 4, 4)),
		"bad y":        multipartRequest(t, map[string]string{"x": "1", "y": "down"}, pngBytes(t, 4, 4)),
		"not an image": multipartRequest(t, map[string]string{"x": "1", "y": "1"}, []byte("GIF89a but not really")),
	} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	require.Empty(t, gen.reqs)
}

func TestGenerateMaskEmpty(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{empty: true})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, map[string]string{"x": "1", "y": "1"}, pngBytes(t, 4, 4)))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "Failed to generate mask")
}

func TestGenerateMaskFromURL(t *testing.T) {
	img := pngBytes(t, 8, 6)
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	}))
	defer remote.Close()

	gen := &fakeGenerator{}
	s := newTestServer(t, gen, WithFetchClient(fetch.NewClient(1<<20, time.Minute)))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, map[string]string{"x": "1", "y": "1", "image_url": remote.URL + "/a.png"}, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 8, gen.reqs[0].Image.Width)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, map[string]string{"x": "1", "y": "1", "image_url": remote.URL + "/b.png"}, nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerateMaskRefusesLocalURL(t *testing.T) {
	var hits atomic.Int32
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(pngBytes(t, 4, 4))
	}))
	defer local.Close()

	gen := &fakeGenerator{}
	s := newTestServer(t, gen)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, map[string]string{"x": "1", "y": "1", "image_url": local.URL + "/a.png"}, nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, hits.Load())
	require.Empty(t, gen.reqs)
}

func TestGenerateMaskMalformed(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{malformed: true})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, map[string]string{"x": "1", "y": "1"}, pngBytes(t, 4, 4)))
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGenerateMaskOtherError(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{err: errors.New("worker rpc: connection reset")})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, map[string]string{"x": "1", "y": "1"}, pngBytes(t, 4, 4)))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "Failed to generate mask")
}

func TestBodyTooLarge(t *testing.T) {
	gen := &fakeGenerator{}
	s := newTestServer(t, gen, WithMaxUpload(1024))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, map[string]string{"x": "1", "y": "1"}, make([]byte, 256<<10)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Empty(t, gen.reqs)
}

func TestUploadTooLarge(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{}, WithMaxUpload(16))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, map[string]string{"x": "1", "y": "1"}, pngBytes(t, 64, 64)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestStopAndHealth(t *testing.T) {
	var stops int
	s := newTestServer(t, &fakeGenerator{},
		WithStop(func() { stops++ }),
		WithState(func() string { return "running" }),
		WithCacheName("lru"),
	)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stop", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Equal(t, 1, stops)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, map[string]string{"state": "running", "cache": "lru"}, health)
}

func TestRunShutsDown(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
