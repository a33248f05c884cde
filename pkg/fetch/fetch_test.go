package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestCachedFetch(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Cache-Control", "max-age=3600")
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("pretend png"))
	}))
	defer srv.Close()

	client := NewClient(1<<20, time.Hour)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		b, err := Get(ctx, client, srv.URL+"/a.png", 1024)
		require.NoError(t, err)
		require.Equal(t, "pretend png", string(b))
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))

	dst := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, ToFile(ctx, client, srv.URL+"/a.png", dst, 1024))
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "pretend png", string(b))
}

func TestFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	client := NewClient(1<<20, time.Hour)
	_, err := Get(context.Background(), client, srv.URL+"/missing", 1024)
	require.Error(t, err)

	_, err = Get(context.Background(), client, srv.URL+"/big", 10)
	require.True(t, errors.Is(err, ErrTooLarge))
}

func TestPublicClientRefusesLoopback(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	_, err := Get(context.Background(), NewPublicClient(1<<20, time.Hour), srv.URL+"/a.png", 1024)
	require.ErrorIs(t, err, ErrForbiddenAddress)
	require.Zero(t, atomic.LoadInt32(&hits))
}

func TestPublicOnly(t *testing.T) {
	for addr, ok := range map[string]bool{
		"127.0.0.1:80":          false,
		"[::1]:80":              false,
		"10.1.2.3:80":           false,
		"192.168.0.10:443":      false,
		"169.254.169.254:80":    false,
		"0.0.0.0:80":            false,
		"[::ffff:127.0.0.1]:80": false,
		"[fe80::1]:80":          false,
		"93.184.216.34:443":     true,
		"[2606:4700::1111]:443": true,
	} {
		err := publicOnly("tcp", addr, nil)
		if ok {
			require.NoError(t, err, addr)
		} else {
			require.ErrorIs(t, err, ErrForbiddenAddress, addr)
		}
	}
}

func TestSetLogger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=3600")
		w.Write([]byte("pretend png"))
	}))
	defer srv.Close()

	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	SetLogger(l)
	t.Cleanup(func() { SetLogger(logrus.New()) })

	client := NewClient(1<<20, time.Hour)
	for i := 0; i < 2; i++ {
		_, err := Get(context.Background(), client, srv.URL+"/a.png", 1024)
		require.NoError(t, err)
	}
	require.NotNil(t, hook.LastEntry())
	require.Equal(t, "served from cache", hook.LastEntry().Message)
}
