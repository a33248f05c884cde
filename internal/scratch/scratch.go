package scratch

import (
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
)

// Factory returns a fresh path inside the scratch dir, with the given
// extension, and a cleanup that is safe to call more than once.
type Factory func(ext string) (string, func() error, error)

// NewFactory makes a temp dir. The returned cleanup removes it and
// everything still inside.
func NewFactory(prefix string) (Factory, func() error, error) {
	dir, err := os.MkdirTemp(os.TempDir(), prefix)
	if err != nil {
		return nil, nil, err
	}
	var counter uint64
	return func(ext string) (string, func() error, error) {
			i := atomic.AddUint64(&counter, 1)
			dst := filepath.Join(dir, strconv.FormatUint(i, 16)+ext)
			f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
			if err != nil {
				return "", nil, err
			}
			if err := f.Close(); err != nil {
				return "", nil, err
			}
			var once atomic.Bool
			return dst, func() error {
				if !once.CompareAndSwap(false, true) {
					return nil
				}
				err := os.Remove(dst)
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}, nil
		}, func() error {
			return os.RemoveAll(dir)
		}, nil
}
