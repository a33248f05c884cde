//go:build cgo

package native

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>

typedef void (*generate_mask_fn)(const unsigned char *img, int w, int h, float x, float y,
	int32_t seed, int32_t n_threads, const char *model, const char *fname_inp, const char *fname_out,
	unsigned char **out, int *out_size);
typedef void (*free_mask_fn)(unsigned char *p);

static void call_generate_mask(void *fn, const unsigned char *img, int w, int h, float x, float y,
	int32_t seed, int32_t n_threads, const char *model, const char *fname_inp, const char *fname_out,
	unsigned char **out, int *out_size) {
	((generate_mask_fn)fn)(img, w, h, x, y, seed, n_threads, model, fname_inp, fname_out, out, out_size);
}

static void call_free_mask(void *fn, unsigned char *p) {
	((free_mask_fn)fn)(p);
}

static void *open_library(const char *path) {
	return dlopen(path, RTLD_NOW | RTLD_LOCAL);
}
*/
import "C"

import (
	"context"
	"runtime"
	"sync"
	"unsafe"

	"github.com/WIZARDISHUNGRY/samask/internal/logger"
	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Library is a dlopen'd mask generator. The native code keeps global model
// state, so calls are serialized.
type Library struct {
	mutex    sync.Mutex
	path     string
	handle   unsafe.Pointer
	generate unsafe.Pointer
	free     unsafe.Pointer
	warnOnce sync.Once
	opts     options
}

var _ mask.Generator = &Library{}

// Open loads the shared library at path and resolves its entry points.
func Open(path string, opts ...Option) (*Library, error) {
	l := &Library{path: path, opts: defaultOptions()}
	for _, o := range opts {
		o(&l.opts)
	}

	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	l.handle = C.open_library(cpath)
	if l.handle == nil {
		return nil, errors.Errorf("dlopen %s: %s", path, dlerror())
	}

	var err error
	l.generate, err = l.sym(l.opts.generateSymbol)
	if err != nil {
		C.dlclose(l.handle)
		return nil, err
	}
	if l.opts.freeSymbol != "" {
		// optional, older builds of the library never free
		l.free, _ = l.sym(l.opts.freeSymbol)
	}
	log.WithField("path", path).WithField("free", l.free != nil).Info("native library loaded")
	return l, nil
}

func (l *Library) sym(name string) (unsafe.Pointer, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	C.dlerror() // clear
	p := C.dlsym(l.handle, cname)
	if p == nil {
		return nil, errors.Errorf("dlsym %s in %s: %s", name, l.path, dlerror())
	}
	return p, nil
}

func dlerror() string {
	msg := C.dlerror()
	if msg == nil {
		return "unknown error"
	}
	return C.GoString(msg)
}

// GenerateMask calls generate_mask_wrapper. The returned Output views
// native memory until Release is called.
func (l *Library) GenerateMask(ctx context.Context, req *mask.Request) (*mask.Output, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.handle == nil {
		return nil, errors.New("library closed")
	}

	model := C.CString(req.Params.ModelPath)
	defer C.free(unsafe.Pointer(model))
	input := C.CString(req.Params.InputPath)
	defer C.free(unsafe.Pointer(input))
	output := C.CString(req.Params.OutputPath)
	defer C.free(unsafe.Pointer(output))

	var (
		outPtr  *C.uchar
		outSize C.int
	)

	log := logger.Entry(ctx).WithField("size", []int{req.Image.Width, req.Image.Height})
	log.Debug("generate_mask_wrapper")

	C.call_generate_mask(l.generate,
		(*C.uchar)(unsafe.Pointer(&req.Image.Pix[0])),
		C.int(req.Image.Width), C.int(req.Image.Height),
		C.float(req.Click.X), C.float(req.Click.Y),
		C.int32_t(req.Params.Seed), C.int32_t(req.Params.Threads),
		model, input, output,
		&outPtr, &outSize,
	)
	runtime.KeepAlive(req.Image.Pix)

	if outPtr == nil || outSize <= 0 {
		if outPtr != nil {
			if l.free != nil {
				C.call_free_mask(l.free, outPtr)
			} else {
				l.warnLeak(log)
			}
		}
		return mask.NewOutput(nil, nil), nil
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(outPtr)), int(outSize))
	if l.free == nil {
		l.warnLeak(log)
		// no free symbol: copy out and leave the buffer to the library
		return mask.NewOutput(C.GoBytes(unsafe.Pointer(outPtr), outSize), nil), nil
	}
	return mask.NewOutput(data, func() { l.release(outPtr) }), nil
}

func (l *Library) warnLeak(log logrus.FieldLogger) {
	l.warnOnce.Do(func() {
		if l.opts.freeSymbol == "" {
			log.Warnf("no free symbol configured, mask buffers from %s will leak", l.path)
			return
		}
		log.Warnf("%s does not export %s, mask buffers will leak", l.path, l.opts.freeSymbol)
	})
}

func (l *Library) release(p *C.uchar) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.handle == nil {
		log.WithField("path", l.path).Warn("mask released after library was closed")
		return
	}
	C.call_free_mask(l.free, p)
}

func (l *Library) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.handle == nil {
		return nil
	}
	if C.dlclose(l.handle) != 0 {
		return errors.Errorf("dlclose %s: %s", l.path, dlerror())
	}
	l.handle = nil
	return nil
}
