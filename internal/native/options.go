package native

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.New() // TODO move onto Library

// ErrUnavailable is returned by Open in builds without cgo.
var ErrUnavailable = errors.New("built without cgo, native masks are unavailable")

const (
	DefaultGenerateSymbol = "generate_mask_wrapper"
	DefaultFreeSymbol     = "free_mask_buffer"
)

type options struct {
	generateSymbol string
	freeSymbol     string
}

func defaultOptions() options {
	return options{
		generateSymbol: DefaultGenerateSymbol,
		freeSymbol:     DefaultFreeSymbol,
	}
}

type Option func(*options)

// WithFreeSymbol names the exported function used to release mask buffers.
// An empty name disables releasing.
func WithFreeSymbol(name string) Option {
	return func(o *options) {
		o.freeSymbol = name
	}
}

func WithGenerateSymbol(name string) Option {
	return func(o *options) {
		o.generateSymbol = name
	}
}
