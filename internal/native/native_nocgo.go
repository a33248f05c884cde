//go:build !cgo

package native

import (
	"context"

	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/pkg/errors"
)

type Library struct{}

var _ mask.Generator = &Library{}

func Open(path string, opts ...Option) (*Library, error) {
	return nil, errors.Wrap(ErrUnavailable, path)
}

func (l *Library) GenerateMask(ctx context.Context, req *mask.Request) (*mask.Output, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return nil, ErrUnavailable
}

func (l *Library) Close() error { return nil }
