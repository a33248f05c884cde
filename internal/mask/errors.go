package mask

import (
	"github.com/pkg/errors"
)

var (
	ErrImageNotFound   = errors.New("image not found or not decodable")
	ErrEmptyResult     = errors.New("native call returned an empty mask")
	ErrMalformedOutput = errors.New("mask size is not a multiple of the image width")
	ErrInvalidImage    = errors.New("image has no pixels")
	ErrPathTooLong     = errors.New("path does not fit in 255 bytes")
	ErrInvalidPath     = errors.New("path contains a NUL byte")
	ErrInvalidThreads  = errors.New("thread count must be positive")
)

var sentinels = []error{
	ErrImageNotFound,
	ErrEmptyResult,
	ErrMalformedOutput,
	ErrInvalidImage,
	ErrPathTooLong,
	ErrInvalidPath,
	ErrInvalidThreads,
}

// ErrorString flattens err for transport over net/rpc, which only carries
// the message. Sentinels are sent bare so ErrorFromString can restore them.
func ErrorString(err error) string {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return err.Error()
}

// ErrorFromString is the inverse of ErrorString.
func ErrorFromString(msg string) error {
	for _, s := range sentinels {
		if msg == s.Error() {
			return s
		}
	}
	return errors.New(msg)
}
