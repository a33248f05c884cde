package mask

import (
	"context"
)

// Generator runs one mask request. Implementations must be safe for
// concurrent use, even if that means serializing calls.
type Generator interface {
	GenerateMask(ctx context.Context, req *Request) (*Output, error)
}

// Request is everything the native entry point receives, in a form that
// gob can carry to a worker process.
type Request struct {
	Image  *RGB
	Click  Point
	Params Params
}

// Response carries a copied mask back from a worker process.
type Response struct {
	Data []byte
}

// Point is a click in input image pixel space.
type Point struct {
	X, Y float32
}

func (r *Request) Validate() error {
	if err := r.Image.Validate(); err != nil {
		return err
	}
	return r.Params.Validate()
}
