package mask

import (
	"strings"

	"github.com/pkg/errors"
)

// MaxPathLen is the longest path the native parameter record can hold. Each
// slot is 256 bytes including the terminating NUL.
const MaxPathLen = 255

// Params is the per-call parameter record handed to the native library.
type Params struct {
	Seed       int32 // negative requests a non-deterministic seed
	Threads    int32
	ModelPath  string
	InputPath  string
	OutputPath string
}

// NewParams builds a validated Params.
func NewParams(seed, threads int32, model, input, output string) (Params, error) {
	p := Params{
		Seed:       seed,
		Threads:    threads,
		ModelPath:  model,
		InputPath:  input,
		OutputPath: output,
	}
	return p, p.Validate()
}

func (p Params) Validate() error {
	if p.Threads <= 0 {
		return errors.Wrapf(ErrInvalidThreads, "threads=%d", p.Threads)
	}
	for _, f := range []struct {
		name, value string
	}{
		{"model", p.ModelPath},
		{"input", p.InputPath},
		{"output", p.OutputPath},
	} {
		if err := checkPath(f.value); err != nil {
			return errors.Wrapf(err, "%s path", f.name)
		}
	}
	return nil
}

func checkPath(s string) error {
	if len(s) > MaxPathLen {
		return errors.Wrapf(ErrPathTooLong, "%d bytes", len(s))
	}
	if strings.IndexByte(s, 0) >= 0 {
		return ErrInvalidPath
	}
	return nil
}
