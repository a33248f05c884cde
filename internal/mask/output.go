package mask

import (
	"sync"
)

// Output is a mask buffer handed back by a Generator. It may view memory
// owned by a native library, so whoever receives it must call Release once
// done with Bytes. Release is idempotent; only the first call frees.
type Output struct {
	mutex   sync.Mutex
	data    []byte
	release func()
}

// NewOutput wraps data. release may be nil when data is Go memory.
func NewOutput(data []byte, release func()) *Output {
	return &Output{data: data, release: release}
}

// Bytes returns the buffer, or nil after Release.
func (o *Output) Bytes() []byte {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.data
}

func (o *Output) Len() int {
	return len(o.Bytes())
}

func (o *Output) Release() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	release := o.release
	o.release = nil
	o.data = nil
	if release != nil {
		release()
	}
}
