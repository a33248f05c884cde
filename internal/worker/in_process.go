package worker

import (
	"context"
	"sync"

	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/pkg/errors"
)

// InProcess calls the library directly. A native crash takes the whole
// process with it.
type InProcess struct {
	once sync.Once
	open Opener
	lib  Library
	fsm  *FSM
}

func (w *InProcess) Start(ctx context.Context) error {
	var retErr error
	w.once.Do(func() {
		w.fsm.pushEvent("spawn")
		lib, err := w.open()
		if err != nil {
			w.fsm.pushEvent("exit")
			retErr = errors.Wrap(err, "open library")
			return
		}
		w.lib = lib
		w.fsm.pushEvent("ready")
		go func() {
			<-ctx.Done()
			w.fsm.pushEvent("shutdown")
			if err := lib.Close(); err != nil {
				log.WithError(err).Warn("close library")
			}
		}()
	})
	return retErr
}

func (w *InProcess) Generator() mask.Generator {
	return w
}

func (w *InProcess) GenerateMask(ctx context.Context, req *mask.Request) (*mask.Output, error) {
	if w.lib == nil {
		return nil, errors.New("worker not started")
	}
	return w.lib.GenerateMask(ctx, req)
}

func (w *InProcess) State() string {
	return w.fsm.Current()
}
