package worker

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/pkg/errors"
)

// Child runs in the re-executed process and serves the native library to
// the parent over the unix socket inherited as WORKER_FD.
type Child struct {
	once sync.Once
	open Opener
	lib  Library
}

// Start blocks until the parent hangs up or ctx is done.
func (c *Child) Start(ctx context.Context) error {
	var retErr error
	c.once.Do(func() {
		retErr = c.runWorker(ctx)
	})
	return retErr
}

func (c *Child) runWorker(ctx context.Context) error {
	log := log.WithField("child", true)

	f, err := fromFD(WORKER_FD)
	if err != nil {
		return err
	}
	defer f.Close()

	l, err := net.FileListener(f)
	if err != nil {
		return fmt.Errorf("net.FileListener: %w", err)
	}
	listener := l.(*net.UnixListener)
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	lib, err := c.open()
	if err != nil {
		return errors.Wrap(err, "open library")
	}
	c.lib = lib
	defer lib.Close()

	server, err := newServer(lib)
	if err != nil {
		return err
	}

	conn, err := listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "listener.Accept")
	}
	log.WithField("pid", os.Getpid()).Info("serving parent")
	server.ServeConn(conn) // returns when the parent closes its end
	log.Info("parent hung up")
	return nil
}

func (c *Child) Generator() mask.Generator {
	return c.lib
}

func (c *Child) State() string {
	return StateRunning
}

func fromFD(fd uintptr) (f *os.File, err error) {
	f = os.NewFile(uintptr(fd), "unix")
	if f == nil {
		err = fmt.Errorf("nil for fd %d", fd)
	}
	return
}
