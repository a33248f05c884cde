package worker

import (
	"context"
	"io"

	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/sirupsen/logrus"
)

var log *logrus.Logger = logrus.New() // TODO move onto struct

const (
	WORKER_FD = 3 + iota // stdin, stdout, stderr, ...
)

// Worker owns the native library, either in this process or in a child.
type Worker interface {
	Start(context.Context) (err error)
	Generator() mask.Generator
	State() string
}

// Library is a Generator that holds native resources.
type Library interface {
	mask.Generator
	io.Closer
}

// Opener loads the library. It runs in whichever process ends up calling it.
type Opener func() (Library, error)

var (
	_ Worker = &Parent{}
	_ Worker = &Child{}
	_ Worker = &InProcess{}
)

// InitWorker picks the worker for this process. The child side is chosen by
// the -worker flag the parent adds when it re-executes itself.
func InitWorker(isWorker, privsep bool, open Opener) Worker {
	if isWorker {
		return &Child{open: open}
	}
	if !privsep {
		return &InProcess{open: open, fsm: newFSM()}
	}
	return NewParent(nil)
}

// SetLogger replaces the package logger.
func SetLogger(l *logrus.Logger) {
	log = l
}
