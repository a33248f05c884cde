package logger

import (
	"context"

	"github.com/sirupsen/logrus"
)

type ctxKey int

const (
	ctxKeyLog ctxKey = iota
)

// Entry returns the entry stored by WithLogEntry, or one on the standard
// logger when the context carries none.
func Entry(ctx context.Context) *logrus.Entry {
	if e, ok := ctx.Value(ctxKeyLog).(*logrus.Entry); ok {
		return e
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func WithLogEntry(ctx context.Context, e *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKeyLog, e)
}

// WithFields adds fields to the entry carried by ctx.
func WithFields(ctx context.Context, fields logrus.Fields) (context.Context, *logrus.Entry) {
	e := Entry(ctx).WithFields(fields)
	return WithLogEntry(ctx, e), e
}

// New returns a logger at the named level, falling back to info.
func New(level string) *logrus.Logger {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		l.WithError(err).Warn("bad log level, using info")
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}
