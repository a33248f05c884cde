//go:build cgo

package native

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestWarnLeakOnce(t *testing.T) {
	l, hook := test.NewNullLogger()

	lib := &Library{path: "libmask.so", opts: defaultOptions()}
	lib.warnLeak(l)
	lib.warnLeak(l)
	require.Len(t, hook.AllEntries(), 1)
	require.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	require.Contains(t, hook.LastEntry().Message, DefaultFreeSymbol)

	hook.Reset()
	lib = &Library{path: "libmask.so", opts: options{generateSymbol: DefaultGenerateSymbol}}
	lib.warnLeak(l)
	require.Contains(t, hook.LastEntry().Message, "no free symbol configured")
}
