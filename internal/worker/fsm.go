package worker

import (
	"github.com/looplab/fsm"
)

const (
	StateStopped  = "stopped"
	StateStarting = "starting"
	StateRunning  = "running"
	StateCrashed  = "crashed"
	StateClosed   = "closed"
)

// FSM tracks the lifecycle of the process that owns the native library.
type FSM struct {
	FSM *fsm.FSM
}

//go:generate sh -c "cd ../../ && go run . -dump-fsm | dot -Nmargin=0.8 -s144 -Tsvg /dev/stdin -o fsm.svg"
func newFSM() *FSM {
	return &FSM{
		FSM: fsm.NewFSM(
			StateStopped,
			fsm.Events{
				{Name: "spawn", Src: []string{StateStopped, StateCrashed}, Dst: StateStarting},
				{Name: "ready", Src: []string{StateStarting}, Dst: StateRunning},
				{Name: "exit", Src: []string{StateStarting, StateRunning}, Dst: StateCrashed},
				{Name: "shutdown", Src: []string{StateStopped, StateStarting, StateRunning, StateCrashed}, Dst: StateClosed},
			},
			fsm.Callbacks{
				"after_event": func(e *fsm.Event) {
					if e.Src != e.Dst {
						log.Debugf("worker [%s -> %s] %s", e.Src, e.Dst, e.Event)
					}
				},
			},
		),
	}
}

func (f *FSM) pushEvent(name string) {
	err := f.FSM.Event(name)
	if _, ok := err.(fsm.NoTransitionError); err != nil && !ok {
		log.WithError(err).WithField("state", f.FSM.Current()).Debugf("worker event %s", name)
	}
}

func (f *FSM) Current() string {
	return f.FSM.Current()
}

// Visualize returns the worker state machine as graphviz source.
func Visualize() string {
	return fsm.Visualize(newFSM().FSM)
}
