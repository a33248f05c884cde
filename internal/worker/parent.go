package worker

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
)

const (
	readyTimeout = 30 * time.Second
	stableUptime = time.Minute // a child that lived this long resets the backoff
)

// Parent re-executes the current binary with -worker and forwards mask
// requests to it, respawning it when it dies.
type Parent struct {
	once     sync.Once
	mutex    sync.RWMutex
	args     []string
	cmd      *exec.Cmd
	started  time.Time
	listener *net.UnixListener
	client   *rpc.Client
	conn     *net.UnixConn
	fsm      *FSM
}

// NewParent spawns children with args, defaulting to this process's args.
func NewParent(args []string) *Parent {
	if args == nil {
		args = append([]string{}, os.Args[1:]...)
	}
	return &Parent{
		args: append(args, "-worker"),
		fsm:  newFSM(),
	}
}

func (w *Parent) Start(ctx context.Context) error {
	var retErr error
	w.once.Do(func() {
		retErr = w.spawn(ctx)
		if retErr != nil {
			w.mutex.Lock()
			defer w.mutex.Unlock()
			w.killChild()
			w.fsm.pushEvent("shutdown")
			return
		}
		go w.loop(ctx)
	})
	return retErr
}

func (w *Parent) State() string {
	return w.fsm.Current()
}

func (w *Parent) Generator() mask.Generator {
	return w
}

// spawn starts a child and waits for it to answer a ping.
func (w *Parent) spawn(ctx context.Context) error {
	w.fsm.pushEvent("spawn")
	if err := w.spawnChild(ctx); err != nil {
		return err
	}

	w.mutex.RLock()
	client := w.client
	w.mutex.RUnlock()

	var pid int
	call := client.Go(serviceName+".Ping", 0, &pid, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(readyTimeout):
		return errors.New("worker did not become ready")
	case <-call.Done:
		if call.Error != nil {
			return errors.Wrap(call.Error, "worker ping")
		}
	}
	log.WithField("pid", pid).Info("worker ready")
	w.fsm.pushEvent("ready")
	return nil
}

func (w *Parent) closeChild() {
	// PRE: must own write mutex
	if w.client != nil {
		w.client.Close()
		w.client = nil
	}
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	if w.listener != nil {
		w.listener.Close()
		w.listener = nil
	}
}

func (w *Parent) killChild() {
	// PRE: must own write mutex
	w.closeChild()
	if w.cmd != nil && w.cmd.Process != nil && w.cmd.ProcessState == nil {
		w.cmd.Process.Kill()
		w.cmd.Wait()
	}
}

func (w *Parent) spawnChild(ctx context.Context) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.closeChild()

	ul, err := net.ListenUnix("unix", &net.UnixAddr{})
	if err != nil {
		return errors.Wrap(err, "net.ListenUnix")
	}
	w.listener = ul

	f, err := ul.File()
	if err != nil {
		return errors.Wrap(err, "listener.File")
	}
	defer f.Close()

	cmd := exec.CommandContext(ctx, os.Args[0], w.args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err = setExtraFile(cmd, WORKER_FD, f)
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("couldn't spawn child: %w", err)
	}
	w.cmd = cmd
	w.started = time.Now()

	conn, err := net.DialUnix("unix", nil, ul.Addr().(*net.UnixAddr))
	if err != nil {
		return errors.Wrap(err, "net.DialUnix")
	}
	w.conn = conn
	w.client = rpc.NewClient(conn)

	// the child holds the socket now; if it dies our connection sees EOF
	w.listener.Close()
	w.listener = nil

	return nil
}

func (w *Parent) loop(ctx context.Context) {
	defer func() {
		w.mutex.Lock()
		defer w.mutex.Unlock()
		w.killChild()
		w.fsm.pushEvent("shutdown")
	}()

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // never give up

	for ctx.Err() == nil {
		w.mutex.RLock()
		cmd, started := w.cmd, w.started
		w.mutex.RUnlock()

		err := cmd.Wait()
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}
		w.fsm.pushEvent("exit")
		if time.Since(started) > stableUptime {
			b.Reset()
		}

		for ctx.Err() == nil {
			wait := b.NextBackOff()
			log.WithError(err).
				WithField("exit_code", cmd.ProcessState.ExitCode()).
				WithField("wait", wait).
				Warn("respawning child process")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			err = w.spawn(ctx)
			if err == nil {
				break
			}
			log.WithError(err).Error("spawn loop")
			w.mutex.Lock()
			w.killChild()
			w.mutex.Unlock()
			w.fsm.pushEvent("exit")
		}
	}
}

func setExtraFile(cmd *exec.Cmd, fd int, f *os.File) error {
	extraFilesOffset := fd - 3 // stdin, stout, stderr, extrafiles...
	if len(cmd.ExtraFiles) != extraFilesOffset {
		return fmt.Errorf("len(cmd.ExtraFiles) != extraFilesOffset (%d != %d) ",
			len(cmd.ExtraFiles), extraFilesOffset)
	}
	cmd.ExtraFiles = append(cmd.ExtraFiles, f)
	return nil
}

// GenerateMask forwards req to the child. If ctx ends first the call is
// abandoned; the child still finishes it.
func (w *Parent) GenerateMask(ctx context.Context, req *mask.Request) (*mask.Output, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	w.mutex.RLock()
	client := w.client
	w.mutex.RUnlock()

	if client == nil {
		return nil, errors.Errorf("worker not available (%s)", w.State())
	}

	resp := &mask.Response{}
	call := client.Go(serviceName+".Generate", req, resp, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-call.Done:
	}
	if call.Error != nil {
		if _, ok := call.Error.(rpc.ServerError); !ok {
			return nil, errors.Wrap(call.Error, "worker rpc")
		}
		return nil, fromRPC(call.Error)
	}
	return mask.NewOutput(resp.Data, nil), nil
}
