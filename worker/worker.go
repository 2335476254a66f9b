// Package worker spawns a child process and evaluates caller-supplied
// expressions on it over a Unix domain socket, pairing requests and
// responses by a random 64-bit id. It is the out-of-process counterpart
// to the in-process primitives in this module's other packages: four
// supervisory goroutines (process watch, output redirect, response
// reader, request sender) cooperate through a single atomic terminated
// flag and a per-worker mutex guarding the in-flight futures map.
package worker

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/concurrentutil/concurrentutil/internal/log"
	"github.com/concurrentutil/concurrentutil/timeout"
)

// ErrWorkerTerminated is the error every pending and future Eval/Fetch
// call receives once a Worker has transitioned to terminating, whether
// that was caused by Terminate, Close, a child crash, or a protocol
// violation.
var ErrWorkerTerminated = errors.New("worker: terminated")

// ErrAlreadyTerminated is returned by Close when the worker has already
// finished terminating by some other path (a crashed child, or a
// concurrent Terminate call).
var ErrAlreadyTerminated = errors.New("worker: already terminated")

const defaultConnectTimeout = 60 * time.Second

// Options configures a Worker constructed with New. The zero value
// selects every documented default.
type Options struct {
	// Command overrides the child process's argv. When nil, the Worker
	// re-executes its own binary (os.Executable()) with EnvPipePath set
	// in its environment - see MaybeServeAndExit.
	Command []string

	// Env, if non-nil, replaces the inherited os.Environ() as the child's
	// base environment. EnvPipePath is always added on top of it.
	Env []string

	// ConnectTimeout bounds how long New waits for the child to dial
	// back. Defaults to 60 seconds.
	ConnectTimeout time.Duration

	// OutputSink receives each line the child writes to its combined
	// stdout/stderr stream. Defaults to prefixing each line with the
	// child's pid.
	OutputSink func(line string)

	// Logger receives supervisory lifecycle and error events. Defaults
	// to the package-wide logger from the internal log package.
	Logger log.Logger
}

type resultSlot chan Response

type pendingFuture struct {
	slot resultSlot
}

// Future is a single-shot handle to a scheduled evaluation, returned by
// Eval and consumed by Fetch.
type Future struct {
	ch chan Response
}

// Fetch blocks until the evaluation completes, the worker terminates, or
// ctx is cancelled, returning the evaluated value or the error that
// prevented one.
func (f *Future) Fetch(ctx context.Context) (any, error) {
	select {
	case resp := <-f.ch:
		if resp.localErr != nil {
			return nil, resp.localErr
		}
		if resp.Err != nil {
			return nil, resp.Err
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type submission struct {
	req  Request
	slot resultSlot
}

// Worker is the RPC client described by this package's doc comment. The
// zero value is not usable; construct with New.
type Worker struct {
	cmd      *exec.Cmd
	listener net.Listener
	conn     net.Conn

	submit chan submission

	mu       sync.Mutex
	pending  map[uint64]*pendingFuture
	shutdown chan struct{} // closed exactly once, when the worker begins terminating

	terminated   atomic.Bool
	shutdownOnce sync.Once

	group   *errgroup.Group
	groupCh <-chan struct{} // closed once group.Wait() returns

	outputSink func(line string)
	logger     log.Logger

	pid         int
	processDone chan struct{} // closed by watchProcess once cmd.Wait() returns
}

// New spawns the child process, accepts its connection, and starts the
// four supervisory goroutines. The returned Worker is immediately usable
// for Eval/Fetch.
func New(opts Options) (*Worker, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Get()
	}

	dir, err := os.MkdirTemp("", "concurrentutil-worker-")
	if err != nil {
		return nil, fmt.Errorf("worker: creating socket dir: %w", err)
	}
	sockPath := dir + "/worker.sock"

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("worker: listening on %s: %w", sockPath, err)
	}

	cmdArgs := opts.Command
	selfExec := cmdArgs == nil
	if selfExec {
		exe, err := os.Executable()
		if err != nil {
			listener.Close()
			os.RemoveAll(dir)
			return nil, fmt.Errorf("worker: resolving self executable: %w", err)
		}
		cmdArgs = []string{exe}
	}

	cmd := exec.Command(cmdArgs[0], cmdArgs[1:]...)
	env := opts.Env
	if env == nil {
		env = os.Environ()
	}
	env = append(append([]string{}, env...), EnvPipePath+"="+sockPath)
	cmd.Env = env
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		listener.Close()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("worker: stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		listener.Close()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("worker: starting child: %w", err)
	}

	pid := cmd.Process.Pid
	outputSink := opts.OutputSink
	if outputSink == nil {
		outputSink = func(line string) { fmt.Printf("  Worker %d:  %s\n", pid, line) }
	}

	conn, err := timeout.Run(context.Background(), opts.ConnectTimeout, func(timedOut func() bool) (net.Conn, error) {
		return listener.Accept()
	})
	if err != nil {
		_ = cmd.Process.Kill()
		listener.Close()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("worker: waiting for child to connect: %w", err)
	}

	group, _ := errgroup.WithContext(context.Background())
	groupDone := make(chan struct{})

	w := &Worker{
		cmd:         cmd,
		listener:    listener,
		conn:        conn,
		submit:      make(chan submission),
		pending:     make(map[uint64]*pendingFuture),
		shutdown:    make(chan struct{}),
		group:       group,
		groupCh:     groupDone,
		outputSink:  outputSink,
		logger:      logger,
		pid:         pid,
		processDone: make(chan struct{}),
	}

	group.Go(func() error { return w.watchProcess() })
	group.Go(func() error { return w.redirectOutput(stdout) })
	group.Go(func() error { return w.readResponses() })
	group.Go(func() error { return w.sendRequests() })

	go func() {
		_ = group.Wait()
		os.RemoveAll(dir)
		close(groupDone)
	}()

	return w, nil
}

// Eval schedules expr for evaluation against module and returns
// immediately with a Future; use Fetch to block for the result.
func (w *Worker) Eval(ctx context.Context, module, expr string) *Future {
	slot := make(resultSlot, 1)
	if w.terminated.Load() {
		slot <- Response{localErr: fmt.Errorf("worker: eval after termination: %w", ErrWorkerTerminated)}
		return &Future{ch: slot}
	}

	req := Request{ID: newRequestID(), Module: module, Expr: expr}
	select {
	case w.submit <- submission{req: req, slot: slot}:
	case <-ctx.Done():
		slot <- Response{localErr: ctx.Err()}
	case <-w.shutdownOrTerminated():
		slot <- Response{localErr: fmt.Errorf("worker: eval after termination: %w", ErrWorkerTerminated)}
	}
	return &Future{ch: slot}
}

// Fetch is shorthand for Eval(ctx, module, expr).Fetch(ctx).
func (w *Worker) Fetch(ctx context.Context, module, expr string) (any, error) {
	return w.Eval(ctx, module, expr).Fetch(ctx)
}

func (w *Worker) shutdownOrTerminated() <-chan struct{} {
	return w.shutdown
}

func (w *Worker) markShutdown() {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
}

// Close asks the child to shut down cleanly and waits for every
// supervisory goroutine to join. It returns ErrAlreadyTerminated if the
// worker had already terminated by some other path (a crashed child, a
// concurrent Terminate call); that is not itself an error the caller
// needs to act on, merely information that cleanup has already happened.
func (w *Worker) Close(ctx context.Context) error {
	alreadyDone := w.terminated.Load()
	if !alreadyDone {
		select {
		case w.submit <- submission{req: Request{Shutdown: true}}:
			w.markShutdown()
		case <-ctx.Done():
			w.Terminate("close canceled")
			return ctx.Err()
		case <-w.shutdown:
			// a concurrent Terminate beat us to it.
		}
	}

	select {
	case <-w.groupCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	if alreadyDone {
		return ErrAlreadyTerminated
	}
	return nil
}

// Terminate forcibly kills the child and fails every pending future with
// ErrWorkerTerminated. It is idempotent and safe to call concurrently
// with Close or another Terminate; only the first caller does the work,
// everyone else returns immediately.
func (w *Worker) Terminate(reason string) {
	if !w.terminated.CompareAndSwap(false, true) {
		return
	}
	w.logger.Log(log.LevelWarn, "worker terminating", "pid", w.pid, "reason", reason)

	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[uint64]*pendingFuture)
	w.mu.Unlock()
	for _, p := range pending {
		p.slot <- Response{localErr: fmt.Errorf("worker: %s: %w", reason, ErrWorkerTerminated)}
	}

	w.markShutdown()

	killChildGracefully(w.cmd, w.processDone)

	_ = w.conn.Close()
	_ = w.listener.Close()
}

// Wait blocks until every supervisory goroutine has joined, which
// happens only once the worker has fully terminated (by any path).
func (w *Worker) Wait() { <-w.groupCh }

// IsTerminated reports whether the worker has begun (or finished)
// terminating.
func (w *Worker) IsTerminated() bool { return w.terminated.Load() }

// killChildGracefully escalates SIGTERM, then SIGINT, then SIGKILL, each
// 200ms apart, waiting on done (closed by watchProcess once cmd.Wait has
// reaped the process) rather than calling Process.Wait itself - exec.Cmd
// forbids waiting on a process from more than one place at a time.
func killChildGracefully(cmd *exec.Cmd, done <-chan struct{}) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-done:
		return
	case <-time.After(200 * time.Millisecond):
	}
	_ = cmd.Process.Signal(syscall.SIGINT)

	select {
	case <-done:
		return
	case <-time.After(200 * time.Millisecond):
	}
	_ = cmd.Process.Kill()
	<-done
}

func (w *Worker) watchProcess() error {
	err := w.cmd.Wait()
	close(w.processDone)
	w.Terminate("watch")
	return err
}

func (w *Worker) redirectOutput(stdout io.Reader) error {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		w.outputSink(scanner.Text())
	}
	return scanner.Err()
}

func (w *Worker) sendRequests() error {
	enc := gob.NewEncoder(w.conn)
	for {
		var sub submission
		select {
		case sub = <-w.submit:
		case <-w.shutdown:
			return nil
		}

		if !sub.req.Shutdown {
			w.mu.Lock()
			if w.terminated.Load() {
				w.mu.Unlock()
				sub.slot <- Response{localErr: fmt.Errorf("worker: send after termination: %w", ErrWorkerTerminated)}
				continue
			}
			w.pending[sub.req.ID] = &pendingFuture{slot: sub.slot}
			w.mu.Unlock()
		}
		if err := enc.Encode(&sub.req); err != nil {
			if !sub.req.Shutdown {
				w.mu.Lock()
				delete(w.pending, sub.req.ID)
				w.mu.Unlock()
				sub.slot <- Response{localErr: fmt.Errorf("worker: request encode: %w", err)}
			}
			w.Terminate("send error")
			return err
		}
		if sub.req.Shutdown {
			w.markShutdown()
			return nil
		}
	}
}

func (w *Worker) readResponses() error {
	dec := gob.NewDecoder(w.conn)
	for {
		var resp Response
		if err := dec.Decode(&resp); err != nil {
			w.Terminate("pipe error")
			return err
		}

		w.mu.Lock()
		p, ok := w.pending[resp.ID]
		if ok {
			delete(w.pending, resp.ID)
		}
		w.mu.Unlock()

		if !ok {
			err := fmt.Errorf("worker: protocol violation: unknown or duplicate response id %d", resp.ID)
			w.logger.Log(log.LevelError, "protocol violation", "pid", w.pid, "id", resp.ID)
			w.Terminate("protocol violation")
			return err
		}
		p.slot <- resp
	}
}

func newRequestID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}
