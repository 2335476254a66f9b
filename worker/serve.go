package worker

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
)

// EnvPipePath is the environment variable a self-exec'd child reads to
// find the Unix-domain-socket path it should connect back to. This is
// the Go analogue of the original runtime spawning itself with a
// "startworker(pipe_path)" initialization expression: instead of an
// interpreter flag, the re-invoked binary is told where to dial via its
// environment, the same way cmd/pilosactl's "-run" self-exec pattern
// passes state to the re-invoked process via argv.
const EnvPipePath = "CONCURRENTUTIL_WORKER_PIPE"

// MaybeServeAndExit checks EnvPipePath and, if set, runs ServeMain and
// terminates the process with its result - it never returns when the
// variable is set. A host program that constructs Worker values using
// the default (self-exec) Options.Command must call this as the first
// statement of its own main function, before any other initialization
// that assumes it is the parent.
func MaybeServeAndExit() {
	path := os.Getenv(EnvPipePath)
	if path == "" {
		return
	}
	if err := ServeMain(path); err != nil {
		fmt.Fprintln(os.Stdout, "worker: "+err.Error())
		os.Exit(1)
	}
	os.Exit(0)
}

// ServeMain connects to the Unix domain socket at pipePath, redirects
// this process's stdin from /dev/null and stderr into stdout, and serves
// requests until the parent sends a shutdown request or the connection
// closes.
func ServeMain(pipePath string) error {
	if devnull, err := os.Open(os.DevNull); err == nil {
		os.Stdin = devnull
	}
	os.Stderr = os.Stdout

	conn, err := net.Dial("unix", pipePath)
	if err != nil {
		return fmt.Errorf("worker: child dial %s: %w", pipePath, err)
	}
	defer conn.Close()

	return serveRequests(conn)
}

// serveRequests is the child's half of the protocol: decode Requests in
// a loop, evaluate each concurrently, and write back exactly one
// Response per non-shutdown Request. Writes are serialized with encMu
// since gob.Encoder.Encode is
// not safe for concurrent use.
func serveRequests(conn net.Conn) error {
	dec := gob.NewDecoder(conn)
	enc := gob.NewEncoder(conn)
	var encMu sync.Mutex

	ev := newEvaluator()
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("worker: child decode: %w", err)
		}

		if req.Shutdown {
			return nil
		}

		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			result, remoteErr := ev.Eval(req.Module, req.Expr)
			resp := Response{ID: req.ID, Result: result, Err: remoteErr}

			encMu.Lock()
			defer encMu.Unlock()
			_ = enc.Encode(&resp)
		}(req)
	}
}
