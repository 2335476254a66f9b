package worker

import "encoding/gob"

// Request is what the parent sends to the child over the pipe. Shutdown
// requests carry a zero ID and empty Module/Expr; the child treats
// Shutdown as the only meaningful field in that case.
type Request struct {
	ID       uint64
	Module   string
	Expr     string
	Shutdown bool
}

// Response is what the child sends back. Exactly one of Result or Err is
// meaningful; ID pairs it with the Request that produced it.
type Response struct {
	ID     uint64
	Result any
	Err    *RemoteError

	// localErr carries an error synthesized by the parent itself - worker
	// termination, context cancellation, a send failure - rather than one
	// decoded off the wire. It is never populated by the child and, being
	// unexported, is never gob-encoded; keeping it separate from Err lets
	// Fetch return the original sentinel (ErrWorkerTerminated, ctx.Err())
	// instead of flattening it into an opaque *RemoteError that
	// errors.Is can never match.
	localErr error
}

// RemoteError captures a child-side evaluation failure, including its
// stack trace, as a plain value that can cross the wire - modelling
// exceptions as tagged data rather than a control flow construct, the
// same way the synchronizer package's error sink does.
type RemoteError struct {
	Message string
	Stack   string
}

func (e *RemoteError) Error() string {
	if e.Stack == "" {
		return e.Message
	}
	return e.Message + "\n" + e.Stack
}

// gob is self-delimiting and symmetric across independent encoder and
// decoder instances on opposite ends of a stream, which is exactly what
// this wire codec needs. A schema-driven alternative like protobuf would
// require a static schema for the evaluator's result value, but
// goja.Runtime.RunString can return arbitrary JSON-shaped data (numbers,
// strings, bools, nested maps and slices, or nil); gob's ability to
// encode a registered set of concrete types behind a plain `any` field
// covers that without generated code. See DESIGN.md.
func init() {
	gob.Register(float64(0))
	gob.Register(int64(0))
	gob.Register("")
	gob.Register(true)
	gob.Register(map[string]any{})
	gob.Register([]any{})
}
