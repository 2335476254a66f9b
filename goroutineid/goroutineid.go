// Package goroutineid extracts the numeric id the Go runtime assigns to
// the calling goroutine. It exists purely as an identity for ownership
// checks (e.g. a reentrant lock recognizing its own holder) - it is not a
// stable public API of the runtime, and must never be used for anything
// that depends on goroutine ids remaining meaningful across a context
// switch.
package goroutineid

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// stackBufPool recycles the scratch buffer runtime.Stack writes into,
// following the same sync.Pool-of-scratch-space pattern as catrate's
// categoryDataPool.
var stackBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64)
		return &b
	},
}

// Get returns the id of the calling goroutine, parsed out of the header
// line of a runtime.Stack dump ("goroutine 123 [running]: ..."). This is
// the standard (if informally blessed) technique for obtaining a
// goroutine id in Go, in the absence of a runtime-exposed accessor.
func Get() uint64 {
	buf := stackBufPool.Get().(*[]byte)
	defer stackBufPool.Put(buf)

	n := runtime.Stack(*buf, false)
	b := (*buf)[:n]

	const prefix = "goroutine "
	b = bytes.TrimPrefix(b, []byte(prefix))

	end := bytes.IndexByte(b, ' ')
	if end < 0 {
		return 0
	}

	id, err := strconv.ParseUint(string(b[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
