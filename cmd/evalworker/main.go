// Command evalworker is a minimal host for the worker package: it serves
// as both ends of the out-of-process evaluator depending on how it is
// invoked. Run directly, it connects to an existing socket path given on
// the command line and serves requests, the same role MaybeServeAndExit
// plays for a self-exec'd child - useful for driving a Worker configured
// with an explicit Options.Command instead of the default self-exec.
package main

import (
	"fmt"
	"os"

	"github.com/concurrentutil/concurrentutil/worker"
)

func main() {
	worker.MaybeServeAndExit()

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: evalworker <socket-path>")
		os.Exit(2)
	}
	if err := worker.ServeMain(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, "evalworker: "+err.Error())
		os.Exit(1)
	}
}
