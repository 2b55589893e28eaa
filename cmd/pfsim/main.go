// Command pfsim runs the stream-buffer prefetch engine on a small
// multi-core memory model and reports what the prefetcher achieved.
package main

import (
	"os"

	"github.com/tebeka/atexit"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		atexit.Fatalf("pfsim: %v", err)
	}

	atexit.Exit(0)
}
