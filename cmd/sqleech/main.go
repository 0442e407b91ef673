package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/0x6d61/sqleech/internal/cli"
	"github.com/0x6d61/sqleech/internal/engine"
)

// Exit codes: 0 success, 1 no injectable parameter or a hard user error
// (auth required without --ignore-code, bad flag value), 2 target
// unreachable after retries exhausted.
func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	if errors.Is(err, engine.ErrTargetUnreachable) {
		return 2
	}
	return 1
}
