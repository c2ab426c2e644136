//go:build linux

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-delve/pstack/cmd/pstack/cmds"
)

func main() {
	rootCommand := cmds.New()
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var uerr *cmds.UsageError
		if errors.As(err, &uerr) {
			fmt.Fprint(os.Stderr, rootCommand.UsageString())
		}
		os.Exit(1)
	}
}
