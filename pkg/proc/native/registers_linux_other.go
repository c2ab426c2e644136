//go:build linux && !amd64 && !arm64

package native

import (
	"fmt"
	"runtime"

	"github.com/go-delve/pstack/pkg/dwarf/op"
)

func registers(tid int) (*op.DwarfRegisters, error) {
	return nil, fmt.Errorf("reading registers of thread %d: unsupported architecture %s", tid, runtime.GOARCH)
}
