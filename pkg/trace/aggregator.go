//go:build linux

package trace

import (
	"fmt"
	"io"

	"github.com/go-delve/pstack/pkg/config"
	"github.com/go-delve/pstack/pkg/demangle"
	"github.com/go-delve/pstack/pkg/logflags"
	"github.com/go-delve/pstack/pkg/proc/native"
	"github.com/go-delve/pstack/pkg/symbols"
	"github.com/go-delve/pstack/pkg/unwind"
)

// Walker walks the stack of a stopped thread. It is implemented by
// *unwind.Context.
type Walker interface {
	Walk(thread unwind.Thread, opts unwind.WalkOptions) ([]unwind.Frame, error)
}

// Resolver maps a link time address to a function name. It is implemented
// by *symbols.Table.
type Resolver interface {
	Resolve(addr uint64) (string, bool)
}

// Options configure an Aggregator.
type Options struct {
	Walk     unwind.WalkOptions
	Demangle bool
	Color    config.ColorMode
	ShowSP   bool
}

// Aggregator traces every thread of process Pid, one thread at a time.
type Aggregator struct {
	Pid     int
	Tracer  native.Tracer
	Context Walker
	Symbols Resolver
	// Normalizer translates instruction pointers before symbol lookup,
	// nil means identity.
	Normalizer symbols.Normalizer
	// ListThreads enumerates the threads of a process, defaults to
	// native.ThreadIDs.
	ListThreads func(pid int) ([]int, error)
	Options     Options
}

// Collect traces the threads of the process in enumeration order and
// calls fn with each trace. The first error, from tracing or from fn,
// stops the run and is returned. Every thread that was attached has been
// detached when Collect returns.
func (a *Aggregator) Collect(fn func(ThreadTrace) error) error {
	list := a.ListThreads
	if list == nil {
		list = native.ThreadIDs
	}
	tids, err := list(a.Pid)
	if err != nil {
		return err
	}
	log := logflags.TraceLogger().WithField("pid", a.Pid)
	log.Debugf("tracing %d threads", len(tids))

	for _, tid := range tids {
		tt, err := a.traceThread(tid)
		if err != nil {
			log.WithField("tid", tid).WithError(err).Debugf("tracing aborted")
			return err
		}
		if err := fn(tt); err != nil {
			return err
		}
	}
	return nil
}

// Run collects every thread trace and prints it to out.
func (a *Aggregator) Run(out io.Writer) error {
	p := NewPrinter(out, a.Options.Color, a.Options.ShowSP)
	return a.Collect(p.Print)
}

func (a *Aggregator) traceThread(tid int) (ThreadTrace, error) {
	att, err := native.Attach(a.Tracer, tid)
	if err != nil {
		return ThreadTrace{}, err
	}
	defer att.Release()
	frames, err := a.Context.Walk(att, a.Options.Walk)
	if err != nil {
		return ThreadTrace{}, err
	}
	if err := att.Detach(); err != nil {
		return ThreadTrace{}, err
	}

	tt := ThreadTrace{Tid: tid, Elements: make([]Element, len(frames))}
	for i, f := range frames {
		tt.Elements[i] = a.symbolize(f)
	}
	if logflags.Trace() {
		logflags.TraceLogger().WithField("tid", tid).Debugf("%d frames", len(frames))
	}
	return tt, nil
}

// symbolize prefers the name reported by the unwinder, then the symbol
// table, then the address itself.
func (a *Aggregator) symbolize(f unwind.Frame) Element {
	e := Element{IP: f.IP, SP: f.SP, Name: f.RawName, Symbolized: f.RawName != ""}
	if !e.Symbolized && a.Symbols != nil {
		addr := f.IP
		if a.Normalizer != nil {
			addr = a.Normalizer.Normalize(addr)
		}
		e.Name, e.Symbolized = a.Symbols.Resolve(addr)
	}
	if !e.Symbolized {
		e.Name = fmt.Sprintf("%#x", f.IP)
		return e
	}
	if a.Options.Demangle {
		e.Name = demangle.Name(e.Name)
	}
	return e
}
