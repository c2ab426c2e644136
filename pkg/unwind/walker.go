package unwind

import (
	"bytes"
	"errors"
	"sync"

	"github.com/go-delve/pstack/pkg/logflags"
)

const (
	// MaxFrames is the most frames Walk ever returns, protecting against
	// corrupted or cyclic unwind information.
	MaxFrames = 1024
	// DefaultProcNameSize is the size of the buffer procedure names are
	// read into.
	DefaultProcNameSize = 1024
)

// Thread is a thread that may be walked.
type Thread interface {
	ThreadID() int
	// Stopped returns false once the thread has been released, after which
	// its registers must not be read.
	Stopped() bool
}

// Frame is one call stack level.
type Frame struct {
	IP uint64
	SP uint64
	// RawName is the procedure name reported by the unwinder, empty if
	// none was found.
	RawName string
	// Offset of IP from the start of the procedure named by RawName.
	Offset uint64
}

// WalkOptions configure Walk.
type WalkOptions struct {
	// MaxFrames lowers the frame limit, values <= 0 or above MaxFrames are
	// ignored.
	MaxFrames int
	// ProcNameSize is the size of the procedure name buffer, defaults to
	// DefaultProcNameSize.
	ProcNameSize int
}

func (o WalkOptions) maxFrames() int {
	if o.MaxFrames <= 0 || o.MaxFrames > MaxFrames {
		return MaxFrames
	}
	return o.MaxFrames
}

func (o WalkOptions) procNameSize() int {
	if o.ProcNameSize <= 0 {
		return DefaultProcNameSize
	}
	return o.ProcNameSize
}

// Context is the per process unwinding state shared by every walk of one
// run.
type Context struct {
	backend Backend
	arch    *Arch
	as      AddressSpace

	closeOnce sync.Once
}

// NewContext creates the address space of the target through backend.
func NewContext(backend Backend, arch *Arch) (*Context, error) {
	if arch == nil {
		return nil, errors.New("nil architecture")
	}
	as, err := backend.CreateAddressSpace(arch)
	if err != nil {
		return nil, err
	}
	if as == nil {
		return nil, errors.New("backend returned a nil address space")
	}
	return &Context{backend: backend, arch: arch, as: as}, nil
}

// Arch returns the architecture the context was created for.
func (ctx *Context) Arch() *Arch {
	return ctx.arch
}

// Close destroys the address space. Only the first call has an effect.
func (ctx *Context) Close() {
	ctx.closeOnce.Do(ctx.as.Destroy)
}

// Walk returns the frames of thread, innermost first.
func (ctx *Context) Walk(thread Thread, opts WalkOptions) ([]Frame, error) {
	tid := thread.ThreadID()
	log := logflags.UnwindLogger().WithField("tid", tid)

	if !thread.Stopped() {
		return nil, &Error{Kind: RegisterReadFailure, Tid: tid, Code: CodeInval, Frame: -1}
	}

	arg, err := ctx.backend.CreateArg(tid)
	if err != nil || arg == nil {
		if err == nil {
			err = errors.New("nil unwind argument")
		}
		return nil, &Error{Kind: SetupFailure, Tid: tid, Code: CodeUnspec, Frame: -1, Err: err}
	}
	defer arg.Destroy()

	cursor, code := ctx.backend.InitRemote(ctx.as, arg)
	if code < 0 {
		return nil, &Error{Kind: InitFailure, Tid: tid, Code: code, Frame: -1}
	}

	it := &stackIterator{
		cursor: cursor,
		thread: thread,
		arch:   ctx.arch,
		name:   make([]byte, opts.procNameSize()),
		tid:    tid,
	}

	frames := make([]Frame, 0, 16)
	max := opts.maxFrames()
	for len(frames) < max && it.Next() {
		frames = append(frames, it.Frame())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if len(frames) == max && !it.atend {
		log.Debugf("frame limit %d reached", max)
	}
	log.Debugf("walked %d frames", len(frames))
	return frames, nil
}

// stackIterator reads one frame from the cursor at each call to Next and
// steps the cursor past it.
type stackIterator struct {
	cursor Cursor
	thread Thread
	arch   *Arch
	name   []byte
	tid    int

	depth int
	frame Frame
	atend bool
	err   error
}

// Next reads the current frame, then advances the cursor. It returns
// false when the previous step reached the outermost frame or on error.
func (it *stackIterator) Next() bool {
	if it.err != nil || it.atend {
		return false
	}
	if !it.thread.Stopped() {
		it.err = &Error{Kind: RegisterReadFailure, Tid: it.tid, Code: CodeInval, Frame: it.depth}
		return false
	}

	ip, code := it.cursor.Reg(it.arch.IPRegNum)
	if code < 0 {
		it.err = &Error{Kind: RegisterReadFailure, Tid: it.tid, Code: code, Frame: it.depth}
		return false
	}
	sp, code := it.cursor.Reg(it.arch.SPRegNum)
	if code < 0 {
		it.err = &Error{Kind: RegisterReadFailure, Tid: it.tid, Code: code, Frame: it.depth}
		return false
	}

	it.frame = Frame{IP: ip, SP: sp}
	if n, off, code := it.cursor.ProcName(it.name); code == CodeSuccess {
		it.frame.RawName = procName(it.name, n)
		it.frame.Offset = off
	}

	switch step := it.cursor.Step(); {
	case step == 0:
		it.atend = true
	case step < 0:
		it.err = &Error{Kind: StepFailure, Tid: it.tid, Code: step, Frame: it.depth}
		return false
	}
	it.depth++
	return true
}

// Frame returns the frame read by the last call to Next.
func (it *stackIterator) Frame() Frame {
	return it.frame
}

// Err returns the error that stopped the iteration, if any.
func (it *stackIterator) Err() error {
	return it.err
}

// procName extracts the NUL terminated name from the first n bytes of buf.
func procName(buf []byte, n int) string {
	if n < 0 || n > len(buf) {
		n = len(buf)
	}
	buf = buf[:n]
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf)
}
