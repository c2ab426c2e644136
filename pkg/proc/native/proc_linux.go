package native

import (
	"errors"
	"runtime"
	"sync"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/pstack/pkg/dwarf/op"
)

var errTracerClosed = errors.New("tracer closed")

// PtraceTracer implements Tracer with ptrace(2).
//
// ptrace requires every request after PTRACE_ATTACH to come from the thread
// that issued the attach, all requests are therefore executed by a single
// goroutine locked to its OS thread. See `handlePtraceFuncs`.
type PtraceTracer struct {
	ptraceChan     chan func()
	ptraceDoneChan chan interface{}

	mu     sync.Mutex
	closed bool
}

// NewTracer returns a ptrace backed Tracer. Close must be called to stop
// its ptrace goroutine.
func NewTracer() *PtraceTracer {
	t := &PtraceTracer{
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
	}
	go t.handlePtraceFuncs()
	return t
}

// Close stops the ptrace goroutine. Threads still attached are not
// detached.
func (t *PtraceTracer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.ptraceChan)
	}
}

func (t *PtraceTracer) handlePtraceFuncs() {
	// We must ensure here that we are running on the same thread during
	// while invoking the ptrace(2) syscall. This is due to the fact that ptrace(2) expects
	// all commands after PTRACE_ATTACH to come from the same thread.
	runtime.LockOSThread()

	for fn := range t.ptraceChan {
		fn()
		t.ptraceDoneChan <- nil
	}
}

func (t *PtraceTracer) execPtraceFunc(fn func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTracerClosed
	}
	t.ptraceChan <- fn
	<-t.ptraceDoneChan
	return nil
}

func (t *PtraceTracer) Attach(tid int) error {
	var err error
	if cerr := t.execPtraceFunc(func() { err = ptraceAttach(tid) }); cerr != nil {
		return cerr
	}
	return err
}

func (t *PtraceTracer) Detach(tid int) error {
	var err error
	if cerr := t.execPtraceFunc(func() { err = ptraceDetach(tid, 0) }); cerr != nil {
		return cerr
	}
	return err
}

func (t *PtraceTracer) Cont(tid, sig int) error {
	var err error
	if cerr := t.execPtraceFunc(func() { err = ptraceCont(tid, sig) }); cerr != nil {
		return cerr
	}
	return err
}

// Wait runs on the ptrace thread too: with __WCLONE and ECHILD the kernel
// only reports children traced by the calling thread.
func (t *PtraceTracer) Wait(pid, options int) (wpid int, status sys.WaitStatus, err error) {
	if cerr := t.execPtraceFunc(func() { wpid, err = sys.Wait4(pid, &status, options, nil) }); cerr != nil {
		return 0, 0, cerr
	}
	return wpid, status, err
}

func (t *PtraceTracer) ReadMemory(tid int, addr uint64, buf []byte) (n int, err error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if cerr := t.execPtraceFunc(func() { n, err = readMemory(tid, addr, buf) }); cerr != nil {
		return 0, cerr
	}
	return n, err
}

func (t *PtraceTracer) Registers(tid int) (regs *op.DwarfRegisters, err error) {
	if cerr := t.execPtraceFunc(func() { regs, err = registers(tid) }); cerr != nil {
		return nil, cerr
	}
	return regs, err
}
