package native

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sys "golang.org/x/sys/unix"

	"github.com/go-delve/pstack/pkg/dwarf/op"
)

type waitResult struct {
	pid    int
	status sys.WaitStatus
	err    error
}

// fakeTracer records every request and answers Wait from a script.
type fakeTracer struct {
	attachErr error
	contErr   error
	detachErr error
	waits     []waitResult

	calls []string
}

func (f *fakeTracer) Attach(tid int) error {
	f.calls = append(f.calls, fmt.Sprintf("attach %d", tid))
	return f.attachErr
}

func (f *fakeTracer) Detach(tid int) error {
	f.calls = append(f.calls, fmt.Sprintf("detach %d", tid))
	return f.detachErr
}

func (f *fakeTracer) Cont(tid, sig int) error {
	f.calls = append(f.calls, fmt.Sprintf("cont %d", tid))
	return f.contErr
}

func (f *fakeTracer) Wait(pid, options int) (int, sys.WaitStatus, error) {
	f.calls = append(f.calls, fmt.Sprintf("wait %d %#x", pid, uint32(options)))
	if len(f.waits) == 0 {
		return 0, 0, sys.ECHILD
	}
	r := f.waits[0]
	f.waits = f.waits[1:]
	return r.pid, r.status, r.err
}

func (f *fakeTracer) ReadMemory(tid int, addr uint64, buf []byte) (int, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeTracer) Registers(tid int) (*op.DwarfRegisters, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTracer) count(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func stoppedBy(sig sys.Signal) sys.WaitStatus {
	return sys.WaitStatus(uint32(sig)<<8 | 0x7f)
}

func TestAttachDetach(t *testing.T) {
	ft := &fakeTracer{waits: []waitResult{{pid: 42, status: stoppedBy(sys.SIGSTOP)}}}
	a, err := Attach(ft, 42)
	require.NoError(t, err)
	assert.True(t, a.Stopped())
	assert.Equal(t, Stopped, a.State())
	assert.Equal(t, 42, a.ThreadID())

	require.NoError(t, a.Detach())
	a.Release()
	require.NoError(t, a.Detach())
	assert.Equal(t, Detached, a.State())
	assert.Equal(t, []string{"attach 42", "wait 42 0x2", "detach 42"}, ft.calls)
}

func TestAttachCloneRace(t *testing.T) {
	ft := &fakeTracer{waits: []waitResult{
		{err: sys.ECHILD},
		{err: sys.EINTR},
		{pid: 7, status: stoppedBy(sys.SIGTRAP)},
		{pid: 43, status: stoppedBy(sys.SIGSTOP)},
	}}
	a, err := Attach(ft, 43)
	require.NoError(t, err)
	defer a.Release()
	assert.Equal(t, 3, ft.count("wait -1 0x80000000"))
	assert.Zero(t, ft.count("cont"))
	assert.Zero(t, ft.count("detach"))
}

func TestAttachUnexpectedStop(t *testing.T) {
	ft := &fakeTracer{waits: []waitResult{{pid: 44, status: stoppedBy(sys.SIGTRAP)}}}
	a, err := Attach(ft, 44)
	assert.Nil(t, a)
	var aerr *AttachError
	require.True(t, errors.As(err, &aerr), "got %v", err)
	assert.Equal(t, int(sys.SIGTRAP), aerr.Status)
	assert.Equal(t, []string{"attach 44", "wait 44 0x2", "cont 44", "detach 44"}, ft.calls)
}

func TestAttachNotStopped(t *testing.T) {
	// exited with status 0
	ft := &fakeTracer{waits: []waitResult{{pid: 45, status: 0}}}
	_, err := Attach(ft, 45)
	var aerr *AttachError
	require.True(t, errors.As(err, &aerr), "got %v", err)
	assert.Equal(t, -1, aerr.Status)
	assert.Zero(t, ft.count("cont"))
	assert.Equal(t, 1, ft.count("detach"))
}

func TestAttachWaitFailure(t *testing.T) {
	for _, waits := range [][]waitResult{
		{{err: sys.EPERM}},
		{{err: sys.ECHILD}, {pid: 3, status: stoppedBy(sys.SIGSTOP)}, {err: sys.ECHILD}},
	} {
		ft := &fakeTracer{waits: waits}
		_, err := Attach(ft, 46)
		var werr *WaitError
		require.True(t, errors.As(err, &werr), "got %v", err)
		assert.Equal(t, 46, werr.Tid)
		assert.Equal(t, 1, ft.count("detach"))
	}
}

func TestAttachRequestRejected(t *testing.T) {
	ft := &fakeTracer{attachErr: sys.EPERM}
	_, err := Attach(ft, 47)
	var aerr *AttachError
	require.True(t, errors.As(err, &aerr), "got %v", err)
	assert.True(t, errors.Is(err, sys.EPERM))
	assert.Equal(t, []string{"attach 47", "detach 47"}, ft.calls)
}

func TestDetachEscalation(t *testing.T) {
	ft := &fakeTracer{waits: []waitResult{{pid: 48, status: stoppedBy(sys.SIGSTOP)}}, detachErr: sys.ESRCH}
	a, err := Attach(ft, 48)
	require.NoError(t, err)
	err = a.Detach()
	var derr *DetachError
	require.True(t, errors.As(err, &derr), "got %v", err)
	assert.True(t, errors.Is(err, sys.ESRCH))

	// the request is never repeated
	a.Release()
	assert.Equal(t, 1, ft.count("detach"))
}

func TestReleaseSwallowsErrors(t *testing.T) {
	ft := &fakeTracer{waits: []waitResult{{pid: 49, status: stoppedBy(sys.SIGSTOP)}}, detachErr: sys.ESRCH}
	a, err := Attach(ft, 49)
	require.NoError(t, err)
	a.Release()
	a.Release()
	assert.Equal(t, 1, ft.count("detach"))
	assert.False(t, a.Stopped())
}
