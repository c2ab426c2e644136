package native

import (
	"fmt"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/pstack/pkg/logflags"
)

// wcloneOption is __WCLONE, which does not fit in a 32bit int constant.
var wcloneOption uint32 = sys.WCLONE

// State is the state of an Attachment.
type State int

const (
	Detached State = iota
	Attaching
	Stopped
)

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Attaching:
		return "attaching"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Attachment represents a thread paused by the tracer.
// Once the attach request has been issued exactly one detach request is
// made for the thread, either by Release or by Detach.
type Attachment struct {
	t     Tracer
	tid   int
	state State
	// detachIssued is set once the detach request has been made, whatever
	// its result.
	detachIssued bool
	log          logflags.Logger
}

// Attach pauses thread tid. On success the returned Attachment is in the
// Stopped state and the caller must release it with Release or Detach.
// On failure the thread has already been detached and the returned
// Attachment is nil.
func Attach(t Tracer, tid int) (*Attachment, error) {
	a := &Attachment{
		t:     t,
		tid:   tid,
		state: Attaching,
		log:   logflags.PtraceLogger().WithField("tid", tid),
	}

	if err := t.Attach(tid); err != nil {
		a.Release()
		return nil, &AttachError{Tid: tid, Err: err}
	}
	a.log.Debugf("attach request issued")

	status, err := a.waitStop()
	if err != nil {
		a.Release()
		return nil, err
	}

	if !status.Stopped() || status.StopSignal() != sys.SIGSTOP {
		aerr := &AttachError{Tid: tid, Status: -1}
		if status.Stopped() {
			// Stopped for an unrelated reason, put it back the way it was.
			aerr.Status = int(status.StopSignal())
			if err := t.Cont(tid, 0); err != nil {
				aerr.Err = fmt.Errorf("resuming after unexpected stop %d: %w", aerr.Status, err)
			}
		}
		a.log.Debugf("unexpected wait status %#x", uint32(status))
		a.Release()
		return nil, aerr
	}

	a.state = Stopped
	a.log.Debugf("thread stopped")
	return a, nil
}

// waitStop waits for the attach induced stop of the thread. A thread that
// is not yet visible as a child (ECHILD) is waited for with a wildcard
// __WCLONE wait until it is reported.
func (a *Attachment) waitStop() (sys.WaitStatus, error) {
	_, status, err := a.wait(a.tid, sys.WUNTRACED)
	if err == nil {
		return status, nil
	}
	if err != sys.ECHILD {
		return 0, &WaitError{Tid: a.tid, Err: err}
	}

	for {
		wpid, status, err := a.wait(-1, int(wcloneOption))
		if err != nil {
			return 0, &WaitError{Tid: a.tid, Err: err}
		}
		if wpid == a.tid {
			return status, nil
		}
		// Another clone child changed state, its status is of no interest.
		a.log.Debugf("ignoring wait status %#x of thread %d", uint32(status), wpid)
	}
}

func (a *Attachment) wait(pid, options int) (int, sys.WaitStatus, error) {
	for {
		wpid, status, err := a.t.Wait(pid, options)
		if logflags.Ptrace() {
			a.log.Debugf("wait(%d, %#x) = %d, %#x, %v", pid, uint32(options), wpid, uint32(status), err)
		}
		if err == sys.EINTR {
			continue
		}
		return wpid, status, err
	}
}

// ThreadID returns the id of the attached thread.
func (a *Attachment) ThreadID() int {
	return a.tid
}

// State returns the current state of the attachment.
func (a *Attachment) State() State {
	return a.state
}

// Stopped returns true while the thread is paused and may be inspected.
func (a *Attachment) Stopped() bool {
	return a.state == Stopped
}

// Release detaches from the thread if that has not happened yet. Failures
// are logged and otherwise ignored, Release is meant to be deferred.
func (a *Attachment) Release() {
	if err := a.detach(); err != nil {
		a.log.Warnf("releasing thread: %v", err)
	}
}

// Detach detaches from the thread and reports failures. Calling Detach
// after the thread has been released is a no-op.
func (a *Attachment) Detach() error {
	return a.detach()
}

func (a *Attachment) detach() error {
	if a == nil || a.detachIssued {
		return nil
	}
	a.detachIssued = true
	a.state = Detached
	if err := a.t.Detach(a.tid); err != nil {
		return &DetachError{Tid: a.tid, Err: err}
	}
	a.log.Debugf("detached")
	return nil
}
