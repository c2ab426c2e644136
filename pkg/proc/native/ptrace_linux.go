package native

import (
	"syscall"

	sys "golang.org/x/sys/unix"
)

// ptraceAttach executes the sys.PtraceAttach call.
func ptraceAttach(pid int) error {
	return sys.PtraceAttach(pid)
}

// ptraceDetach calls ptrace(PTRACE_DETACH).
func ptraceDetach(tid, sig int) error {
	_, _, err := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_DETACH, uintptr(tid), 1, uintptr(sig), 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// ptraceCont executes ptrace PTRACE_CONT
func ptraceCont(tid, sig int) error {
	return sys.PtraceCont(tid, sig)
}

// readMemory reads from the address space of tid with process_vm_readv,
// falling back to word sized PTRACE_PEEKDATA requests when the kernel
// refuses the former (e.g. mappings without read permission).
func readMemory(tid int, addr uint64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	n, err := processVmRead(tid, uintptr(addr), data)
	if err == nil && n == len(data) {
		return n, nil
	}
	if n < 0 {
		n = 0
	}
	m, perr := sys.PtracePeekData(tid, uintptr(addr)+uintptr(n), data[n:])
	if perr != nil {
		if err == nil {
			err = perr
		}
		return n, err
	}
	return n + m, nil
}

// processVmRead calls process_vm_readv
func processVmRead(tid int, addr uintptr, data []byte) (int, error) {
	localIov := []sys.Iovec{{Base: &data[0]}}
	localIov[0].SetLen(len(data))
	remoteIov := []sys.RemoteIovec{{Base: addr, Len: len(data)}}
	return sys.ProcessVMReadv(tid, localIov, remoteIov, 0)
}
