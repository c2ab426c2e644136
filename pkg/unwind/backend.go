package unwind

// Backend is the unwinding capability consumed by Walk.
type Backend interface {
	// CreateAddressSpace returns the handle used to read memory and
	// registers of the target for the given architecture.
	CreateAddressSpace(arch *Arch) (AddressSpace, error)
	// CreateArg returns the per thread unwind argument for thread tid.
	CreateArg(tid int) (Arg, error)
	// InitRemote returns a cursor positioned at the innermost frame of the
	// thread described by arg.
	InitRemote(as AddressSpace, arg Arg) (Cursor, Code)
}

// AddressSpace is a process wide unwinding handle.
type AddressSpace interface {
	Destroy()
}

// Arg is a per thread unwinding handle.
type Arg interface {
	Destroy()
}

// Cursor is a position in the call stack of one thread.
type Cursor interface {
	// Step moves the cursor to the caller frame. It returns zero at the
	// outermost frame, a positive value if more frames remain and a
	// negative Code on error.
	Step() Code
	// Reg returns the value of DWARF register num in the current frame.
	Reg(num uint64) (uint64, Code)
	// ProcName writes the name of the procedure containing the current
	// frame into buf and returns its length and the offset of the frame
	// address from the start of the procedure.
	ProcName(buf []byte) (int, uint64, Code)
}
