package unwind

import "fmt"

// Code is a status returned by the unwinding capability. Zero is success,
// negative values are errors. Step also returns positive values to signal
// that more frames remain.
type Code int

const (
	CodeSuccess     Code = 0
	CodeUnspec      Code = -1  // unspecified error
	CodeNoMem       Code = -2  // out of memory
	CodeBadReg      Code = -3  // bad register number
	CodeReadOnlyReg Code = -4  // attempt to write read-only register
	CodeStopUnwind  Code = -5  // stop unwinding
	CodeInvalidIP   Code = -6  // invalid IP
	CodeBadFrame    Code = -7  // bad frame
	CodeInval       Code = -8  // unsupported operation or bad value
	CodeBadVersion  Code = -9  // unwind info has unsupported version
	CodeNoInfo      Code = -10 // no unwind info found
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeUnspec:
		return "unspecified error"
	case CodeNoMem:
		return "out of memory"
	case CodeBadReg:
		return "bad register number"
	case CodeReadOnlyReg:
		return "read-only register"
	case CodeStopUnwind:
		return "stop unwinding"
	case CodeInvalidIP:
		return "invalid IP"
	case CodeBadFrame:
		return "bad frame"
	case CodeInval:
		return "unsupported operation or bad value"
	case CodeBadVersion:
		return "unsupported unwind info version"
	case CodeNoInfo:
		return "no unwind info found"
	}
	if c > 0 {
		return fmt.Sprintf("continue(%d)", int(c))
	}
	return fmt.Sprintf("Code(%d)", int(c))
}
