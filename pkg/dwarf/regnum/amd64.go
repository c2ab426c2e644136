// Package regnum holds the DWARF register numbers of the general purpose
// registers the unwinder tracks, see the System V AMD64 psABI (figure
// 3.36) and the DWARF for the Arm Architecture documents.
package regnum

const (
	AMD64_Rax = iota
	AMD64_Rdx
	AMD64_Rcx
	AMD64_Rbx
	AMD64_Rsi
	AMD64_Rdi
	AMD64_Rbp
	AMD64_Rsp
	AMD64_R8
	AMD64_R9
	AMD64_R10
	AMD64_R11
	AMD64_R12
	AMD64_R13
	AMD64_R14
	AMD64_R15
	// return address column
	AMD64_Rip

	AMD64MaxRegNum = AMD64_Rip
)
