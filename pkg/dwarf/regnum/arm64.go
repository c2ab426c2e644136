package regnum

// X0 through X30 are numbered 0 to 30.
const (
	ARM64_X0 = 0
	ARM64_BP = 29
	ARM64_LR = 30
	ARM64_SP = 31
	ARM64_PC = 32

	ARM64MaxRegNum = ARM64_PC
)
