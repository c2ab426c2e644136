package regnum

// R0 through R15 are numbered 0 to 15. Remote unwinders report the
// instruction pointer of a frame in the R14 slot.
const (
	ARM_R0 = 0
	ARM_FP = 11
	ARM_SP = 13
	ARM_IP = 14
)
