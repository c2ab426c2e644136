package op

// Opcodes of the DWARF expression subset that shows up in call frame
// information (DWARF v4 section 7.7.1).
const (
	DW_OP_addr        Opcode = 0x03
	DW_OP_deref       Opcode = 0x06
	DW_OP_const1u     Opcode = 0x08
	DW_OP_const1s     Opcode = 0x09
	DW_OP_const2u     Opcode = 0x0a
	DW_OP_const2s     Opcode = 0x0b
	DW_OP_const4u     Opcode = 0x0c
	DW_OP_const4s     Opcode = 0x0d
	DW_OP_const8u     Opcode = 0x0e
	DW_OP_const8s     Opcode = 0x0f
	DW_OP_constu      Opcode = 0x10
	DW_OP_consts      Opcode = 0x11
	DW_OP_dup         Opcode = 0x12
	DW_OP_drop        Opcode = 0x13
	DW_OP_over        Opcode = 0x14
	DW_OP_pick        Opcode = 0x15
	DW_OP_swap        Opcode = 0x16
	DW_OP_rot         Opcode = 0x17
	DW_OP_abs         Opcode = 0x19
	DW_OP_and         Opcode = 0x1a
	DW_OP_div         Opcode = 0x1b
	DW_OP_minus       Opcode = 0x1c
	DW_OP_mod         Opcode = 0x1d
	DW_OP_mul         Opcode = 0x1e
	DW_OP_neg         Opcode = 0x1f
	DW_OP_not         Opcode = 0x20
	DW_OP_or          Opcode = 0x21
	DW_OP_plus        Opcode = 0x22
	DW_OP_plus_uconst Opcode = 0x23
	DW_OP_shl         Opcode = 0x24
	DW_OP_shr         Opcode = 0x25
	DW_OP_shra        Opcode = 0x26
	DW_OP_xor         Opcode = 0x27
	DW_OP_bra         Opcode = 0x28
	DW_OP_eq          Opcode = 0x29
	DW_OP_ge          Opcode = 0x2a
	DW_OP_gt          Opcode = 0x2b
	DW_OP_le          Opcode = 0x2c
	DW_OP_lt          Opcode = 0x2d
	DW_OP_ne          Opcode = 0x2e
	DW_OP_skip        Opcode = 0x2f
	DW_OP_lit0        Opcode = 0x30
	DW_OP_lit31       Opcode = 0x4f
	DW_OP_breg0       Opcode = 0x70
	DW_OP_breg31      Opcode = 0x8f
	DW_OP_bregx       Opcode = 0x92
	DW_OP_deref_size  Opcode = 0x94
	DW_OP_nop         Opcode = 0x96
)
