package vm

import "fmt"

// Opcode identifies a VM instruction. The set is closed: the machine's
// dispatch switch covers every value below and treats anything else as an
// unknown instruction.
type Opcode byte

const (
	// ========================================================================
	// Constants and variables
	// ========================================================================

	OpLDC    Opcode = 0x01 // Push literal: LDC <val>
	OpLD     Opcode = 0x02 // Push slot value: LD <frame,slot>
	OpASSIGN Opcode = 0x03 // Store TOS into slot, leave TOS: ASSIGN <frame,slot>
	OpDROP   Opcode = 0x04 // Release slot ownership: DROP <frame,slot>

	// ========================================================================
	// References
	// ========================================================================

	OpREF       Opcode = 0x10 // Push reference to slot: REF <frame,slot> <mutable>
	OpDEREF     Opcode = 0x11 // Replace reference with the slot it points at
	OpUPDATEREF Opcode = 0x12 // Pop value and reference, store through it, push value

	// ========================================================================
	// Control flow
	// ========================================================================

	OpJOF  Opcode = 0x20 // Pop condition, jump if false: JOF <addr>
	OpGOTO Opcode = 0x21 // Jump unconditionally: GOTO <addr>

	// ========================================================================
	// Operators
	// ========================================================================

	OpUNOP  Opcode = 0x30 // Apply unary operator: UNOP <sym>
	OpBINOP Opcode = 0x31 // Apply binary operator: BINOP <sym>

	// ========================================================================
	// Functions
	// ========================================================================

	OpCALL  Opcode = 0x40 // Call closure or builtin: CALL <arity>
	OpRESET Opcode = 0x41 // Return from the innermost call frame
	OpLDF   Opcode = 0x42 // Push closure: LDF <arity> <addr>

	// ========================================================================
	// Scopes and stack
	// ========================================================================

	OpENTERSCOPE Opcode = 0x50 // Push block frame and extend env: ENTER_SCOPE <num>
	OpEXITSCOPE  Opcode = 0x51 // Restore env from block frame
	OpPOP        Opcode = 0x52 // Discard TOS
	OpDONE       Opcode = 0x53 // Halt
)

var opcodeNames = map[Opcode]string{
	OpLDC:        "LDC",
	OpLD:         "LD",
	OpASSIGN:     "ASSIGN",
	OpDROP:       "DROP",
	OpREF:        "REF",
	OpDEREF:      "DEREF",
	OpUPDATEREF:  "UPDATE_REF",
	OpJOF:        "JOF",
	OpGOTO:       "GOTO",
	OpUNOP:       "UNOP",
	OpBINOP:      "BINOP",
	OpCALL:       "CALL",
	OpRESET:      "RESET",
	OpLDF:        "LDF",
	OpENTERSCOPE: "ENTER_SCOPE",
	OpEXITSCOPE:  "EXIT_SCOPE",
	OpPOP:        "POP",
	OpDONE:       "DONE",
}

// Valid reports whether op is part of the instruction set.
func (op Opcode) Valid() bool {
	_, ok := opcodeNames[op]
	return ok
}

// String returns the opcode mnemonic.
func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("OP_%02X", byte(op))
}

// IsJump returns true if the opcode carries a jump target.
func (op Opcode) IsJump() bool {
	return op == OpJOF || op == OpGOTO
}

// UsesAddress returns true if the opcode carries a code address: a jump
// target or a function entry point.
func (op Opcode) UsesAddress() bool {
	return op.IsJump() || op == OpLDF
}

// UsesPosition returns true if the opcode carries a static (frame, slot)
// address.
func (op Opcode) UsesPosition() bool {
	switch op {
	case OpLD, OpASSIGN, OpDROP, OpREF:
		return true
	}
	return false
}
