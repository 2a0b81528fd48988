package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ProgramVersion is the current program image format version.
const ProgramVersion uint16 = 1

// ProgramMagic identifies program images: "RVBC" (Rivet ByteCode).
const ProgramMagic = "RVBC"

// Program is the serialized form of a compiled instruction array.
type Program struct {
	Magic        string        `cbor:"1,keyasint"`
	Version      uint16        `cbor:"2,keyasint"`
	Instructions []Instruction `cbor:"3,keyasint"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalProgram serializes an instruction array to CBOR bytes.
func MarshalProgram(code []Instruction) ([]byte, error) {
	return cborEncMode.Marshal(&Program{
		Magic:        ProgramMagic,
		Version:      ProgramVersion,
		Instructions: code,
	})
}

// UnmarshalProgram deserializes and validates a program image.
func UnmarshalProgram(data []byte) ([]Instruction, error) {
	var p Program
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("vm: unmarshal program: %w", err)
	}
	if p.Magic != ProgramMagic {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidMagic, p.Magic)
	}
	if p.Version != ProgramVersion {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrVersionMismatch, ProgramVersion, p.Version)
	}
	for i, in := range p.Instructions {
		if err := validate(in, len(p.Instructions)); err != nil {
			return nil, fmt.Errorf("vm: instruction %d: %w", i, err)
		}
	}
	return p.Instructions, nil
}

// validate checks that in's operands stay inside a program of n
// instructions and inside the heap's frame and environment nodes.
func validate(in Instruction, n int) error {
	switch {
	case !in.Op.Valid():
		return fmt.Errorf("%w: %s", ErrUnknownInstruction, in.Op)
	case in.Op.UsesAddress() && (in.Addr < 0 || in.Addr > n):
		return fmt.Errorf("%w: %s target %d outside program of %d instructions", ErrMalformed, in.Op, in.Addr, n)
	case in.Op.UsesPosition() && (in.Pos.Frame < 0 || in.Pos.Frame >= MaxFrames || in.Pos.Slot < 0 || in.Pos.Slot >= MaxFrameSlots):
		return fmt.Errorf("%w: %s position (%d,%d)", ErrMalformed, in.Op, in.Pos.Frame, in.Pos.Slot)
	case in.Op == OpENTERSCOPE && (in.Num < 0 || in.Num > MaxFrameSlots):
		return fmt.Errorf("%w: ENTER_SCOPE %d", ErrMalformed, in.Num)
	case in.Op == OpCALL && (in.Arity < 0 || in.Arity > MaxFrameSlots):
		return fmt.Errorf("%w: CALL %d", ErrMalformed, in.Arity)
	}
	return nil
}
