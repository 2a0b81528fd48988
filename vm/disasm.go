package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of a program.
func Disassemble(code []Instruction) string {
	return DisassembleWithName(code, "")
}

// DisassembleWithName returns a listing with a name header. Jump targets
// are marked with a label line.
func DisassembleWithName(code []Instruction, name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Rivet Bytecode v%d\n", ProgramVersion))
	sb.WriteString(fmt.Sprintf("; Instructions: %d\n\n", len(code)))

	targets := make(map[int]bool)
	entries := make(map[int]bool)
	for _, in := range code {
		switch {
		case in.Op.IsJump():
			targets[in.Addr] = true
		case in.Op == OpLDF:
			entries[in.Addr] = true
		}
	}

	for i, in := range code {
		switch {
		case entries[i]:
			sb.WriteString(fmt.Sprintf("fn_%d:\n", i))
		case targets[i]:
			sb.WriteString(fmt.Sprintf("L%d:\n", i))
		}
		sb.WriteString(fmt.Sprintf("  %04d  %s\n", i, in))
	}
	return sb.String()
}
