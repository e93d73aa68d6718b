package assembly

import (
	"fmt"
	"sort"
)

// Opcode is one of the target VM's eight instructions.
type Opcode byte

const (
	OpNop          Opcode = 0x00 // No operation
	OpPop          Opcode = 0x01 // Discard top of stack
	OpCopy         Opcode = 0x02 // Pop dest, pop source, copy source value into dest
	OpPush         Opcode = 0x03 // Push heap address: PUSH <symbol>
	OpJumpIfFalse  Opcode = 0x04 // Pop condition, jump if false: JUMP_IF_FALSE <addr>
	OpJump         Opcode = 0x05 // Unconditional jump: JUMP <addr>
	OpExtern       Opcode = 0x06 // Call external function: EXTERN "<signature>"
	OpJumpIndirect Opcode = 0x09 // Jump to the address held in a symbol: JUMP_INDIRECT <symbol>
)

// OperandKind says what an opcode's operand refers to.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandSymbol
	OperandTarget
	OperandSignature
)

// OpcodeInfo provides metadata about each opcode.
type OpcodeInfo struct {
	Name    string      // Wire name
	Size    uint32      // Encoded size in bytes
	Operand OperandKind // Operand carried by the instruction
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop:          {"NOP", 4, OperandNone},
	OpPop:          {"POP", 4, OperandNone},
	OpCopy:         {"COPY", 4, OperandNone},
	OpPush:         {"PUSH", 8, OperandSymbol},
	OpJumpIfFalse:  {"JUMP_IF_FALSE", 8, OperandTarget},
	OpJump:         {"JUMP", 8, OperandTarget},
	OpExtern:       {"EXTERN", 8, OperandSignature},
	OpJumpIndirect: {"JUMP_INDIRECT", 8, OperandSymbol},
}

var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo named "UNKNOWN(..)" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// ParseOpcode looks up an opcode by its wire name.
func ParseOpcode(name string) (Opcode, bool) {
	op, ok := opcodesByName[name]
	return op, ok
}

func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Size returns the encoded size of the opcode in bytes.
func (op Opcode) Size() uint32 {
	return GetOpcodeInfo(op).Size
}

// Operand returns the kind of operand the opcode carries.
func (op Opcode) Operand() OperandKind {
	return GetOpcodeInfo(op).Operand
}

// IsJump reports whether the opcode transfers control to a jump target.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpJumpIfFalse
}

// AllOpcodes returns every defined opcode in ascending order.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}
