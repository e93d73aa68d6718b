package assembly

import "fmt"

type targetKind uint8

const (
	targetNone targetKind = iota
	targetInstruction
	targetLabel
	targetAddress
)

// Target is the operand of a jump. It either references an instruction
// in the same program, names a method whose entry address is not known
// until address assignment (a deferred label), or is an absolute address
// outside the program such as the end-of-program sentinel.
type Target struct {
	kind  targetKind
	instr *Instruction
	label string
	addr  uint32
}

// TargetOf returns a target referencing an instruction.
func TargetOf(i *Instruction) Target {
	return Target{kind: targetInstruction, instr: i}
}

// LabelTarget returns a deferred target naming a method.
func LabelTarget(method string) Target {
	return Target{kind: targetLabel, label: method}
}

// AddressTarget returns a target with a fixed absolute address.
func AddressTarget(addr uint32) Target {
	return Target{kind: targetAddress, addr: addr}
}

// Instruction returns the referenced instruction, or nil.
func (t Target) Instruction() *Instruction {
	if t.kind != targetInstruction {
		return nil
	}
	return t.instr
}

// IsDeferred reports whether the target is a method label.
func (t Target) IsDeferred() bool { return t.kind == targetLabel }

// LabelName returns the method name of a deferred target.
func (t Target) LabelName() string { return t.label }

// Raw returns the absolute address of an address target.
func (t Target) Raw() (uint32, bool) {
	return t.addr, t.kind == targetAddress
}

func (t Target) String() string {
	switch t.kind {
	case targetInstruction:
		return fmt.Sprintf("instr#%d", t.instr.index)
	case targetLabel:
		return "label:" + t.label
	case targetAddress:
		return fmt.Sprintf("0x%08X", t.addr)
	default:
		return "<none>"
	}
}

// Instruction is a single VM operation. Instructions are never destroyed:
// deleting one retires it to a zero-size no-op so that anything holding
// it as a jump target keeps a valid label.
type Instruction struct {
	op        Opcode
	symbol    *Symbol
	signature string
	target    Target

	retired  bool
	address  uint32
	jumpAddr uint32

	index int
	owner *Program
}

func newInstruction(op Opcode) *Instruction {
	return &Instruction{op: op, index: -1}
}

// NewNop creates an explicit no-op. Unlike a retired instruction it
// occupies four bytes.
func NewNop() *Instruction { return newInstruction(OpNop) }

// NewPop creates a POP.
func NewPop() *Instruction { return newInstruction(OpPop) }

// NewCopy creates a COPY.
func NewCopy() *Instruction { return newInstruction(OpCopy) }

// NewPush creates a PUSH of sym's heap address.
func NewPush(sym *Symbol) *Instruction {
	i := newInstruction(OpPush)
	i.symbol = sym
	return i
}

// NewJumpIndirect creates a JUMP_INDIRECT through sym.
func NewJumpIndirect(sym *Symbol) *Instruction {
	i := newInstruction(OpJumpIndirect)
	i.symbol = sym
	return i
}

// NewExtern creates an EXTERN call of signature.
func NewExtern(signature string) *Instruction {
	i := newInstruction(OpExtern)
	i.signature = signature
	return i
}

// NewJump creates an unconditional JUMP.
func NewJump(t Target) *Instruction {
	i := newInstruction(OpJump)
	i.target = t
	return i
}

// NewJumpIfFalse creates a JUMP_IF_FALSE.
func NewJumpIfFalse(t Target) *Instruction {
	i := newInstruction(OpJumpIfFalse)
	i.target = t
	return i
}

// Op returns the instruction's opcode.
func (i *Instruction) Op() Opcode { return i.op }

// Symbol returns the operand of a PUSH or JUMP_INDIRECT.
func (i *Instruction) Symbol() *Symbol { return i.symbol }

// Signature returns the operand of an EXTERN.
func (i *Instruction) Signature() string { return i.signature }

// Target returns the operand of a JUMP or JUMP_IF_FALSE.
func (i *Instruction) Target() Target { return i.target }

// Address returns the byte address assigned by the last ApplyAddresses.
func (i *Instruction) Address() uint32 { return i.address }

// JumpAddress returns the resolved target address of a jump.
func (i *Instruction) JumpAddress() uint32 { return i.jumpAddr }

// Index returns the instruction's arena index in its program, or -1.
func (i *Instruction) Index() int { return i.index }

// Retired reports whether the instruction was converted out.
func (i *Instruction) Retired() bool { return i.retired }

// Size returns the encoded size in bytes. Retired instructions are zero.
func (i *Instruction) Size() uint32 {
	if i.retired {
		return 0
	}
	return i.op.Size()
}

// ConvertToNop retires the instruction in place. The object identity is
// kept so jump targets pointing at it stay valid; it contributes no bytes
// and no text.
func (i *Instruction) ConvertToNop() {
	i.op = OpNop
	i.symbol = nil
	i.signature = ""
	i.target = Target{}
	i.retired = true
	i.touch()
}

func (i *Instruction) touch() {
	if i.owner != nil {
		i.owner.addressed = false
	}
}

// Rebind replaces the symbol operand of a PUSH or JUMP_INDIRECT.
func (i *Instruction) Rebind(sym *Symbol) {
	if i.op.Operand() != OperandSymbol {
		panic(fmt.Sprintf("assembly: Rebind on %s", i.op))
	}
	i.symbol = sym
	i.touch()
}

// Retarget replaces the target of a jump.
func (i *Instruction) Retarget(t Target) {
	if !i.op.IsJump() {
		panic(fmt.Sprintf("assembly: Retarget on %s", i.op))
	}
	i.target = t
	i.touch()
}

// resolve collapses the jump target to a concrete address.
func (i *Instruction) resolve(labels map[string]uint32) error {
	switch i.target.kind {
	case targetInstruction:
		if i.target.instr.owner != i.owner {
			return fmt.Errorf("%w: %s at 0x%08X targets an instruction of another program", ErrMalformedProgram, i.op, i.address)
		}
		i.jumpAddr = i.target.instr.address
	case targetLabel:
		addr, ok := labels[i.target.label]
		if !ok {
			return fmt.Errorf("%w: %q", ErrMissingJumpLabel, i.target.label)
		}
		i.jumpAddr = addr
	case targetAddress:
		i.jumpAddr = i.target.addr
	default:
		return fmt.Errorf("%w: %s at 0x%08X has no target", ErrMalformedProgram, i.op, i.address)
	}
	return nil
}

// Text renders the instruction as `OP[, operand]`. Retired instructions
// render as the empty string.
func (i *Instruction) Text() string {
	if i.retired {
		return ""
	}
	switch i.op.Operand() {
	case OperandSymbol:
		return i.op.String() + ", " + i.symbol.Name()
	case OperandSignature:
		return fmt.Sprintf("%s, \"%s\"", i.op, i.signature)
	case OperandTarget:
		return fmt.Sprintf("%s, 0x%08X", i.op, i.jumpAddr)
	default:
		return i.op.String()
	}
}
