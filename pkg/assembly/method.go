package assembly

import "fmt"

// Method is one entry point or callable unit: an ordered instruction
// list, a trailer appended by Finish, and a zero-size terminal marker that
// serves as the "fall off the end" jump target.
type Method struct {
	name     string
	exported bool

	instrs   []*Instruction
	trailer  []*Instruction
	epilogue []*Instruction
	end      *Instruction

	start        uint32
	entry        uint32
	finished     bool
	conventional bool

	program *Program
}

func newMethod(p *Program, name string, exported bool) *Method {
	m := &Method{name: name, exported: exported, program: p}
	m.end = newInstruction(OpNop)
	m.end.retired = true
	p.register(m.end)
	return m
}

// Name returns the method name.
func (m *Method) Name() string { return m.name }

// Exported reports whether the method is an exported entry point.
func (m *Method) Exported() bool { return m.exported }

// SetExported sets the export flag.
func (m *Method) SetExported(b bool) { m.exported = b }

// Finished reports whether Finish has laid out the trailer.
func (m *Method) Finished() bool { return m.finished }

// Conventional reports whether the calling convention is installed.
func (m *Method) Conventional() bool { return m.conventional }

// End returns the terminal marker. Jumping to it runs the trailer and
// returns to the caller.
func (m *Method) End() *Instruction { return m.end }

// Instructions returns the laid-out instruction list. Before Finish this
// is the body only.
func (m *Method) Instructions() []*Instruction {
	out := make([]*Instruction, len(m.instrs))
	copy(out, m.instrs)
	return out
}

// Len returns the number of instructions in the laid-out list.
func (m *Method) Len() int { return len(m.instrs) }

// StartAddress returns the address of the first instruction.
func (m *Method) StartAddress() uint32 { return m.start }

// EntryAddress returns the address callers jump to: the address after the
// first instruction, which is the calling-convention preamble.
func (m *Method) EntryAddress() uint32 { return m.entry }

// Append adds an instruction to the end of the body and returns it.
func (m *Method) Append(ins *Instruction) *Instruction {
	m.program.register(ins)
	if m.finished {
		// Keep the terminal marker and trailer last.
		m.insert(m.indexOf(m.end), ins)
		return ins
	}
	m.instrs = append(m.instrs, ins)
	return ins
}

// AppendTrailer queues an instruction to be laid out after the terminal
// marker when the method is finished.
func (m *Method) AppendTrailer(ins *Instruction) *Instruction {
	m.program.register(ins)
	if m.finished {
		m.insert(len(m.instrs)-len(m.epilogue), ins)
		return ins
	}
	m.trailer = append(m.trailer, ins)
	return ins
}

// InsertAt inserts ins before position pos of the laid-out list.
func (m *Method) InsertAt(pos int, ins *Instruction) error {
	if pos < 0 || pos > len(m.instrs) {
		return fmt.Errorf("insert position %d out of range [0,%d] in %s", pos, len(m.instrs), m.name)
	}
	m.program.register(ins)
	m.insert(pos, ins)
	return nil
}

// InsertAfter inserts ins immediately after anchor.
func (m *Method) InsertAfter(anchor, ins *Instruction) error {
	pos := m.indexOf(anchor)
	if pos < 0 {
		return fmt.Errorf("%w: anchor instruction not in %s", ErrMalformedProgram, m.name)
	}
	return m.InsertAt(pos+1, ins)
}

func (m *Method) insert(pos int, ins *Instruction) {
	m.instrs = append(m.instrs, nil)
	copy(m.instrs[pos+1:], m.instrs[pos:])
	m.instrs[pos] = ins
}

func (m *Method) indexOf(ins *Instruction) int {
	for i, x := range m.instrs {
		if x == ins {
			return i
		}
	}
	return -1
}

// Nop appends an explicit four-byte NOP.
func (m *Method) Nop() *Instruction { return m.Append(NewNop()) }

// Pop appends a POP.
func (m *Method) Pop() *Instruction { return m.Append(NewPop()) }

// Copy appends a COPY.
func (m *Method) Copy() *Instruction { return m.Append(NewCopy()) }

// Push appends a PUSH of sym.
func (m *Method) Push(sym *Symbol) *Instruction { return m.Append(NewPush(sym)) }

// Extern appends an EXTERN call.
func (m *Method) Extern(signature string) *Instruction { return m.Append(NewExtern(signature)) }

// Jump appends a JUMP.
func (m *Method) Jump(t Target) *Instruction { return m.Append(NewJump(t)) }

// JumpIfFalse appends a JUMP_IF_FALSE.
func (m *Method) JumpIfFalse(t Target) *Instruction { return m.Append(NewJumpIfFalse(t)) }

// JumpIndirect appends a JUMP_INDIRECT through sym.
func (m *Method) JumpIndirect(sym *Symbol) *Instruction { return m.Append(NewJumpIndirect(sym)) }

// Call appends a call to the named method: push the address to resume at,
// then jump to the callee's entry. Returns the jump.
func (m *Method) Call(method string) *Instruction {
	jmp := NewJump(LabelTarget(method))
	m.Push(m.program.data.ReturnAddress(jmp))
	return m.Append(jmp)
}

// Return appends a jump to the terminal marker.
func (m *Method) Return() *Instruction {
	return m.Jump(TargetOf(m.end))
}

// finish lays out the terminal marker, the trailer and the epilogue.
func (m *Method) finish() {
	if m.finished {
		return
	}
	m.instrs = append(m.instrs, m.end)
	m.instrs = append(m.instrs, m.trailer...)
	m.instrs = append(m.instrs, m.epilogue...)
	m.trailer = nil
	m.finished = true
}

// applyAddresses assigns running addresses from start and returns the
// address following the method.
func (m *Method) applyAddresses(start uint32) uint32 {
	m.start = start
	addr := start
	for _, ins := range m.instrs {
		ins.address = addr
		addr += ins.Size()
	}
	m.entry = start
	if len(m.instrs) > 0 {
		m.entry = m.instrs[0].address + m.instrs[0].Size()
	}
	if !m.finished {
		// The marker is not laid out yet; keep it pointing past the body.
		m.end.address = addr
	}
	return addr
}

// all returns every instruction the method owns, laid out or pending.
func (m *Method) all() []*Instruction {
	if m.finished {
		return m.instrs
	}
	out := make([]*Instruction, 0, len(m.instrs)+len(m.trailer)+len(m.epilogue)+1)
	out = append(out, m.instrs...)
	out = append(out, m.end)
	out = append(out, m.trailer...)
	out = append(out, m.epilogue...)
	return out
}
