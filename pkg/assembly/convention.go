package assembly

// The VM has no call or return instruction. Calls are simulated:
//
//	preamble (first instruction):  PUSH __end_address
//	call site:                     PUSH <return address>; JUMP <callee entry>
//	epilogue (after End()):        PUSH __return_address; COPY; JUMP_INDIRECT __return_address
//
// An event entered by the VM runs the preamble, so its epilogue copies the
// end sentinel and halts. A caller jumps past the preamble with its own
// return address already on the stack.

// InstallConvention inserts the preamble at the start of the method and
// schedules the epilogue after the terminal marker. It is idempotent.
func (m *Method) InstallConvention() {
	if m.conventional {
		return
	}
	p := m.program
	end := p.Special(EndAddressName)
	ret := p.Special(ReturnAddressName)

	pre := NewPush(end)
	p.register(pre)
	m.insert(0, pre)

	epilogue := []*Instruction{NewPush(ret), NewCopy(), NewJumpIndirect(ret)}
	for _, ins := range epilogue {
		p.register(ins)
	}
	m.epilogue = epilogue
	if m.finished {
		m.instrs = append(m.instrs, epilogue...)
	}
	m.conventional = true
}

// Preamble returns the method's first instruction when the calling
// convention is installed, or nil.
func (m *Method) Preamble() *Instruction {
	if !m.conventional || len(m.instrs) == 0 {
		return nil
	}
	return m.instrs[0]
}

// Epilogue returns the return sequence installed by InstallConvention.
func (m *Method) Epilogue() []*Instruction {
	out := make([]*Instruction, len(m.epilogue))
	copy(out, m.epilogue)
	return out
}

// MarkConventional records that a method already carries its own preamble
// and epilogue, as methods rebuilt from a native listing do.
func (m *Method) MarkConventional() { m.conventional = true }
