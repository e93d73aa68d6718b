package assembly

// Merge moves every method and symbol of each other program into base.
//
// Methods whose name base already has are dropped: the first writer wins.
// Jumps into a dropped method are retargeted to base's definition: its
// terminal marker when they targeted the dropped marker, its entry
// otherwise.
// Symbols whose name base already has are not copied; instructions that
// referenced them are rebound to base's symbol. A clash on a reserved name
// is expected and silent, any other clash is reported as a NameCollision
// diagnostic on base.
//
// The other programs are consumed and left empty. One Remap is returned
// per other program, indexed by the arena indices objects had there.
func Merge(base *Program, others ...*Program) []*Remap {
	remaps := make([]*Remap, 0, len(others))
	for _, other := range others {
		remaps = append(remaps, base.absorb(other))
	}
	return remaps
}

func (p *Program) absorb(other *Program) *Remap {
	remap := &Remap{
		Symbols:      make([]*Symbol, len(other.data.order)),
		Instructions: make([]*Instruction, len(other.instrs)),
		target:       p,
	}

	// Decide the fate of every symbol before anything moves.
	var adoptedSyms []*Symbol
	for i, s := range other.data.order {
		if existing, ok := p.data.Lookup(s.name); ok {
			if !p.IsReserved(s.name) {
				p.report(Diagnostic{
					Err:     ErrNameCollision,
					Subject: s.name,
					Message: "symbol already defined; keeping the first definition",
				})
			}
			remap.Symbols[i] = existing
			continue
		}
		remap.Symbols[i] = s
		adoptedSyms = append(adoptedSyms, s)
	}

	var adoptedMethods []*Method
	kept := make(map[*Instruction]*Method)
	ends := make(map[*Instruction]bool)
	for _, m := range other.code.order {
		if survivor, ok := p.code.Lookup(m.name); ok {
			p.report(Diagnostic{
				Err:     ErrNameCollision,
				Subject: m.name,
				Message: "method already defined; dropping the later definition",
			})
			for _, ins := range m.all() {
				kept[ins] = survivor
			}
			ends[m.end] = true
			continue
		}
		adoptedMethods = append(adoptedMethods, m)
	}

	var adoptedInstrs []*Instruction
	for _, m := range adoptedMethods {
		for _, ins := range m.all() {
			remap.Instructions[ins.index] = ins
			adoptedInstrs = append(adoptedInstrs, ins)
		}
	}

	// Rebind operands while indices still refer to other's arenas.
	for _, ins := range adoptedInstrs {
		if ins.symbol != nil && ins.symbol.owner == other.data {
			ins.symbol = remap.Symbols[ins.symbol.index]
		}
		if t := ins.target.instr; t != nil && t.owner == other && remap.Instructions[t.index] == nil {
			survivor, ok := kept[t]
			if !ok {
				// Not owned by any method; nothing to retarget to.
				p.report(Diagnostic{
					Err:     ErrNameCollision,
					Subject: other.methodOf(t),
					Message: "jump to an orphaned instruction; target left unresolved",
				})
				continue
			}
			if ends[t] {
				ins.target = TargetOf(survivor.end)
			} else {
				ins.target = LabelTarget(survivor.name)
			}
			p.report(Diagnostic{
				Err:     ErrNameCollision,
				Subject: survivor.name,
				Message: "jump into a dropped method; retargeted to the kept definition",
			})
		}
	}
	for _, s := range adoptedSyms {
		if s.shadow != nil {
			s.shadow = remap.Symbols[s.shadow.index]
		}
	}

	for typ, table := range other.data.constants {
		bt := p.data.constants[typ]
		if bt == nil {
			bt = make(map[any]*Symbol, len(table))
			p.data.constants[typ] = bt
		}
		for v, s := range table {
			if _, ok := bt[v]; !ok {
				bt[v] = remap.Symbols[s.index]
			}
		}
	}
	for id, s := range other.data.variables {
		if _, ok := p.data.variables[id]; !ok {
			p.data.variables[id] = remap.Symbols[s.index]
		}
	}
	var returns []returnFixup
	for _, r := range other.data.returns {
		if r.after.owner == other && remap.Instructions[r.after.index] == nil {
			continue
		}
		returns = append(returns, returnFixup{symbol: remap.Symbols[r.symbol.index], after: r.after})
	}

	// Move everything into base's arenas.
	for _, s := range adoptedSyms {
		s.index = len(p.data.order)
		s.owner = p.data
		p.data.symbols[s.name] = s
		p.data.order = append(p.data.order, s)
	}
	p.data.returns = append(p.data.returns, returns...)
	if other.data.counter > p.data.counter {
		p.data.counter = other.data.counter
	}
	for _, ins := range adoptedInstrs {
		ins.owner = p
		ins.index = len(p.instrs)
		p.instrs = append(p.instrs, ins)
	}
	for _, m := range adoptedMethods {
		m.program = p
		p.code.add(m)
	}
	if p.code.updateOrder == 0 {
		p.code.updateOrder = other.code.updateOrder
	}

	p.addressed = false
	*other = *newEmptyProgram(other.registry)
	return remap
}

// methodOf names the method that owns ins, for diagnostics.
func (p *Program) methodOf(ins *Instruction) string {
	for _, m := range p.code.order {
		for _, x := range m.all() {
			if x == ins {
				return m.name
			}
		}
	}
	return "?"
}
