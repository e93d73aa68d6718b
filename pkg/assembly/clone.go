package assembly

import "fmt"

// Remap translates references into a source program to the corresponding
// objects of a derived program. Both tables are indexed by the arena
// index the object had in the source program.
type Remap struct {
	Symbols      []*Symbol
	Instructions []*Instruction

	target *Program
}

// Symbol returns the counterpart of s, or nil if it has none.
func (r *Remap) Symbol(s *Symbol) *Symbol {
	if s == nil {
		return nil
	}
	if r.target != nil && s.owner == r.target.data {
		return s
	}
	if s.index < 0 || s.index >= len(r.Symbols) {
		return nil
	}
	return r.Symbols[s.index]
}

// Instruction returns the counterpart of i, or nil if it has none.
func (r *Remap) Instruction(i *Instruction) *Instruction {
	if i == nil {
		return nil
	}
	if r.target != nil && i.owner == r.target {
		return i
	}
	if i.index < 0 || i.index >= len(r.Instructions) {
		return nil
	}
	return r.Instructions[i.index]
}

// Clone returns a fully independent deep copy of the program together
// with the remap from the original's symbols and instructions to the
// copy's. Constant tables, scratch freelists, variable bindings and
// deferred return addresses are rebuilt against the copy.
func (p *Program) Clone() (*Program, *Remap, error) {
	q := newEmptyProgram(p.registry)
	q.code.updateOrder = p.code.updateOrder
	remap := &Remap{
		Symbols:      make([]*Symbol, len(p.data.order)),
		Instructions: make([]*Instruction, len(p.instrs)),
		target:       q,
	}

	for i, s := range p.data.order {
		c := q.data.add(s.name, s.typ)
		c.value = s.value
		c.exported = s.exported
		c.sync = s.sync
		c.synced = s.synced
		c.constant = s.constant
		c.borrowed = s.borrowed
		c.address = s.address
		remap.Symbols[i] = c
	}
	for i, s := range p.data.order {
		if s.shadow != nil {
			remap.Symbols[i].shadow = remap.Symbols[s.shadow.index]
		}
	}
	q.data.counter = p.data.counter

	for typ, table := range p.data.constants {
		ct := make(map[any]*Symbol, len(table))
		for v, s := range table {
			ct[v] = remap.Symbols[s.index]
		}
		q.data.constants[typ] = ct
	}
	for typ, free := range p.data.scratch {
		cf := make([]*Symbol, len(free))
		for i, s := range free {
			cf[i] = remap.Symbols[s.index]
		}
		q.data.scratch[typ] = cf
	}
	for id, s := range p.data.variables {
		q.data.variables[id] = remap.Symbols[s.index]
	}

	for i, ins := range p.instrs {
		c := &Instruction{
			op:        ins.op,
			signature: ins.signature,
			retired:   ins.retired,
			address:   ins.address,
			jumpAddr:  ins.jumpAddr,
			index:     i,
			owner:     q,
		}
		q.instrs = append(q.instrs, c)
		remap.Instructions[i] = c
	}
	for i, ins := range p.instrs {
		c := remap.Instructions[i]
		if ins.symbol != nil {
			if ins.symbol.owner != p.data {
				return nil, nil, fmt.Errorf("%w: %s pushes symbol %s of another program", ErrMalformedProgram, ins.op, ins.symbol.name)
			}
			c.symbol = remap.Symbols[ins.symbol.index]
		}
		c.target = ins.target
		if t := ins.target.instr; t != nil {
			if t.owner != p {
				return nil, nil, fmt.Errorf("%w: %s targets an instruction of another program", ErrMalformedProgram, ins.op)
			}
			c.target.instr = remap.Instructions[t.index]
		}
	}

	for _, r := range p.data.returns {
		after := remap.Instruction(r.after)
		if after == nil {
			// Call site built but never appended.
			after = r.after
		}
		q.data.returns = append(q.data.returns, returnFixup{
			symbol: remap.Symbols[r.symbol.index],
			after:  after,
		})
	}

	for _, m := range p.code.order {
		cm := &Method{
			name:         m.name,
			exported:     m.exported,
			start:        m.start,
			entry:        m.entry,
			finished:     m.finished,
			conventional: m.conventional,
			end:          remap.Instructions[m.end.index],
			instrs:       mapInstructions(remap, m.instrs),
			trailer:      mapInstructions(remap, m.trailer),
			epilogue:     mapInstructions(remap, m.epilogue),
			program:      q,
		}
		q.code.add(cm)
	}

	q.diagnostics = append(q.diagnostics, p.diagnostics...)
	q.addressed = p.addressed
	return q, remap, nil
}

func mapInstructions(r *Remap, in []*Instruction) []*Instruction {
	if in == nil {
		return nil
	}
	out := make([]*Instruction, len(in))
	for i, ins := range in {
		out[i] = r.Instructions[ins.index]
	}
	return out
}
