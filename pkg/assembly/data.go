package assembly

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/registry"
)

// maxScratchPerType bounds how many released scratch symbols of one type
// are kept for reuse.
const maxScratchPerType = 8

// symbolStride is the heap address step between consecutive symbols.
const symbolStride = 4

// VarID is the front end's opaque identifier for a user-declared variable.
type VarID string

// VarOptions carries the per-variable metadata supplied at declaration.
type VarOptions struct {
	Export       bool
	Synced       bool
	Sync         SyncMode
	NotifyChange bool // allocate a "previous value" shadow symbol
}

type returnFixup struct {
	symbol *Symbol
	after  *Instruction
}

// DataSegment is the symbol table of one program. Symbols are kept in
// insertion order; that order is the heap layout and the export order.
type DataSegment struct {
	symbols   map[string]*Symbol
	order     []*Symbol
	counter   int
	constants map[Type]map[any]*Symbol
	scratch   map[Type][]*Symbol
	variables map[VarID]*Symbol
	returns   []returnFixup
	registry  *registry.Registry
}

func newDataSegment(reg *registry.Registry) *DataSegment {
	return &DataSegment{
		symbols:   make(map[string]*Symbol),
		constants: make(map[Type]map[any]*Symbol),
		scratch:   make(map[Type][]*Symbol),
		variables: make(map[VarID]*Symbol),
		registry:  reg,
	}
}

func (d *DataSegment) add(name string, typ Type) *Symbol {
	s := &Symbol{name: name, typ: typ, index: len(d.order), owner: d}
	d.symbols[name] = s
	d.order = append(d.order, s)
	return s
}

// Len returns the number of symbols.
func (d *DataSegment) Len() int { return len(d.order) }

// Symbols returns all symbols in heap order.
func (d *DataSegment) Symbols() []*Symbol {
	out := make([]*Symbol, len(d.order))
	copy(out, d.order)
	return out
}

// Lookup finds a symbol by physical name.
func (d *DataSegment) Lookup(name string) (*Symbol, bool) {
	s, ok := d.symbols[name]
	return s, ok
}

// Allocate creates a fresh symbol for a logical name. The physical name
// embeds the sanitized name, the type signature and a monotonic counter,
// so repeated logical names never clash.
func (d *DataSegment) Allocate(name string, typ Type) *Symbol {
	for {
		d.counter++
		physical := fmt.Sprintf("__%s_%s_%d", sanitize(name), typ.Signature(), d.counter)
		if _, taken := d.symbols[physical]; !taken {
			return d.add(physical, typ)
		}
	}
}

// Named returns the symbol with exactly this physical name, creating it if
// needed. An existing symbol of a different type is a collision.
func (d *DataSegment) Named(name string, typ Type) (*Symbol, error) {
	if s, ok := d.symbols[name]; ok {
		if s.typ.Signature() != typ.Signature() {
			return nil, fmt.Errorf("%w: %s is %s, requested %s", ErrNameCollision, name, s.typ, typ)
		}
		return s, nil
	}
	return d.add(name, typ), nil
}

// DeclareVariable binds a user variable to a new symbol with the given
// physical name.
func (d *DataSegment) DeclareVariable(id VarID, name string, typ Type, value any, opts VarOptions) (*Symbol, error) {
	if _, ok := d.variables[id]; ok {
		return nil, fmt.Errorf("%w: variable %q declared twice", ErrNameCollision, id)
	}
	if _, taken := d.symbols[name]; taken {
		return nil, fmt.Errorf("%w: symbol %q already exists", ErrNameCollision, name)
	}

	s := d.add(name, typ)
	s.value = value
	s.exported = opts.Export
	if opts.Synced {
		s.SetSync(opts.Sync)
	}

	if opts.NotifyChange {
		shadowName := "__old_" + name
		if _, taken := d.symbols[shadowName]; taken {
			return nil, fmt.Errorf("%w: shadow %q already exists", ErrNameCollision, shadowName)
		}
		shadow := d.add(shadowName, typ)
		shadow.value = value
		s.shadow = shadow
	}

	d.variables[id] = s
	return s, nil
}

// Variable resolves a user variable to its symbol.
func (d *DataSegment) Variable(id VarID) (*Symbol, error) {
	s, ok := d.variables[id]
	if !ok {
		return nil, fmt.Errorf("%w: variable %q", ErrUnresolvedSymbol, id)
	}
	return s, nil
}

// ForgetVariable drops the binding for id. The symbol itself stays in the
// segment so addresses computed elsewhere remain valid.
func (d *DataSegment) ForgetVariable(id VarID) {
	delete(d.variables, id)
}

// Constant returns the shared constant symbol for (typ, value), creating it
// on first use.
func (d *DataSegment) Constant(typ Type, value any) (*Symbol, error) {
	if value == nil {
		return nil, fmt.Errorf("%w: nil %s", ErrInvalidConstant, typ)
	}
	if d.registry != nil && d.registry.IsExternalType(string(typ)) {
		return nil, fmt.Errorf("%w: %s is an externally-owned resource type", ErrInvalidConstant, typ)
	}
	if !reflect.ValueOf(value).Comparable() {
		return nil, fmt.Errorf("%w: %T value for %s is not comparable", ErrInvalidConstant, value, typ)
	}

	table := d.constants[typ]
	if table == nil {
		table = make(map[any]*Symbol)
		d.constants[typ] = table
	}
	if s, ok := table[value]; ok {
		return s, nil
	}

	s := d.Allocate("const", typ)
	s.value = value
	s.constant = true
	table[value] = s
	return s, nil
}

// Borrow takes a scratch symbol of typ from the freelist, allocating one
// when the list is empty. Return it with Release when done.
func (d *DataSegment) Borrow(typ Type) *Symbol {
	var s *Symbol
	free := d.scratch[typ]
	if n := len(free); n > 0 {
		s = free[n-1]
		d.scratch[typ] = free[:n-1]
	} else {
		s = d.Allocate("tmp", typ)
	}
	s.borrowed = true
	return s
}

// Release returns a scratch symbol to the freelist. Symbols that are not
// currently borrowed are ignored. Once the list for its type is full the
// symbol is simply no longer reused.
func (d *DataSegment) Release(s *Symbol) {
	if s == nil || s.owner != d || !s.borrowed {
		if s != nil {
			log.Debugf("ignoring release of %s: not borrowed", s.name)
		}
		return
	}
	s.borrowed = false
	if len(d.scratch[s.typ]) >= maxScratchPerType {
		return
	}
	d.scratch[s.typ] = append(d.scratch[s.typ], s)
}

// ReturnAddress allocates a symbol whose value is set, after addresses are
// assigned, to the address immediately following after.
func (d *DataSegment) ReturnAddress(after *Instruction) *Symbol {
	s := d.Allocate("return_to", TypeUInt32)
	d.returns = append(d.returns, returnFixup{symbol: s, after: after})
	return s
}

func (d *DataSegment) applyAddresses() {
	for i, s := range d.order {
		s.index = i
		s.address = uint32(i * symbolStride)
	}
}

func (d *DataSegment) resolveReturns() {
	for _, r := range d.returns {
		r.symbol.value = r.after.address + r.after.Size()
	}
}

func (d *DataSegment) export(sb *strings.Builder) {
	sb.WriteString(".data_start\n")
	for _, s := range d.order {
		if s.exported {
			fmt.Fprintf(sb, "  .export %s\n", s.name)
		}
	}
	for _, s := range d.order {
		if s.exported && s.synced {
			fmt.Fprintf(sb, "  .sync %s, %s\n", s.name, s.sync)
		}
	}
	for _, s := range d.order {
		sb.WriteString("  ")
		sb.WriteString(s.declaration())
		sb.WriteByte('\n')
	}
	sb.WriteString(".data_end\n")
}
