package assembly

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/registry"
)

// DisasmSymbol is one heap slot of a disassembled program.
type DisasmSymbol struct {
	Address  uint32
	Name     string
	Type     Type
	Exported bool
	Synced   bool
	Sync     SyncMode
}

// DisasmEntry is a method label and the address of its first instruction.
type DisasmEntry struct {
	Name     string
	Address  uint32
	Exported bool
}

// DisasmInstruction is one VM-level instruction. Operand holds the heap
// address for PUSH and JUMP_INDIRECT and the jump address for JUMP and
// JUMP_IF_FALSE; Signature holds the EXTERN operand.
type DisasmInstruction struct {
	Address   uint32
	Op        Opcode
	Operand   uint32
	Signature string
}

// Disassembly is an already-compiled program at VM level: a symbol table
// keyed by heap address, method entries and a flat instruction stream.
type Disassembly struct {
	Symbols      []DisasmSymbol
	Entries      []DisasmEntry
	Instructions []DisasmInstruction
	UpdateOrder  int
}

// SymbolAt returns the symbol at a heap address.
func (d *Disassembly) SymbolAt(addr uint32) (DisasmSymbol, bool) {
	i := sort.Search(len(d.Symbols), func(i int) bool { return d.Symbols[i].Address >= addr })
	if i < len(d.Symbols) && d.Symbols[i].Address == addr {
		return d.Symbols[i], true
	}
	return DisasmSymbol{}, false
}

// Size returns the byte size of the instruction stream.
func (d *Disassembly) Size() uint32 {
	if len(d.Instructions) == 0 {
		return 0
	}
	last := d.Instructions[len(d.Instructions)-1]
	return last.Address + last.Op.Size()
}

// Disassemble lowers an addressed program to its VM-level form.
func (p *Program) Disassemble() (*Disassembly, error) {
	if !p.addressed {
		return nil, ErrNotAddressed
	}
	d := &Disassembly{UpdateOrder: p.code.updateOrder}
	for _, s := range p.data.order {
		d.Symbols = append(d.Symbols, DisasmSymbol{
			Address:  s.address,
			Name:     s.name,
			Type:     s.typ,
			Exported: s.exported,
			Synced:   s.synced,
			Sync:     s.sync,
		})
	}
	for _, m := range p.code.order {
		d.Entries = append(d.Entries, DisasmEntry{Name: m.name, Address: m.start, Exported: m.exported})
		for _, ins := range m.instrs {
			if ins.retired {
				continue
			}
			di := DisasmInstruction{Address: ins.address, Op: ins.op}
			switch ins.op.Operand() {
			case OperandSymbol:
				di.Operand = ins.symbol.address
			case OperandTarget:
				di.Operand = ins.jumpAddr
			case OperandSignature:
				di.Signature = ins.signature
			}
			d.Instructions = append(d.Instructions, di)
		}
	}
	return d, nil
}

// ReadText parses the assembly text format back into a Disassembly.
// Heap addresses are assigned in declaration order and instruction
// addresses from opcode sizes, exactly as ApplyAddresses lays them out.
func ReadText(r io.Reader) (*Disassembly, error) {
	const (
		outside = iota
		inData
		inCode
	)
	var (
		d        = &Disassembly{}
		section  = outside
		byName   = make(map[string]int)
		exports  = make(map[string]bool)
		syncs    = make(map[string]SyncMode)
		methods  = make(map[string]bool)
		pc       uint32
		lineNo   int
		pendings []struct {
			at   int
			name string
			line int
		}
	)
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: line %d: %s", ErrMalformedProgram, lineNo, fmt.Sprintf(format, args...))
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch line {
		case ".data_start":
			section = inData
			continue
		case ".data_end", ".code_end":
			section = outside
			continue
		case ".code_start":
			section = inCode
			continue
		}

		switch section {
		case inData:
			if rest, ok := strings.CutPrefix(line, ".export "); ok {
				exports[strings.TrimSpace(rest)] = true
				continue
			}
			if rest, ok := strings.CutPrefix(line, ".sync "); ok {
				name, mode, ok := strings.Cut(rest, ",")
				if !ok {
					return nil, fail("bad .sync directive %q", line)
				}
				sm, err := ParseSyncMode(strings.TrimSpace(mode))
				if err != nil {
					return nil, fail("%v", err)
				}
				syncs[strings.TrimSpace(name)] = sm
				continue
			}
			name, decl, ok := strings.Cut(line, ":")
			if !ok {
				return nil, fail("bad declaration %q", line)
			}
			sig, _, ok := strings.Cut(strings.TrimSpace(decl), ",")
			sig = strings.TrimSpace(sig)
			if !ok || !strings.HasPrefix(sig, "%") {
				return nil, fail("bad declaration %q", line)
			}
			name = strings.TrimSpace(name)
			if _, dup := byName[name]; dup {
				return nil, fail("symbol %q declared twice", name)
			}
			byName[name] = len(d.Symbols)
			d.Symbols = append(d.Symbols, DisasmSymbol{
				Address: uint32(len(d.Symbols) * symbolStride),
				Name:    name,
				Type:    Type(sig[1:]),
			})

		case inCode:
			if rest, ok := strings.CutPrefix(line, ".update_order "); ok {
				n, err := strconv.Atoi(strings.TrimSpace(rest))
				if err != nil {
					return nil, fail("bad update order %q", rest)
				}
				d.UpdateOrder = n
				continue
			}
			if rest, ok := strings.CutPrefix(line, ".export "); ok {
				methods[strings.TrimSpace(rest)] = true
				continue
			}
			if label, ok := strings.CutSuffix(line, ":"); ok {
				d.Entries = append(d.Entries, DisasmEntry{Name: label, Address: pc})
				continue
			}

			opName, operand, hasOperand := strings.Cut(line, ",")
			op, ok := ParseOpcode(strings.TrimSpace(opName))
			if !ok {
				return nil, fail("unknown operation %q", opName)
			}
			operand = strings.TrimSpace(operand)
			if hasOperand != (op.Operand() != OperandNone) {
				return nil, fail("%s: wrong operand count", op)
			}
			di := DisasmInstruction{Address: pc, Op: op}
			switch op.Operand() {
			case OperandSymbol:
				pendings = append(pendings, struct {
					at   int
					name string
					line int
				}{len(d.Instructions), operand, lineNo})
			case OperandTarget:
				v, err := strconv.ParseUint(operand, 0, 32)
				if err != nil {
					return nil, fail("bad jump address %q", operand)
				}
				di.Operand = uint32(v)
			case OperandSignature:
				if len(operand) < 2 || operand[0] != '"' || operand[len(operand)-1] != '"' {
					return nil, fail("unquoted signature %s", operand)
				}
				di.Signature = operand[1 : len(operand)-1]
			}
			d.Instructions = append(d.Instructions, di)
			pc += op.Size()

		default:
			return nil, fail("%q outside a section", line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	for _, pd := range pendings {
		i, ok := byName[pd.name]
		if !ok {
			return nil, fmt.Errorf("%w: line %d: %q", ErrUnresolvedSymbol, pd.line, pd.name)
		}
		d.Instructions[pd.at].Operand = d.Symbols[i].Address
	}
	for name := range exports {
		i, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: exported %q", ErrUnresolvedSymbol, name)
		}
		d.Symbols[i].Exported = true
	}
	for name, mode := range syncs {
		i, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: synced %q", ErrUnresolvedSymbol, name)
		}
		d.Symbols[i].Synced = true
		d.Symbols[i].Sync = mode
	}
	for i := range d.Entries {
		d.Entries[i].Exported = methods[d.Entries[i].Name]
	}
	return d, nil
}

// Rebuild reconstructs IR from a Disassembly. Operands of PUSH and
// JUMP_INDIRECT are resolved through the symbol table. Jumps are resolved
// in a second pass: an address where an instruction starts becomes a
// reference to it, the end of the program becomes the last method's
// terminal marker, and anything else stays a raw address target.
//
// Methods are rebuilt raw and already finished; whatever calling
// convention the code carries is left for a linker pass to classify.
func Rebuild(d *Disassembly, reg *registry.Registry) (*Program, error) {
	p := newEmptyProgram(reg)
	p.code.updateOrder = d.UpdateOrder

	syms := make([]DisasmSymbol, len(d.Symbols))
	copy(syms, d.Symbols)
	sort.SliceStable(syms, func(i, j int) bool { return syms[i].Address < syms[j].Address })
	heap := make(map[uint32]*Symbol, len(syms))
	for _, ds := range syms {
		if _, dup := p.data.Lookup(ds.Name); dup {
			return nil, fmt.Errorf("%w: symbol %q declared twice", ErrMalformedProgram, ds.Name)
		}
		s := p.data.add(ds.Name, ds.Type)
		s.exported = ds.Exported
		if ds.Synced {
			s.SetSync(ds.Sync)
		}
		for _, sp := range specials {
			if sp.name == ds.Name {
				s.value = sp.value
			}
		}
		heap[ds.Address] = s
	}

	entries := make([]DisasmEntry, len(d.Entries))
	copy(entries, d.Entries)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Address < entries[j].Address })
	if len(d.Instructions) > 0 && (len(entries) == 0 || d.Instructions[0].Address < entries[0].Address) {
		return nil, fmt.Errorf("%w: code before the first method label", ErrMalformedProgram)
	}

	ms := make([]*Method, len(entries))
	for i, e := range entries {
		m, err := p.AddRawMethod(e.Name, e.Exported)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedProgram, err)
		}
		ms[i] = m
	}

	type jump struct {
		ins  *Instruction
		addr uint32
	}
	var jumps []jump
	at := make(map[uint32]*Instruction, len(d.Instructions))
	cur := -1
	for _, di := range d.Instructions {
		for cur+1 < len(entries) && entries[cur+1].Address <= di.Address {
			cur++
		}
		var ins *Instruction
		switch di.Op.Operand() {
		case OperandSymbol:
			s, ok := heap[di.Operand]
			if !ok {
				return nil, fmt.Errorf("%w: %s at 0x%08X references heap address 0x%08X", ErrUnresolvedSymbol, di.Op, di.Address, di.Operand)
			}
			ins = newInstruction(di.Op)
			ins.symbol = s
		case OperandSignature:
			ins = NewExtern(di.Signature)
		case OperandTarget:
			ins = newInstruction(di.Op)
			jumps = append(jumps, jump{ins, di.Operand})
		default:
			if _, known := opcodeInfoTable[di.Op]; !known {
				return nil, fmt.Errorf("%w: unknown opcode 0x%02X at 0x%08X", ErrMalformedProgram, byte(di.Op), di.Address)
			}
			ins = newInstruction(di.Op)
		}
		ms[cur].Append(ins)
		if _, seen := at[di.Address]; !seen {
			at[di.Address] = ins
		}
	}

	for _, m := range ms {
		m.finish()
	}

	end := d.Size()
	for _, j := range jumps {
		switch t, ok := at[j.addr]; {
		case ok:
			j.ins.target = TargetOf(t)
		case j.addr == end && len(ms) > 0:
			j.ins.target = TargetOf(ms[len(ms)-1].end)
		default:
			j.ins.target = AddressTarget(j.addr)
		}
	}

	log.Debugf("rebuilt %d methods, %d symbols, %d instructions", len(ms), len(syms), len(d.Instructions))
	return p, nil
}

// Listing writes an annotated, addressed listing of the disassembly.
func (d *Disassembly) Listing(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "; Symbols (%d)\n", len(d.Symbols))
	for _, s := range d.Symbols {
		flags := ""
		if s.Exported {
			flags += " [EXPORT]"
		}
		if s.Synced {
			flags += " [SYNC " + s.Sync.String() + "]"
		}
		fmt.Fprintf(bw, ";   0x%08X %s: %%%s%s\n", s.Address, s.Name, s.Type.Signature(), flags)
	}
	if d.UpdateOrder != 0 {
		fmt.Fprintf(bw, "; Update order: %d\n", d.UpdateOrder)
	}

	next := 0
	for _, ins := range d.Instructions {
		for next < len(d.Entries) && d.Entries[next].Address <= ins.Address {
			e := d.Entries[next]
			if e.Exported {
				fmt.Fprintf(bw, "\n%s: ; exported\n", e.Name)
			} else {
				fmt.Fprintf(bw, "\n%s:\n", e.Name)
			}
			next++
		}
		switch ins.Op.Operand() {
		case OperandSymbol:
			name := "?"
			if s, ok := d.SymbolAt(ins.Operand); ok {
				name = s.Name
			}
			fmt.Fprintf(bw, "  0x%08X  %-14s 0x%08X ; %s\n", ins.Address, ins.Op, ins.Operand, name)
		case OperandTarget:
			fmt.Fprintf(bw, "  0x%08X  %-14s 0x%08X\n", ins.Address, ins.Op, ins.Operand)
		case OperandSignature:
			fmt.Fprintf(bw, "  0x%08X  %-14s %q\n", ins.Address, ins.Op, ins.Signature)
		default:
			fmt.Fprintf(bw, "  0x%08X  %s\n", ins.Address, ins.Op)
		}
	}
	for ; next < len(d.Entries); next++ {
		fmt.Fprintf(bw, "\n%s:\n", d.Entries[next].Name)
	}
	return bw.Flush()
}
