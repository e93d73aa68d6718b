package assembly

import (
	"fmt"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/registry"
)

var log = commonlog.GetLogger("udonasm.assembly")

// Reserved special symbol names. Every program has exactly one of each;
// they are never namespaced.
const (
	NullName          = "__null"
	ReturnAddressName = "__return_address"
	EndAddressName    = "__end_address"
	ActionJumpName    = "__action_jump_address"
	DispatchQueueName = "__dispatch_queue"
	ReturnValueName   = "__return_value"
	ThisName          = "__this"
)

// EndOfProgram is the sentinel address that halts the VM when jumped to.
const EndOfProgram uint32 = 0xFFFFFFFC

type special struct {
	name  string
	typ   Type
	value any
}

var specials = []special{
	{NullName, TypeObject, nil},
	{ReturnAddressName, TypeUInt32, uint32(0xFFFFFFFF)},
	{EndAddressName, TypeUInt32, EndOfProgram},
	{ActionJumpName, TypeUInt32, EndOfProgram},
	{DispatchQueueName, TypeObject, nil},
	{ReturnValueName, TypeObject, nil},
	{ThisName, TypeUdonBehaviour, nil},
}

// IsSpecialName reports whether name is one of the fixed special symbols.
func IsSpecialName(name string) bool {
	for _, s := range specials {
		if s.name == name {
			return true
		}
	}
	return false
}

// Program pairs one code segment with one data segment and owns the
// assembly pipeline: Finish, ApplyAddresses, Export.
type Program struct {
	code     *CodeSegment
	data     *DataSegment
	registry *registry.Registry

	instrs      []*Instruction
	diagnostics []Diagnostic
	addressed   bool
}

// NewProgram creates a program with the special symbols allocated.
// A nil registry means registry.Default().
func NewProgram(reg *registry.Registry) *Program {
	p := newEmptyProgram(reg)
	p.EnsureSpecials()
	return p
}

func newEmptyProgram(reg *registry.Registry) *Program {
	if reg == nil {
		reg = registry.Default()
	}
	return &Program{
		code:     newCodeSegment(),
		data:     newDataSegment(reg),
		registry: reg,
	}
}

// Code returns the code segment.
func (p *Program) Code() *CodeSegment { return p.code }

// Data returns the data segment.
func (p *Program) Data() *DataSegment { return p.data }

// Registry returns the registry the program was created with.
func (p *Program) Registry() *registry.Registry { return p.registry }

// Diagnostics returns the recoverable problems reported so far.
func (p *Program) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(p.diagnostics))
	copy(out, p.diagnostics)
	return out
}

func (p *Program) report(d Diagnostic) {
	log.Warningf("%s", d.Error())
	p.diagnostics = append(p.diagnostics, d)
}

// IsReserved reports whether a symbol name is exempt from namespacing:
// the special symbols and every registry-reserved name.
func (p *Program) IsReserved(name string) bool {
	return IsSpecialName(name) || p.registry.IsReserved(name)
}

// EnsureSpecials allocates any special symbol the program lacks.
func (p *Program) EnsureSpecials() {
	for _, s := range specials {
		if _, ok := p.data.Lookup(s.name); ok {
			continue
		}
		sym := p.data.add(s.name, s.typ)
		sym.value = s.value
	}
}

// Special returns the named special symbol, allocating it if needed.
// It panics if name is not a special symbol name.
func (p *Program) Special(name string) *Symbol {
	if sym, ok := p.data.Lookup(name); ok {
		return sym
	}
	for _, s := range specials {
		if s.name == name {
			sym := p.data.add(s.name, s.typ)
			sym.value = s.value
			return sym
		}
	}
	panic(fmt.Sprintf("assembly: %q is not a special symbol", name))
}

// Null returns the shared null constant.
func (p *Program) Null() *Symbol { return p.Special(NullName) }

// This returns the symbol referring to the running behaviour.
func (p *Program) This() *Symbol { return p.Special(ThisName) }

func (p *Program) register(ins *Instruction) {
	if ins.owner != nil {
		panic(fmt.Sprintf("assembly: %s instruction already belongs to a program", ins.op))
	}
	ins.owner = p
	ins.index = len(p.instrs)
	p.instrs = append(p.instrs, ins)
	p.addressed = false
}

// AddMethod adds a method with the calling convention installed.
func (p *Program) AddMethod(name string, exported bool) (*Method, error) {
	m, err := p.AddRawMethod(name, exported)
	if err != nil {
		return nil, err
	}
	m.InstallConvention()
	return m, nil
}

// AddRawMethod adds a method without the calling convention, for foreign
// code that is rebuilt or retrofitted later.
func (p *Program) AddRawMethod(name string, exported bool) (*Method, error) {
	if _, ok := p.code.Lookup(name); ok {
		return nil, fmt.Errorf("%w: method %q already exists", ErrNameCollision, name)
	}
	m := newMethod(p, name, exported)
	p.code.add(m)
	p.addressed = false
	return m, nil
}

// Method finds a method by name.
func (p *Program) Method(name string) (*Method, bool) {
	return p.code.Lookup(name)
}

// Methods returns the methods in layout order.
func (p *Program) Methods() []*Method { return p.code.Methods() }

// Finish materializes event-parameter symbols for every event method and
// lays out each method's terminal marker and trailer.
func (p *Program) Finish() error {
	for _, m := range p.code.order {
		e, ok := p.registry.Event(m.name)
		if !ok {
			continue
		}
		for _, param := range e.Params {
			if _, err := p.data.Named(param.Name, Type(param.Type)); err != nil {
				return fmt.Errorf("event %s parameter: %w", m.name, err)
			}
		}
	}
	p.code.finish()
	p.addressed = false
	return nil
}

// ApplyAddresses assigns heap addresses to symbols and byte addresses to
// instructions, resolves every jump, then sets each deferred return
// address symbol to the address following its instruction.
func (p *Program) ApplyAddresses() error {
	p.addressed = false
	p.data.applyAddresses()
	if _, err := p.code.applyAddresses(); err != nil {
		return err
	}
	p.data.resolveReturns()
	p.addressed = true
	return nil
}

// Size returns the laid-out code size in bytes.
func (p *Program) Size() uint32 { return p.code.size() }

// Export renders the program as assembly text. ApplyAddresses must have
// succeeded since the last change.
func (p *Program) Export() (string, error) {
	if !p.addressed {
		return "", ErrNotAddressed
	}
	var sb strings.Builder
	p.data.export(&sb)
	p.code.export(&sb)
	return sb.String(), nil
}

// Assemble runs Finish, ApplyAddresses and Export.
func (p *Program) Assemble() (string, error) {
	if err := p.Finish(); err != nil {
		return "", err
	}
	if err := p.ApplyAddresses(); err != nil {
		return "", err
	}
	return p.Export()
}
