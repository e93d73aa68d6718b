package assembly

import "fmt"

// Renames records the names AddNamespace changed, old name to new.
type Renames struct {
	Methods map[string]string
	Symbols map[string]string
}

// NamespacedMethod returns the name AddNamespace gives a method.
// Exported (dispatchable) and internal methods get distinct sub-prefixes,
// so the two spaces never collide under repeated composition.
func NamespacedMethod(prefix, name string, exported bool) string {
	if exported {
		return "_" + prefix + "_x_" + name
	}
	return prefix + "_i_" + name
}

// NamespacedSymbol returns the name AddNamespace gives a symbol.
func NamespacedSymbol(prefix, name string) string {
	return prefix + "_" + name
}

// ValidNamespace reports whether prefix can be used with AddNamespace.
// Prefixes are restricted to ASCII letters and digits so a namespaced name
// can always be split back unambiguously.
func ValidNamespace(prefix string) bool {
	if prefix == "" {
		return false
	}
	for _, r := range prefix {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// AddNamespace prefixes every non-event method and every non-reserved
// symbol with prefix. Deferred labels naming a renamed method follow the
// rename, and so do pushed string constants whose value is a renamed
// method's old name, since the VM can dispatch a method by name.
func (p *Program) AddNamespace(prefix string) (*Renames, error) {
	if !ValidNamespace(prefix) {
		return nil, fmt.Errorf("invalid namespace %q: want letters and digits only", prefix)
	}
	r := &Renames{
		Methods: make(map[string]string),
		Symbols: make(map[string]string),
	}

	// Plan first so a collision leaves the program untouched.
	type methodRename struct {
		m    *Method
		name string
	}
	var methodPlan []methodRename
	taken := make(map[string]bool)
	for _, m := range p.code.order {
		if p.registry.IsEvent(m.name) {
			taken[m.name] = true
			continue
		}
		n := NamespacedMethod(prefix, m.name, m.exported)
		methodPlan = append(methodPlan, methodRename{m, n})
		r.Methods[m.name] = n
	}
	for _, mr := range methodPlan {
		if taken[mr.name] {
			return nil, fmt.Errorf("%w: namespaced method %q", ErrNameCollision, mr.name)
		}
		taken[mr.name] = true
	}

	type symbolRename struct {
		s    *Symbol
		name string
	}
	var symbolPlan []symbolRename
	taken = make(map[string]bool)
	for _, s := range p.data.order {
		if p.IsReserved(s.name) {
			taken[s.name] = true
			continue
		}
		n := NamespacedSymbol(prefix, s.name)
		symbolPlan = append(symbolPlan, symbolRename{s, n})
		r.Symbols[s.name] = n
	}
	for _, sr := range symbolPlan {
		if taken[sr.name] {
			return nil, fmt.Errorf("%w: namespaced symbol %q", ErrNameCollision, sr.name)
		}
		taken[sr.name] = true
	}

	// Apply. Rename into fresh maps so intermediate states cannot clash.
	p.code.methods = make(map[string]*Method, len(p.code.order))
	for _, m := range p.code.order {
		if n, ok := r.Methods[m.name]; ok {
			m.name = n
		}
		p.code.methods[m.name] = m
	}
	p.data.symbols = make(map[string]*Symbol, len(p.data.order))
	for _, s := range p.data.order {
		if n, ok := r.Symbols[s.name]; ok {
			s.name = n
		}
		p.data.symbols[s.name] = s
	}

	pushed := make(map[*Symbol]bool)
	for _, ins := range p.instrs {
		if ins.target.kind == targetLabel {
			if n, ok := r.Methods[ins.target.label]; ok {
				ins.target.label = n
			}
		}
		if ins.op == OpPush && ins.symbol != nil {
			pushed[ins.symbol] = true
		}
	}

	if table := p.data.constants[TypeString]; table != nil {
		for _, s := range p.data.order {
			if !s.constant || !pushed[s] || s.typ.Signature() != TypeString.Signature() {
				continue
			}
			old, ok := s.value.(string)
			if !ok {
				continue
			}
			n, ok := r.Methods[old]
			if !ok {
				continue
			}
			if table[old] == s {
				delete(table, old)
				if _, exists := table[n]; !exists {
					table[n] = s
				}
			}
			s.value = n
		}
	}

	p.addressed = false
	return r, nil
}
