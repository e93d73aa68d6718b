package link

import "github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/assembly"

// SendCustomEvent is the extern that dispatches an event on a behaviour
// by name.
const SendCustomEvent = "VRCUdonCommonInterfacesIUdonEventReceiver.__SendCustomEvent__SystemString__SystemVoid"

// ThreadCalls rewrites every self-dispatch with a constant empty event
// name
//
//	PUSH __this
//	PUSH <const "">
//	EXTERN SendCustomEvent
//
// into a direct jump through the action-jump slot:
//
//	PUSH <return address>
//	JUMP_INDIRECT __action_jump_address
//
// A site is skipped when its name symbol is the destination of any COPY
// in the program, or when a jump lands on its name push or its extern.
// It returns the number of sites rewritten.
func ThreadCalls(p *assembly.Program) int {
	targeted := jumpTargets(p)
	copied := copyDestinations(p, targeted)
	this, ok := p.Data().Lookup(assembly.ThisName)
	if !ok {
		return 0
	}

	threaded := 0
	for _, m := range p.Methods() {
		all := m.Instructions()
		var live []int
		for i, ins := range all {
			if !ins.Retired() {
				live = append(live, i)
			}
		}
		for k := 0; k+2 < len(live); k++ {
			self, name, ext := all[live[k]], all[live[k+1]], all[live[k+2]]
			if self.Op() != assembly.OpPush || self.Symbol() != this {
				continue
			}
			if name.Op() != assembly.OpPush || !isEmptyName(name.Symbol()) {
				continue
			}
			if ext.Op() != assembly.OpExtern || ext.Signature() != SendCustomEvent {
				continue
			}
			if copied[name.Symbol()] {
				log.Debugf("%s: event name %s is reassigned, not threading", m.Name(), name.Symbol().Name())
				continue
			}
			if anyTargeted(targeted, all[live[k]+1:live[k+2]+1]) {
				log.Debugf("%s: dispatch at 0x%08X is a jump target, not threading", m.Name(), self.Address())
				continue
			}

			jmp := assembly.NewJumpIndirect(p.Special(assembly.ActionJumpName))
			if err := m.InsertAfter(ext, jmp); err != nil {
				log.Warningf("%s: %v", m.Name(), err)
				continue
			}
			self.ConvertToNop()
			ext.ConvertToNop()
			name.Rebind(p.Data().ReturnAddress(jmp))
			threaded++
			k += 2
		}
	}
	if threaded > 0 {
		log.Infof("threaded %d self-dispatch call sites", threaded)
	}
	return threaded
}

func isEmptyName(s *assembly.Symbol) bool {
	if s == nil || !s.IsConstant() {
		return false
	}
	if s.Type().Signature() != assembly.TypeString.Signature() {
		return false
	}
	v, ok := s.Value().(string)
	return ok && v == ""
}

// copyDestinations collects every symbol a COPY may write to. The
// destination is the top of the operand stack when the COPY runs; it is
// found by walking back over the live instructions and skipping the
// slots consumed in between. When the walk cannot be followed (an
// EXTERN, an unconditional jump, a jump landing inside the window, or the
// method start), every symbol pushed earlier in the method is counted.
func copyDestinations(p *assembly.Program, targeted map[*assembly.Instruction]bool) map[*assembly.Symbol]bool {
	out := make(map[*assembly.Symbol]bool)
	for _, m := range p.Methods() {
		var live []*assembly.Instruction
		for _, ins := range m.Instructions() {
			if !ins.Retired() {
				live = append(live, ins)
			}
		}
		for i, ins := range live {
			if ins.Op() != assembly.OpCopy {
				continue
			}
			if dst, ok := copyDestination(live[:i+1], targeted); ok {
				out[dst] = true
				continue
			}
			for _, prev := range live[:i] {
				if prev.Op() == assembly.OpPush {
					out[prev.Symbol()] = true
				}
			}
		}
	}
	return out
}

// copyDestination resolves the destination of the COPY ending window.
func copyDestination(window []*assembly.Instruction, targeted map[*assembly.Instruction]bool) (*assembly.Symbol, bool) {
	skip := 0
	for j := len(window) - 2; j >= 0; j-- {
		if targeted[window[j+1]] {
			return nil, false
		}
		switch ins := window[j]; ins.Op() {
		case assembly.OpPush:
			if skip == 0 {
				return ins.Symbol(), true
			}
			skip--
		case assembly.OpPop, assembly.OpJumpIfFalse:
			skip++
		case assembly.OpCopy:
			skip += 2
		case assembly.OpNop:
		default:
			return nil, false
		}
	}
	return nil, false
}

func jumpTargets(p *assembly.Program) map[*assembly.Instruction]bool {
	out := make(map[*assembly.Instruction]bool)
	for _, m := range p.Methods() {
		for _, ins := range m.Instructions() {
			if ins.Retired() || !ins.Op().IsJump() {
				continue
			}
			if t := ins.Target().Instruction(); t != nil {
				out[t] = true
			}
		}
	}
	return out
}

func anyTargeted(targets map[*assembly.Instruction]bool, ins []*assembly.Instruction) bool {
	for _, i := range ins {
		if targets[i] {
			return true
		}
	}
	return false
}
