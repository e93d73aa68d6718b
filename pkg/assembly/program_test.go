package assembly

import (
	"errors"
	"strings"
	"testing"
)

// buildAdd emits 5 + 3 into a fresh program's _start method.
func buildAdd(t *testing.T) *Program {
	t.Helper()
	p := NewProgram(nil)
	m, err := p.AddMethod("_start", true)
	if err != nil {
		t.Fatalf("AddMethod: %v", err)
	}
	five, err := p.Data().Constant(TypeInt32, int32(5))
	if err != nil {
		t.Fatalf("Constant: %v", err)
	}
	three, err := p.Data().Constant(TypeInt32, int32(3))
	if err != nil {
		t.Fatalf("Constant: %v", err)
	}
	m.Push(five)
	m.Push(three)
	m.Extern("Add")
	m.Pop()
	return p
}

func TestAssembleAddScenario(t *testing.T) {
	p := buildAdd(t)

	text, err := p.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	want := `.data_start
  __null: %SystemObject, null
  __return_address: %SystemUInt32, null
  __end_address: %SystemUInt32, null
  __action_jump_address: %SystemUInt32, null
  __dispatch_queue: %SystemObject, null
  __return_value: %SystemObject, null
  __this: %VRCUdonUdonBehaviour, this
  __const_SystemInt32_1: %SystemInt32, null
  __const_SystemInt32_2: %SystemInt32, null
.data_end
.code_start
  .export _start
  _start:
    PUSH, __end_address
    PUSH, __const_SystemInt32_1
    PUSH, __const_SystemInt32_2
    EXTERN, "Add"
    POP
    PUSH, __return_address
    COPY
    JUMP_INDIRECT, __return_address
.code_end
`
	if text != want {
		t.Errorf("Export mismatch:\ngot:\n%s\nwant:\n%s", text, want)
	}

	m, _ := p.Method("_start")
	if m.StartAddress() != 0 || m.EntryAddress() != 8 {
		t.Errorf("start/entry = %d/%d, want 0/8", m.StartAddress(), m.EntryAddress())
	}
	if p.Size() != 56 {
		t.Errorf("Size() = %d, want 56", p.Size())
	}
	five, _ := p.Data().Lookup("__const_SystemInt32_1")
	if five.Address() != 28 {
		t.Errorf("constant address = %d, want 28", five.Address())
	}
}

func TestAssembleDeterministic(t *testing.T) {
	build := func() string {
		p := buildAdd(t)
		helper, _ := p.AddMethod("helper", false)
		helper.Push(p.Null())
		helper.Pop()
		m, _ := p.Method("_start")
		m.Call("helper")
		p.Data().DeclareVariable("v", "count", TypeInt32, int32(0), VarOptions{Export: true})
		text, err := p.Assemble()
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}
		return text
	}
	first := build()
	for i := 0; i < 5; i++ {
		if got := build(); got != first {
			t.Fatalf("run %d differs:\n%s\nvs\n%s", i, got, first)
		}
	}
}

func TestMissingJumpLabel(t *testing.T) {
	p := buildAdd(t)
	m, _ := p.Method("_start")
	m.Call("nowhere")

	text, err := p.Assemble()
	if !errors.Is(err, ErrMissingJumpLabel) {
		t.Fatalf("Assemble error = %v, want ErrMissingJumpLabel", err)
	}
	if text != "" {
		t.Errorf("no text may be produced on failure, got %q", text)
	}
	if !strings.Contains(err.Error(), "nowhere") {
		t.Errorf("error should name the label: %v", err)
	}
	if _, err := p.Export(); !errors.Is(err, ErrNotAddressed) {
		t.Errorf("Export after failed ApplyAddresses = %v, want ErrNotAddressed", err)
	}
}

func TestExportRequiresAddresses(t *testing.T) {
	p := buildAdd(t)
	if _, err := p.Export(); !errors.Is(err, ErrNotAddressed) {
		t.Fatalf("Export error = %v, want ErrNotAddressed", err)
	}
	if _, err := p.Assemble(); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	m, _ := p.Method("_start")
	m.Nop()
	if _, err := p.Export(); !errors.Is(err, ErrNotAddressed) {
		t.Errorf("Export after mutation = %v, want ErrNotAddressed", err)
	}
}

func TestAddressMonotonicity(t *testing.T) {
	p := buildAdd(t)
	other, _ := p.AddMethod("other", false)
	other.Nop()
	dead := other.Extern("Gone")
	other.Pop()
	dead.ConvertToNop()
	m, _ := p.Method("_start")
	m.Call("other")

	if _, err := p.Assemble(); err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	var next uint32
	for _, m := range p.Methods() {
		if m.StartAddress() != next {
			t.Errorf("%s starts at %d, want %d", m.Name(), m.StartAddress(), next)
		}
		ins := m.Instructions()
		for i := 0; i+1 < len(ins); i++ {
			if ins[i+1].Address() != ins[i].Address()+ins[i].Size() {
				t.Errorf("%s[%d] at %d, want %d", m.Name(), i+1, ins[i+1].Address(), ins[i].Address()+ins[i].Size())
			}
			if ins[i].Retired() && ins[i].Size() != 0 {
				t.Errorf("%s[%d] retired but size %d", m.Name(), i, ins[i].Size())
			}
		}
		last := ins[len(ins)-1]
		next = last.Address() + last.Size()
	}
	if next != p.Size() {
		t.Errorf("layout ends at %d, Size() = %d", next, p.Size())
	}
}

func TestNopReferenceStability(t *testing.T) {
	p := NewProgram(nil)
	m, _ := p.AddMethod("_start", true)
	cond, _ := p.Data().Constant(TypeBoolean, true)

	target := NewPop()
	m.Push(cond)
	jmp := m.JumpIfFalse(TargetOf(target))
	m.Push(cond)
	m.Append(target)
	after := m.Nop()

	if _, err := p.Assemble(); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	before := jmp.JumpAddress()
	if before != target.Address() {
		t.Fatalf("jump resolves to %d, target at %d", before, target.Address())
	}

	target.ConvertToNop()
	if err := p.ApplyAddresses(); err != nil {
		t.Fatalf("ApplyAddresses: %v", err)
	}
	if jmp.JumpAddress() != before {
		t.Errorf("jump moved from %d to %d", before, jmp.JumpAddress())
	}
	if after.Address() != before {
		t.Errorf("instruction after the retired one at %d, want %d", after.Address(), before)
	}
	text, err := p.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if strings.Contains(text, "POP") {
		t.Error("retired instruction must not be rendered")
	}
}

func TestCallReturnAddress(t *testing.T) {
	p := NewProgram(nil)
	caller, _ := p.AddMethod("_start", true)
	callee, _ := p.AddMethod("callee", false)
	callee.Nop()
	jmp := caller.Call("callee")

	if _, err := p.Assemble(); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if jmp.JumpAddress() != callee.EntryAddress() {
		t.Errorf("call jumps to %d, callee entry %d", jmp.JumpAddress(), callee.EntryAddress())
	}
	push := caller.Instructions()[1]
	if push.Op() != OpPush {
		t.Fatalf("instruction before the jump is %s", push.Op())
	}
	if got := push.Symbol().Value(); got != jmp.Address()+8 {
		t.Errorf("return address = %v, want %d", got, jmp.Address()+8)
	}
}

func TestReturnJumpsToTerminalMarker(t *testing.T) {
	p := NewProgram(nil)
	m, _ := p.AddMethod("_start", true)
	ret := m.Return()
	m.AppendTrailer(NewNop())

	if _, err := p.Assemble(); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if ret.JumpAddress() != m.End().Address() {
		t.Errorf("Return jumps to %d, End at %d", ret.JumpAddress(), m.End().Address())
	}
	ins := m.Instructions()
	// preamble, return, end, trailer NOP, epilogue x3
	if len(ins) != 7 || ins[2] != m.End() || ins[3].Op() != OpNop || ins[3].Retired() {
		t.Errorf("unexpected layout after Finish: %d instructions", len(ins))
	}
}

func TestFinishMaterializesEventParams(t *testing.T) {
	p := NewProgram(nil)
	if _, err := p.AddMethod("_onPlayerJoined", true); err != nil {
		t.Fatalf("AddMethod: %v", err)
	}
	if _, ok := p.Data().Lookup("onPlayerJoinedPlayer"); ok {
		t.Fatal("parameter symbol should not exist before Finish")
	}
	text, err := p.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	s, ok := p.Data().Lookup("onPlayerJoinedPlayer")
	if !ok {
		t.Fatal("Finish should materialize the event parameter")
	}
	if s.Type() != Type("VRC.SDKBase.VRCPlayerApi") {
		t.Errorf("parameter type = %s", s.Type())
	}
	if !strings.Contains(text, "  onPlayerJoinedPlayer: %VRCSDKBaseVRCPlayerApi, null\n") {
		t.Error("parameter declaration missing from export")
	}
}

func TestDuplicateMethod(t *testing.T) {
	p := NewProgram(nil)
	p.AddMethod("a", false)
	if _, err := p.AddMethod("a", true); !errors.Is(err, ErrNameCollision) {
		t.Errorf("error = %v, want ErrNameCollision", err)
	}
}

func TestUpdateOrderExport(t *testing.T) {
	p := NewProgram(nil)
	text, _ := p.Assemble()
	if strings.Contains(text, ".update_order") {
		t.Error("zero update order must not be exported")
	}
	p.Code().SetUpdateOrder(-2)
	text, err := p.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(text, ".code_start\n  .update_order -2\n") {
		t.Errorf("update order missing:\n%s", text)
	}
}
