package assembly

import (
	"errors"
	"strings"
	"testing"
)

func TestAllocate(t *testing.T) {
	d := NewProgram(nil).Data()

	a := d.Allocate("my var", TypeInt32)
	b := d.Allocate("my var", TypeInt32)

	if a.Name() != "__my_var_SystemInt32_1" {
		t.Errorf("first name = %q", a.Name())
	}
	if b.Name() != "__my_var_SystemInt32_2" {
		t.Errorf("second name = %q", b.Name())
	}
	arr := d.Allocate("xs", Type("System.String[]"))
	if arr.Name() != "__xs_SystemStringArray_3" {
		t.Errorf("array name = %q", arr.Name())
	}
}

func TestNamed(t *testing.T) {
	d := NewProgram(nil).Data()

	s, err := d.Named("speed", TypeSingle)
	if err != nil {
		t.Fatalf("Named: %v", err)
	}
	again, err := d.Named("speed", TypeSingle)
	if err != nil || again != s {
		t.Errorf("Named should return the existing symbol, got %v, %v", again, err)
	}
	if _, err := d.Named("speed", TypeString); !errors.Is(err, ErrNameCollision) {
		t.Errorf("type mismatch error = %v, want ErrNameCollision", err)
	}
}

func TestConstantDedup(t *testing.T) {
	d := NewProgram(nil).Data()

	a, err := d.Constant(TypeInt32, int32(5))
	if err != nil {
		t.Fatalf("Constant: %v", err)
	}
	b, _ := d.Constant(TypeInt32, int32(5))
	c, _ := d.Constant(TypeInt32, int32(6))
	f, _ := d.Constant(TypeSingle, int32(5))

	if a != b {
		t.Error("identical (type, value) should share one symbol")
	}
	if a == c || a == f {
		t.Error("different value or type should get a new symbol")
	}
	if !a.IsConstant() || a.Value() != int32(5) {
		t.Errorf("constant = %v (constant=%v)", a.Value(), a.IsConstant())
	}
}

func TestConstantInvalid(t *testing.T) {
	d := NewProgram(nil).Data()

	tests := []struct {
		name  string
		typ   Type
		value any
	}{
		{"nil", TypeObject, nil},
		{"external type", TypeGameObject, "Cube"},
		{"player handle", Type("VRC.SDKBase.VRCPlayerApi"), 1},
		{"not comparable", Type("System.Int32[]"), []int32{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := d.Len()
			if _, err := d.Constant(tt.typ, tt.value); !errors.Is(err, ErrInvalidConstant) {
				t.Errorf("error = %v, want ErrInvalidConstant", err)
			}
			if d.Len() != before {
				t.Error("a rejected constant must not allocate a slot")
			}
		})
	}
}

func TestDeclareVariable(t *testing.T) {
	d := NewProgram(nil).Data()

	s, err := d.DeclareVariable("v1", "speed", TypeSingle, float32(1.5), VarOptions{
		Export:       true,
		Synced:       true,
		Sync:         SyncSmooth,
		NotifyChange: true,
	})
	if err != nil {
		t.Fatalf("DeclareVariable: %v", err)
	}
	if !s.Exported() || !s.Synced() || s.Sync() != SyncSmooth {
		t.Errorf("metadata: exported=%v synced=%v sync=%v", s.Exported(), s.Synced(), s.Sync())
	}
	if !s.HasShadow() || s.Shadow().Name() != "__old_speed" {
		t.Errorf("shadow = %v", s.Shadow())
	}

	got, err := d.Variable("v1")
	if err != nil || got != s {
		t.Errorf("Variable(v1) = %v, %v", got, err)
	}
	if _, err := d.DeclareVariable("v1", "other", TypeInt32, int32(0), VarOptions{}); !errors.Is(err, ErrNameCollision) {
		t.Errorf("redeclare error = %v, want ErrNameCollision", err)
	}
	if _, err := d.Variable("missing"); !errors.Is(err, ErrUnresolvedSymbol) {
		t.Errorf("missing error = %v, want ErrUnresolvedSymbol", err)
	}

	d.ForgetVariable("v1")
	if _, err := d.Variable("v1"); !errors.Is(err, ErrUnresolvedSymbol) {
		t.Errorf("forgotten variable error = %v, want ErrUnresolvedSymbol", err)
	}
	if _, ok := d.Lookup("speed"); !ok {
		t.Error("ForgetVariable must keep the slot")
	}
}

func TestScratchFreelist(t *testing.T) {
	d := NewProgram(nil).Data()

	a := d.Borrow(TypeInt32)
	d.Release(a)
	if b := d.Borrow(TypeInt32); b != a {
		t.Error("released scratch symbol should be reused")
	}
	if c := d.Borrow(TypeString); c == a {
		t.Error("scratch symbols are per type")
	}

	var held []*Symbol
	for i := 0; i < maxScratchPerType+2; i++ {
		held = append(held, d.Borrow(TypeBoolean))
	}
	for _, s := range held {
		d.Release(s)
	}
	before := d.Len()
	for i := 0; i < maxScratchPerType+1; i++ {
		d.Borrow(TypeBoolean)
	}
	if got := d.Len() - before; got != 1 {
		t.Errorf("allocated %d new scratch symbols past the cap, want 1", got)
	}
}

func TestScratchReleaseUnborrowed(t *testing.T) {
	d := NewProgram(nil).Data()

	a := d.Borrow(TypeInt32)
	d.Release(a)
	d.Release(a)
	b := d.Borrow(TypeInt32)
	c := d.Borrow(TypeInt32)
	if b == c {
		t.Fatalf("two live borrows share %s", b.Name())
	}

	named, _ := d.Named("speed", TypeInt32)
	d.Release(named)
	if s := d.Borrow(TypeInt32); s == named {
		t.Error("a symbol that was never borrowed must not enter the freelist")
	}
	d.Release(nil)
}

type boxedConstant struct{ V any }

func TestConstantDynamicallyIncomparable(t *testing.T) {
	d := NewProgram(nil).Data()
	if _, err := d.Constant(TypeObject, boxedConstant{V: []int{1}}); !errors.Is(err, ErrInvalidConstant) {
		t.Errorf("Constant(struct holding a slice) = %v, want ErrInvalidConstant", err)
	}
	a, err := d.Constant(TypeObject, boxedConstant{V: 3})
	if err != nil {
		t.Fatalf("Constant: %v", err)
	}
	if b, _ := d.Constant(TypeObject, boxedConstant{V: 3}); b != a {
		t.Error("equal comparable structs should share one constant")
	}
}

func TestDataExport(t *testing.T) {
	p := NewProgram(nil)
	d := p.Data()
	d.DeclareVariable("a", "score", TypeInt32, int32(0), VarOptions{Export: true, Synced: true, Sync: SyncNone})
	d.DeclareVariable("b", "hidden", TypeInt32, int32(0), VarOptions{Synced: true, Sync: SyncLinear})
	d.Named("target", TypeGameObject)

	text, err := p.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	for _, want := range []string{
		"  .export score\n",
		"  .sync score, none\n",
		"  score: %SystemInt32, null\n",
		"  target: %UnityEngineGameObject, this\n",
		"  __this: %VRCUdonUdonBehaviour, this\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("export missing %q", want)
		}
	}
	if strings.Contains(text, ".sync hidden") || strings.Contains(text, ".export hidden") {
		t.Error("sync is only rendered for exported symbols")
	}
}
