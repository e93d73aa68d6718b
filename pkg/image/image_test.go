package image

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/assembly"
)

func assembled(t *testing.T) (*assembly.Program, string) {
	t.Helper()
	p := assembly.NewProgram(nil)
	p.Code().SetUpdateOrder(1)
	hp, err := p.Data().DeclareVariable("hp", "hp", assembly.TypeInt32, int32(3), assembly.VarOptions{
		Export: true, Synced: true, Sync: assembly.SyncNone,
	})
	if err != nil {
		t.Fatalf("DeclareVariable: %v", err)
	}
	pos, _ := p.Data().Named("pos", assembly.Type("UnityEngine.Vector3"))
	pos.SetExported(true)
	pos.SetSync(assembly.SyncSmooth)

	start, _ := p.AddMethod("_start", true)
	helper, _ := p.AddMethod("helper", false)
	start.Push(hp)
	start.Call("helper")
	helper.Extern("UnityEngineDebug.__Log__SystemObject__SystemVoid")

	text, err := p.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return p, text
}

func TestImageRoundTrip(t *testing.T) {
	p, text := assembled(t)

	img, err := FromProgram("demo", p)
	if err != nil {
		t.Fatalf("FromProgram: %v", err)
	}
	data, err := Marshal(img)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !IsImage(data) {
		t.Error("IsImage should recognise an encoded image")
	}
	if IsImage([]byte(text)) {
		t.Error("IsImage should reject assembly text")
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Name != "demo" || got.UpdateOrder != 1 {
		t.Errorf("header = %q/%d", got.Name, got.UpdateOrder)
	}

	q, err := got.Program(nil)
	if err != nil {
		t.Fatalf("Program: %v", err)
	}
	if err := q.ApplyAddresses(); err != nil {
		t.Fatalf("ApplyAddresses: %v", err)
	}
	again, err := q.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if again != text {
		t.Errorf("image round trip differs:\ngot:\n%s\nwant:\n%s", again, text)
	}
}

func TestImageDeterministic(t *testing.T) {
	p1, _ := assembled(t)
	p2, _ := assembled(t)
	img1, _ := FromProgram("demo", p1)
	img2, _ := FromProgram("demo", p2)
	a, err := Marshal(img1)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, _ := Marshal(img2)
	if !bytes.Equal(a, b) {
		t.Error("identical programs should encode to identical bytes")
	}
}

func TestUnmarshalRejects(t *testing.T) {
	bad, _ := Marshal(&Image{Magic: "NOPE", Version: Version})
	if _, err := Unmarshal(bad); err == nil {
		t.Error("bad magic should be rejected")
	}
	future, _ := Marshal(&Image{Magic: Magic, Version: Version + 1})
	if _, err := Unmarshal(future); err == nil {
		t.Error("unknown version should be rejected")
	}
	if _, err := Unmarshal([]byte{0xFF, 0x00}); err == nil {
		t.Error("garbage should be rejected")
	}
}

func TestImageFile(t *testing.T) {
	p, _ := assembled(t)
	img, _ := FromProgram("demo", p)
	path := filepath.Join(t.TempDir(), "demo"+Extension)

	if err := WriteFile(path, img); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got.Instructions) != len(img.Instructions) || len(got.Symbols) != len(img.Symbols) {
		t.Errorf("file round trip lost data: %d/%d instructions", len(got.Instructions), len(img.Instructions))
	}
}
