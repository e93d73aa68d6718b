// Package image implements precompiled library images: a Disassembly
// encoded as canonical CBOR so that identical programs always produce
// identical bytes.
package image

import (
	"bytes"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/assembly"
	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/registry"
)

// Magic identifies an image file.
const Magic = "UASM"

// Version is the current image format version.
const Version uint8 = 1

// Extension is the conventional file extension for images.
const Extension = ".uimg"

// Image is the serialized form of one assembled program.
type Image struct {
	Magic        string        `cbor:"1,keyasint"`
	Version      uint8         `cbor:"2,keyasint"`
	Name         string        `cbor:"3,keyasint,omitempty"`
	Symbols      []Symbol      `cbor:"4,keyasint"`
	Entries      []Entry       `cbor:"5,keyasint"`
	Instructions []Instruction `cbor:"6,keyasint"`
	UpdateOrder  int           `cbor:"7,keyasint,omitempty"`
}

// Symbol is one heap slot.
type Symbol struct {
	Address  uint32 `cbor:"1,keyasint"`
	Name     string `cbor:"2,keyasint"`
	Type     string `cbor:"3,keyasint"`
	Exported bool   `cbor:"4,keyasint,omitempty"`
	Sync     int8   `cbor:"5,keyasint,omitempty"` // -1 when not synced
}

// Entry is a method label.
type Entry struct {
	Name     string `cbor:"1,keyasint"`
	Address  uint32 `cbor:"2,keyasint"`
	Exported bool   `cbor:"3,keyasint,omitempty"`
}

// Instruction is one VM instruction.
type Instruction struct {
	Address   uint32 `cbor:"1,keyasint"`
	Op        uint8  `cbor:"2,keyasint"`
	Operand   uint32 `cbor:"3,keyasint,omitempty"`
	Signature string `cbor:"4,keyasint,omitempty"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// FromDisassembly wraps a Disassembly in an Image.
func FromDisassembly(name string, d *assembly.Disassembly) *Image {
	img := &Image{Magic: Magic, Version: Version, Name: name, UpdateOrder: d.UpdateOrder}
	for _, s := range d.Symbols {
		sync := int8(-1)
		if s.Synced {
			sync = int8(s.Sync)
		}
		img.Symbols = append(img.Symbols, Symbol{
			Address:  s.Address,
			Name:     s.Name,
			Type:     string(s.Type),
			Exported: s.Exported,
			Sync:     sync,
		})
	}
	for _, e := range d.Entries {
		img.Entries = append(img.Entries, Entry(e))
	}
	for _, ins := range d.Instructions {
		img.Instructions = append(img.Instructions, Instruction{
			Address:   ins.Address,
			Op:        uint8(ins.Op),
			Operand:   ins.Operand,
			Signature: ins.Signature,
		})
	}
	return img
}

// Disassembly converts the image back to a Disassembly.
func (img *Image) Disassembly() *assembly.Disassembly {
	d := &assembly.Disassembly{UpdateOrder: img.UpdateOrder}
	for _, s := range img.Symbols {
		ds := assembly.DisasmSymbol{
			Address:  s.Address,
			Name:     s.Name,
			Type:     assembly.Type(s.Type),
			Exported: s.Exported,
		}
		if s.Sync >= 0 {
			ds.Synced = true
			ds.Sync = assembly.SyncMode(s.Sync)
		}
		d.Symbols = append(d.Symbols, ds)
	}
	for _, e := range img.Entries {
		d.Entries = append(d.Entries, assembly.DisasmEntry(e))
	}
	for _, ins := range img.Instructions {
		d.Instructions = append(d.Instructions, assembly.DisasmInstruction{
			Address:   ins.Address,
			Op:        assembly.Opcode(ins.Op),
			Operand:   ins.Operand,
			Signature: ins.Signature,
		})
	}
	return d
}

// FromProgram disassembles an addressed program into an image.
func FromProgram(name string, p *assembly.Program) (*Image, error) {
	d, err := p.Disassemble()
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	return FromDisassembly(name, d), nil
}

// Program rebuilds the image's program.
func (img *Image) Program(reg *registry.Registry) (*assembly.Program, error) {
	p, err := assembly.Rebuild(img.Disassembly(), reg)
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", img.Name, err)
	}
	return p, nil
}

// Marshal serializes an image to canonical CBOR.
func Marshal(img *Image) ([]byte, error) {
	return cborEncMode.Marshal(img)
}

// Unmarshal deserializes and validates an image.
func Unmarshal(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if img.Magic != Magic {
		return nil, fmt.Errorf("image: bad magic %q", img.Magic)
	}
	if img.Version != Version {
		return nil, fmt.Errorf("image: unsupported version %d", img.Version)
	}
	return &img, nil
}

// IsImage reports whether data looks like an encoded image.
func IsImage(data []byte) bool {
	// A canonical map always starts with key 1 followed by the magic.
	return len(data) > 8 && bytes.Contains(data[:8], []byte(Magic))
}

// ReadFile loads an image from disk.
func ReadFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

// WriteFile encodes an image to disk.
func WriteFile(path string, img *Image) error {
	data, err := Marshal(img)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
