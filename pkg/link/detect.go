package link

import (
	"errors"
	"fmt"

	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/assembly"
)

// ErrUnknownConvention indicates that no detector recognised how a foreign
// program's methods call and return.
var ErrUnknownConvention = errors.New("unknown calling convention")

// Convention identifies how a program's methods call and return.
type Convention int

const (
	ConventionUnknown Convention = iota
	// ConventionNative is push-return-address plus indirect jump, as
	// produced by assembly.Method.InstallConvention.
	ConventionNative
	// ConventionLegacy methods end by jumping to the end-of-program
	// sentinel and have no return slot.
	ConventionLegacy
)

func (c Convention) String() string {
	switch c {
	case ConventionNative:
		return "native"
	case ConventionLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// ParseConvention parses the configuration spelling of a convention.
func ParseConvention(s string) (Convention, error) {
	switch s {
	case "native":
		return ConventionNative, nil
	case "legacy":
		return ConventionLegacy, nil
	}
	return ConventionUnknown, fmt.Errorf("%w: %q", ErrUnknownConvention, s)
}

// ConventionDetector classifies a program. Detect returns false when the
// detector does not recognise the program at all.
type ConventionDetector interface {
	Name() string
	Detect(p *assembly.Program) (Convention, bool)
}

// NativeDetector recognises programs whose methods already start with the
// calling-convention preamble and that carry the return slots.
type NativeDetector struct{}

func (NativeDetector) Name() string { return "native" }

func (NativeDetector) Detect(p *assembly.Program) (Convention, bool) {
	data := p.Data()
	end, ok := data.Lookup(assembly.EndAddressName)
	if !ok {
		return ConventionUnknown, false
	}
	if _, ok := data.Lookup(assembly.ReturnAddressName); !ok {
		return ConventionUnknown, false
	}
	for _, m := range p.Methods() {
		first := firstLive(m)
		if first == nil {
			continue
		}
		if first.Op() != assembly.OpPush || first.Symbol() != end {
			return ConventionUnknown, false
		}
	}
	return ConventionNative, true
}

// LegacyDetector recognises programs without return slots whose methods
// all end with a jump to the end-of-program sentinel.
type LegacyDetector struct{}

func (LegacyDetector) Name() string { return "legacy" }

func (LegacyDetector) Detect(p *assembly.Program) (Convention, bool) {
	if _, ok := p.Data().Lookup(assembly.ReturnAddressName); ok {
		return ConventionUnknown, false
	}
	seen := false
	for _, m := range p.Methods() {
		last := lastLive(m)
		if last == nil {
			continue
		}
		if !isSentinelJump(last) || last.Op() != assembly.OpJump {
			return ConventionUnknown, false
		}
		seen = true
	}
	if !seen {
		return ConventionUnknown, false
	}
	return ConventionLegacy, true
}

// AnchorDetector recognises another code generator's output by a set of
// symbol names it always emits.
type AnchorDetector struct {
	Label      string
	Anchors    []string
	Convention Convention
}

func (d AnchorDetector) Name() string { return d.Label }

func (d AnchorDetector) Detect(p *assembly.Program) (Convention, bool) {
	if len(d.Anchors) == 0 {
		return ConventionUnknown, false
	}
	for _, a := range d.Anchors {
		if _, ok := p.Data().Lookup(a); !ok {
			return ConventionUnknown, false
		}
	}
	return d.Convention, true
}

// DefaultDetectors returns the built-in detectors in probe order.
func DefaultDetectors() []ConventionDetector {
	return []ConventionDetector{NativeDetector{}, LegacyDetector{}}
}

// Classify runs detectors in order and returns the first match.
func Classify(p *assembly.Program, detectors []ConventionDetector) (Convention, error) {
	for _, d := range detectors {
		if c, ok := d.Detect(p); ok {
			log.Debugf("program classified as %s by %s detector", c, d.Name())
			return c, nil
		}
	}
	return ConventionUnknown, ErrUnknownConvention
}

func firstLive(m *assembly.Method) *assembly.Instruction {
	for _, ins := range m.Instructions() {
		if !ins.Retired() {
			return ins
		}
	}
	return nil
}

// lastLive returns the last body instruction that emits code.
func lastLive(m *assembly.Method) *assembly.Instruction {
	ins := m.Instructions()
	for i := len(ins) - 1; i >= 0; i-- {
		if ins[i] == m.End() {
			continue
		}
		if !ins[i].Retired() {
			return ins[i]
		}
	}
	return nil
}

func isSentinelJump(ins *assembly.Instruction) bool {
	if !ins.Op().IsJump() || ins.Retired() {
		return false
	}
	raw, ok := ins.Target().Raw()
	return ok && raw == assembly.EndOfProgram
}
