package link

import (
	"fmt"

	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/assembly"
)

// Normalize brings a classified program onto the native calling
// convention. Native methods are only marked; legacy programs are
// retrofitted.
func Normalize(p *assembly.Program, c Convention) error {
	switch c {
	case ConventionNative:
		markNative(p)
		return nil
	case ConventionLegacy:
		return Retrofit(p)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownConvention, c)
	}
}

func markNative(p *assembly.Program) {
	end, ok := p.Data().Lookup(assembly.EndAddressName)
	if !ok {
		return
	}
	for _, m := range p.Methods() {
		if first := firstLive(m); first != nil && first.Op() == assembly.OpPush && first.Symbol() == end {
			m.MarkConventional()
		}
	}
}

// Retrofit installs the native convention on a legacy program: every
// method gets the preamble and epilogue, the jump to the end-of-program
// sentinel that ends each method is retired so control falls into the
// epilogue, and any other sentinel jump is retargeted to the method's
// terminal marker.
func Retrofit(p *assembly.Program) error {
	p.EnsureSpecials()
	for _, m := range p.Methods() {
		if m.Conventional() {
			continue
		}
		trailing := lastLive(m)
		if trailing != nil && !(isSentinelJump(trailing) && trailing.Op() == assembly.OpJump) {
			trailing = nil
		}
		m.InstallConvention()

		for _, ins := range m.Instructions() {
			if !isSentinelJump(ins) {
				continue
			}
			if ins == trailing {
				ins.ConvertToNop()
				continue
			}
			ins.Retarget(assembly.TargetOf(m.End()))
		}
		log.Debugf("retrofitted calling convention on %s", m.Name())
	}
	return nil
}
