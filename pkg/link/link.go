// Package link composes assembled programs. It classifies each foreign
// program's calling convention and retrofits the native one where needed,
// namespaces libraries, merges them into a host program and optionally
// runs the call-threading peephole pass.
package link

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/assembly"
)

var log = commonlog.GetLogger("udonasm.link")

// Library is a program to be linked into a host under a namespace.
// An empty namespace links the library's names unchanged.
type Library struct {
	Namespace string
	Program   *assembly.Program
}

// Result describes what Link did.
type Result struct {
	Conventions []Convention        // per library, in argument order
	Renames     []*assembly.Renames // per library; nil when not namespaced
	Remaps      []*assembly.Remap   // per library, from Merge
	Threaded    int                 // call sites rewritten by ThreadCalls
}

// Linker holds the detector list and pass options.
type Linker struct {
	Detectors []ConventionDetector
	Optimize  bool
}

// New returns a linker with the default detectors followed by extra.
func New(extra ...ConventionDetector) *Linker {
	return &Linker{
		Detectors: append(DefaultDetectors(), extra...),
		Optimize:  true,
	}
}

// Prepare classifies p and brings it onto the native convention. A
// program whose methods are all conventional already is left alone.
func (l *Linker) Prepare(p *assembly.Program) (Convention, error) {
	if allConventional(p) {
		return ConventionNative, nil
	}
	c, err := Classify(p, l.Detectors)
	if err != nil {
		return ConventionUnknown, err
	}
	if err := Normalize(p, c); err != nil {
		return c, err
	}
	return c, nil
}

// Link prepares every library, namespaces it, and merges it into host.
// Libraries are consumed. Name collisions surface as host diagnostics.
func (l *Linker) Link(host *assembly.Program, libs ...Library) (*Result, error) {
	if _, err := l.Prepare(host); err != nil {
		return nil, fmt.Errorf("host: %w", err)
	}

	res := &Result{}
	progs := make([]*assembly.Program, 0, len(libs))
	for i, lib := range libs {
		c, err := l.Prepare(lib.Program)
		if err != nil {
			return nil, fmt.Errorf("library %d (%s): %w", i, lib.Namespace, err)
		}
		res.Conventions = append(res.Conventions, c)

		var r *assembly.Renames
		if lib.Namespace != "" {
			r, err = lib.Program.AddNamespace(lib.Namespace)
			if err != nil {
				return nil, fmt.Errorf("library %d: %w", i, err)
			}
		}
		res.Renames = append(res.Renames, r)
		progs = append(progs, lib.Program)
	}

	res.Remaps = assembly.Merge(host, progs...)
	if l.Optimize {
		res.Threaded = ThreadCalls(host)
	}
	return res, nil
}

func allConventional(p *assembly.Program) bool {
	for _, m := range p.Methods() {
		if !m.Conventional() {
			return false
		}
	}
	return true
}
