package assembly

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingJumpLabel indicates a deferred label names no method.
	ErrMissingJumpLabel = errors.New("missing jump label")

	// ErrUnresolvedSymbol indicates a variable or heap address that does
	// not map to any data-segment symbol.
	ErrUnresolvedSymbol = errors.New("unresolved symbol reference")

	// ErrInvalidConstant indicates a constant that cannot be stored in a
	// fresh slot: a nil value, a non-comparable value, or a value of an
	// externally-owned resource type.
	ErrInvalidConstant = errors.New("invalid constant")

	// ErrNameCollision indicates two symbols or methods with one name.
	// During merge it is reported as a diagnostic, not returned.
	ErrNameCollision = errors.New("name collision")

	// ErrMalformedProgram indicates structurally invalid input, such as a
	// foreign listing or an instruction referencing another program.
	ErrMalformedProgram = errors.New("malformed program")

	// ErrNotAddressed indicates Export was called before ApplyAddresses.
	ErrNotAddressed = errors.New("addresses not applied")
)

// Diagnostic is a recoverable problem found while assembling. The program
// stays valid; the diagnostic is reported alongside it.
type Diagnostic struct {
	Err     error  // Sentinel the diagnostic is classified under
	Subject string // Offending symbol or method name
	Message string
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%v: %s: %s", d.Err, d.Subject, d.Message)
}

func (d Diagnostic) Unwrap() error { return d.Err }
