package assembly

import (
	"fmt"
	"strings"
)

// Type is a qualified VM type name such as "System.Int32".
type Type string

const (
	TypeObject        Type = "System.Object"
	TypeBoolean       Type = "System.Boolean"
	TypeInt32         Type = "System.Int32"
	TypeUInt32        Type = "System.UInt32"
	TypeSingle        Type = "System.Single"
	TypeString        Type = "System.String"
	TypeUdonBehaviour Type = "VRC.Udon.UdonBehaviour"
	TypeGameObject    Type = "UnityEngine.GameObject"
	TypeTransform     Type = "UnityEngine.Transform"
)

// thisSignatures default to the owning behaviour itself rather than null.
// Keyed by signature so types rebuilt from wire text match as well.
var thisSignatures = map[string]bool{
	TypeUdonBehaviour.Signature(): true,
	TypeGameObject.Signature():    true,
	TypeTransform.Signature():     true,
}

// Signature returns the type as it appears in the data section:
// namespace dots removed and array brackets spelled out.
//   "System.Int32"    -> "SystemInt32"
//   "System.String[]" -> "SystemStringArray"
func (t Type) Signature() string {
	s := strings.ReplaceAll(string(t), "[]", "Array")
	var sb strings.Builder
	for _, r := range s {
		if isIdentRune(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// IsThis reports whether symbols of this type default to "this".
func (t Type) IsThis() bool {
	return thisSignatures[t.Signature()]
}

func isIdentRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// sanitize maps an arbitrary logical name onto identifier characters.
func sanitize(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if isIdentRune(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "_"
	}
	return sb.String()
}

// SyncMode selects how an exported symbol is replicated.
type SyncMode uint8

const (
	SyncNone SyncMode = iota
	SyncLinear
	SyncSmooth
)

func (s SyncMode) String() string {
	switch s {
	case SyncNone:
		return "none"
	case SyncLinear:
		return "linear"
	case SyncSmooth:
		return "smooth"
	default:
		return fmt.Sprintf("SyncMode(%d)", s)
	}
}

// ParseSyncMode parses the wire spelling of a sync mode.
func ParseSyncMode(s string) (SyncMode, error) {
	switch s {
	case "none":
		return SyncNone, nil
	case "linear":
		return SyncLinear, nil
	case "smooth":
		return SyncSmooth, nil
	}
	return SyncNone, fmt.Errorf("unknown sync mode %q", s)
}

// Symbol is one slot of the data segment.
type Symbol struct {
	name     string
	typ      Type
	value    any
	exported bool
	sync     SyncMode
	synced   bool
	constant bool
	borrowed bool // handed out by Borrow and not yet released
	shadow   *Symbol

	address uint32
	index   int
	owner   *DataSegment
}

// Name returns the physical name.
func (s *Symbol) Name() string { return s.name }

// Type returns the declared type.
func (s *Symbol) Type() Type { return s.typ }

// Value returns the default value.
func (s *Symbol) Value() any { return s.value }

// SetValue replaces the default value. Constants are shared and must not
// be changed through this call.
func (s *Symbol) SetValue(v any) { s.value = v }

// Exported reports whether the symbol is visible outside the program.
func (s *Symbol) Exported() bool { return s.exported }

// SetExported sets the export flag.
func (s *Symbol) SetExported(b bool) { s.exported = b }

// Sync returns the sync mode.
func (s *Symbol) Sync() SyncMode { return s.sync }

// Synced reports whether the symbol is replicated.
func (s *Symbol) Synced() bool { return s.synced }

// SetSync marks the symbol replicated with the given interpolation mode.
// It is only rendered for exported symbols.
func (s *Symbol) SetSync(m SyncMode) {
	s.sync = m
	s.synced = true
}

// Unsync stops replicating the symbol.
func (s *Symbol) Unsync() {
	s.sync = SyncNone
	s.synced = false
}

// IsConstant reports whether the symbol came from the constant table.
func (s *Symbol) IsConstant() bool { return s.constant }

// HasShadow reports whether a previous-value symbol tracks this one.
func (s *Symbol) HasShadow() bool { return s.shadow != nil }

// Shadow returns the previous-value symbol, or nil.
func (s *Symbol) Shadow() *Symbol { return s.shadow }

// Address returns the heap address assigned by the last ApplyAddresses.
func (s *Symbol) Address() uint32 { return s.address }

// Index returns the symbol's arena index in its data segment.
func (s *Symbol) Index() int { return s.index }

// declaration renders the data-section line for the symbol.
func (s *Symbol) declaration() string {
	def := "null"
	if s.typ.IsThis() {
		def = "this"
	}
	return fmt.Sprintf("%s: %%%s, %s", s.name, s.typ.Signature(), def)
}
