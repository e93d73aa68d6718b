package assembly

import (
	"fmt"
	"strings"
)

// CodeSegment is the ordered method collection of one program. Insertion
// order is the layout order and the export order.
type CodeSegment struct {
	methods     map[string]*Method
	order       []*Method
	updateOrder int
}

func newCodeSegment() *CodeSegment {
	return &CodeSegment{methods: make(map[string]*Method)}
}

func (c *CodeSegment) add(m *Method) bool {
	if _, ok := c.methods[m.name]; ok {
		return false
	}
	c.methods[m.name] = m
	c.order = append(c.order, m)
	return true
}

// Lookup finds a method by name.
func (c *CodeSegment) Lookup(name string) (*Method, bool) {
	m, ok := c.methods[name]
	return m, ok
}

// Methods returns the methods in layout order.
func (c *CodeSegment) Methods() []*Method {
	out := make([]*Method, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of methods.
func (c *CodeSegment) Len() int { return len(c.order) }

// UpdateOrder returns the behaviour's update order.
func (c *CodeSegment) UpdateOrder() int { return c.updateOrder }

// SetUpdateOrder sets the behaviour's update order. Zero is not exported.
func (c *CodeSegment) SetUpdateOrder(n int) { c.updateOrder = n }

func (c *CodeSegment) finish() {
	for _, m := range c.order {
		m.finish()
	}
}

// applyAddresses lays out every method back to back, then resolves every
// jump now that all addresses and entry points are known.
func (c *CodeSegment) applyAddresses() (map[string]uint32, error) {
	var addr uint32
	for _, m := range c.order {
		addr = m.applyAddresses(addr)
	}

	labels := make(map[string]uint32, len(c.order))
	for _, m := range c.order {
		labels[m.name] = m.entry
	}

	for _, m := range c.order {
		for _, ins := range m.instrs {
			if !ins.op.IsJump() || ins.retired {
				continue
			}
			if err := ins.resolve(labels); err != nil {
				return nil, fmt.Errorf("in method %s: %w", m.name, err)
			}
		}
	}
	return labels, nil
}

// size returns the total laid-out size in bytes.
func (c *CodeSegment) size() uint32 {
	var n uint32
	for _, m := range c.order {
		for _, ins := range m.instrs {
			n += ins.Size()
		}
	}
	return n
}

func (c *CodeSegment) export(sb *strings.Builder) {
	sb.WriteString(".code_start\n")
	if c.updateOrder != 0 {
		fmt.Fprintf(sb, "  .update_order %d\n", c.updateOrder)
	}
	for _, m := range c.order {
		if m.exported {
			fmt.Fprintf(sb, "  .export %s\n", m.name)
		}
		fmt.Fprintf(sb, "  %s:\n", m.name)
		for _, ins := range m.instrs {
			if text := ins.Text(); text != "" {
				sb.WriteString("    ")
				sb.WriteString(text)
				sb.WriteByte('\n')
			}
		}
	}
	sb.WriteString(".code_end\n")
}
