package protocol

import "fmt"

// Context is handed to computed widths, computed defaults and transforms.
// It exposes the values of the packet being packed or unpacked. Values are
// resolved in two passes: explicit values and static defaults first, then
// computed defaults in declaration order, each of which may read anything
// already resolved.
type Context struct {
	schema    *Schema
	msg       *Message
	parent    *Context
	explicit  map[string]any
	resolved  map[string]any
	resolving map[string]bool
	unpacking bool
}

func newContext(s *Schema, msg *Message, explicit map[string]any, parent *Context) *Context {
	if explicit == nil {
		explicit = make(map[string]any)
	}
	resolved := make(map[string]any, len(s.fields))
	for k, v := range explicit {
		resolved[k] = v
	}
	return &Context{
		schema:    s,
		msg:       msg,
		parent:    parent,
		explicit:  explicit,
		resolved:  resolved,
		resolving: make(map[string]bool),
	}
}

func newUnpackContext(s *Schema, msg *Message, parent *Context) *Context {
	c := newContext(s, msg, nil, parent)
	c.unpacking = true
	return c
}

// Message returns the message being packed, or nil for an opaque packet.
func (c *Context) Message() *Message {
	if c.msg == nil && c.parent != nil {
		return c.parent.Message()
	}
	return c.msg
}

// Parent returns the enclosing packet's context for struct fields.
func (c *Context) Parent() *Context { return c.parent }

// Has reports whether name was given explicitly (or was present on the wire).
func (c *Context) Has(name string) bool {
	_, ok := c.explicit[name]
	return ok
}

// Value returns the resolved value of name. An absent optional, reserved
// or struct field resolves to nil; structs then pack from their own defaults.
func (c *Context) Value(name string) (any, error) {
	if v, ok := c.resolved[name]; ok {
		return v, nil
	}
	f, ok := c.schema.Field(name)
	if !ok {
		if c.parent != nil {
			return c.parent.Value(name)
		}
		return nil, &SchemaError{Schema: c.schema.name, Field: name, Reason: "no such field"}
	}
	if c.unpacking {
		return nil, &SchemaError{Schema: c.schema.name, Field: name, Reason: "referenced before it was unpacked"}
	}

	t := f.Type
	switch {
	case t.hasStatic:
		v, err := t.normalize(name, t.static)
		if err != nil {
			return nil, err
		}
		c.resolved[name] = v
		return v, nil
	case t.dynamic != nil:
		if c.resolving[name] {
			return nil, &SchemaError{Schema: c.schema.name, Field: name, Reason: "default depends on itself"}
		}
		c.resolving[name] = true
		raw, err := t.dynamic(c)
		delete(c.resolving, name)
		if err != nil {
			return nil, fmt.Errorf("default for %s: %w", name, err)
		}
		if raw == nil {
			return nil, nil
		}
		v, err := t.normalize(name, raw)
		if err != nil {
			return nil, err
		}
		c.resolved[name] = v
		return v, nil
	case t.optional, t.kind == KindReserved, t.kind == KindPayload, t.kind == KindStruct:
		return nil, nil
	}
	return nil, &SchemaError{Schema: c.schema.name, Field: name, Reason: "required field has no value and no default"}
}

// Uint returns name as an unsigned integer.
func (c *Context) Uint(name string) (uint64, error) {
	v, err := c.Value(name)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	return toUint64(v, nil)
}

// Float returns name as a float.
func (c *Context) Float(name string) (float64, error) {
	v, err := c.Value(name)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	return toFloat64(v)
}

// resolveAll fills in every default. Pass one takes explicit values and
// static defaults; pass two evaluates computed defaults in order.
func (c *Context) resolveAll() error {
	var deferred []string
	for _, f := range c.schema.fields {
		if _, ok := c.resolved[f.Name]; ok {
			continue
		}
		t := f.Type
		switch {
		case t.hasStatic:
			if _, err := c.Value(f.Name); err != nil {
				return err
			}
		case t.dynamic != nil:
			deferred = append(deferred, f.Name)
		case t.optional, t.kind == KindReserved, t.kind == KindPayload, t.kind == KindStruct:
		default:
			return &SchemaError{Schema: c.schema.name, Field: f.Name, Reason: "required field has no value and no default"}
		}
	}
	for _, name := range deferred {
		if _, err := c.Value(name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) width(f Field) (int, error) {
	if f.Type.sizeFunc == nil {
		return f.Type.size, nil
	}
	n, err := f.Type.sizeFunc(c)
	if err != nil {
		return 0, fmt.Errorf("width of %s: %w", f.Name, err)
	}
	if n < 0 {
		return 0, badField(f.Name, fmt.Sprintf("computed negative width %d", n), nil)
	}
	return n, nil
}

func (c *Context) count(f Field) (int, error) {
	t := f.Type
	if t.countFunc != nil {
		n, err := t.countFunc(c)
		if err != nil {
			return 0, fmt.Errorf("count of %s: %w", f.Name, err)
		}
		if n < 0 {
			return 0, badField(f.Name, fmt.Sprintf("computed negative count %d", n), nil)
		}
		return n, nil
	}
	if t.count > 0 {
		return t.count, nil
	}
	return 1, nil
}

// TotalBits is the packed length of the whole packet (the outermost
// context), including any opaque payload.
func (c *Context) TotalBits() (int, error) {
	if c.parent != nil {
		return c.parent.TotalBits()
	}
	total := 0
	for _, f := range c.schema.fields {
		if f.Type.kind == KindPayload {
			v, err := c.Value(f.Name)
			if err != nil {
				return 0, err
			}
			if raw, ok := v.([]byte); ok {
				total += len(raw) * 8
			}
			continue
		}
		w, err := c.width(f)
		if err != nil {
			return 0, err
		}
		n, err := c.count(f)
		if err != nil {
			return 0, err
		}
		total += w * n
	}
	return total, nil
}
