package protocol

import (
	"bytes"
	"fmt"
	"math"
	"unicode/utf8"
)

// Pack resolves defaults for values against s and returns the exact bit
// sequence. Fields are written in declaration order; a payload placeholder
// appends its bytes verbatim.
func Pack(s *Schema, values map[string]any) (Bits, error) {
	normalized, err := s.normalizeValues(values)
	if err != nil {
		return Bits{}, err
	}
	return newContext(s, nil, normalized, nil).pack()
}

// Unpack decodes bits against s and returns the decoded values and the
// number of bits consumed. A payload placeholder takes the remainder.
func Unpack(s *Schema, bits Bits) (map[string]any, int, error) {
	c := newUnpackContext(s, nil, nil)
	n, err := c.unpack(bits)
	if err != nil {
		return nil, 0, err
	}
	return c.explicit, n, nil
}

func (c *Context) pack() (Bits, error) {
	if err := c.resolveAll(); err != nil {
		return Bits{}, err
	}

	var out Bits
	for _, f := range c.schema.fields {
		v := c.resolved[f.Name]
		if f.Type.kind == KindPayload {
			if raw, ok := v.([]byte); ok {
				out.AppendBytes(raw)
			}
			continue
		}

		width, err := c.width(f)
		if err != nil {
			return Bits{}, err
		}

		if !f.Type.isMultiple() {
			if err := c.encode(f, width, v, &out); err != nil {
				return Bits{}, err
			}
			continue
		}

		want, err := c.count(f)
		if err != nil {
			return Bits{}, err
		}
		items, _ := v.([]any)
		if v == nil && (f.Type.optional || f.Type.kind == KindReserved) {
			items = make([]any, want)
		}
		if f.Type.kind == KindStruct && len(items) < want {
			// missing structs pack from their defaults
			items = append(items, make([]any, want-len(items))...)
		}
		if len(items) != want {
			return Bits{}, badField(f.Name, fmt.Sprintf("expected %d items, got %d", want, len(items)), nil)
		}
		for _, item := range items {
			if err := c.encode(f, width, item, &out); err != nil {
				return Bits{}, err
			}
		}
	}
	return out, nil
}

func (c *Context) encode(f Field, width int, v any, out *Bits) error {
	t := f.Type

	if t.kind == KindReserved {
		if b, ok := v.(Bits); ok {
			out.AppendBits(fit(b, width, t.left))
		} else {
			out.AppendBits(zeros(width))
		}
		return nil
	}

	if v == nil {
		if !t.optional && t.kind != KindStruct {
			return badField(f.Name, "cannot pack an unspecified value", nil)
		}
		if t.kind == KindStruct {
			v = map[string]any{}
		} else {
			out.AppendBits(zeros(width))
			return nil
		}
	}

	if t.transform != nil {
		w, err := t.transform.Pack(c, v)
		if err != nil {
			return badField(f.Name, "transform failed", err)
		}
		wire := t
		wire.transform = nil
		if v, err = wire.normalizeItem(f.Name, w); err != nil {
			return err
		}
	}

	switch t.kind {
	case KindBool:
		b, _ := v.(bool)
		if b {
			out.AppendUint(1, width)
		} else {
			out.AppendUint(0, width)
		}
	case KindUint:
		n, _ := v.(uint64)
		if t.enum != nil {
			if err := t.enum.check(n); err != nil {
				return badField(f.Name, "not a valid enum value", err)
			}
		}
		if t.wordSize < 64 && n >= 1<<uint(t.wordSize) {
			return badField(f.Name, fmt.Sprintf("%d does not fit in %d bits", n, t.wordSize), nil)
		}
		out.AppendUint(cut(n, width, t.wordSize, t.left), width)
	case KindInt:
		i, _ := v.(int64)
		if t.wordSize < 64 {
			limit := int64(1) << uint(t.wordSize-1)
			if i < -limit || i >= limit {
				return badField(f.Name, fmt.Sprintf("%d does not fit in %d bits", i, t.wordSize), nil)
			}
		}
		u := uint64(i)
		if t.wordSize < 64 {
			u &= 1<<uint(t.wordSize) - 1
		}
		out.AppendUint(cut(u, width, t.wordSize, t.left), width)
	case KindFloat:
		fv, _ := v.(float64)
		if t.wordSize == 32 {
			out.AppendUint(uint64(math.Float32bits(float32(fv))), width)
		} else {
			out.AppendUint(math.Float64bits(fv), width)
		}
	case KindBytes:
		raw, _ := v.([]byte)
		out.AppendBits(fit(BitsFromBytes(raw), width, t.left))
	case KindString:
		s, _ := v.(string)
		out.AppendBits(fit(BitsFromBytes([]byte(s)), width, false))
	case KindStruct:
		values, _ := v.(map[string]any)
		nested, err := newContext(t.nested, c.Message(), values, c).pack()
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
		out.AppendBits(fit(nested, width, false))
	default:
		return badField(f.Name, "cannot pack kind "+t.kind.String(), nil)
	}
	return nil
}

func (c *Context) unpack(bits Bits) (int, error) {
	pos := 0
	for _, f := range c.schema.fields {
		if f.Type.kind == KindPayload {
			payload := bits.Slice(pos, bits.Len()).Bytes()
			c.explicit[f.Name] = payload
			c.resolved[f.Name] = payload
			pos = bits.Len()
			continue
		}

		width, err := c.width(f)
		if err != nil {
			return 0, err
		}
		n, err := c.count(f)
		if err != nil {
			return 0, err
		}
		// Compare by division so a huge count cannot overflow width*n.
		if remain := bits.Len() - pos; width > 0 && n > remain/width {
			return 0, badField(f.Name, fmt.Sprintf("need %d items of %d bits, only %d bits remain", n, width, remain), nil)
		}

		var v any
		if f.Type.isMultiple() {
			items := make([]any, n)
			for i := range items {
				item, err := c.decode(f, bits.Slice(pos, pos+width))
				if err != nil {
					return 0, err
				}
				items[i] = item
				pos += width
			}
			v = items
		} else {
			v, err = c.decode(f, bits.Slice(pos, pos+width))
			if err != nil {
				return 0, err
			}
			pos += width
		}
		c.explicit[f.Name] = v
		c.resolved[f.Name] = v
	}
	return pos, nil
}

func (c *Context) decode(f Field, chunk Bits) (any, error) {
	t := f.Type
	width := chunk.Len()

	var v any
	switch t.kind {
	case KindReserved:
		return chunk, nil
	case KindBool:
		v = chunk.Uint(0, width) != 0
	case KindUint:
		n := uncut(chunk.Uint(0, width), width, t.wordSize, t.left)
		if t.enum != nil {
			if err := t.enum.check(n); err != nil {
				return nil, badField(f.Name, "not a valid enum value", err)
			}
		}
		v = n
	case KindInt:
		n := uncut(chunk.Uint(0, width), width, t.wordSize, t.left)
		if t.wordSize < 64 && n&(1<<uint(t.wordSize-1)) != 0 {
			n |= ^uint64(0) << uint(t.wordSize)
		}
		v = int64(n)
	case KindFloat:
		n := chunk.Uint(0, width)
		if t.wordSize == 32 {
			v = float64(math.Float32frombits(uint32(n)))
		} else {
			v = math.Float64frombits(n)
		}
	case KindBytes:
		v = chunk.Bytes()
	case KindString:
		raw := chunk.Bytes()
		if i := bytes.IndexByte(raw, 0); i >= 0 {
			raw = raw[:i]
		}
		if !utf8.Valid(raw) {
			return nil, badField(f.Name, "string is not valid utf-8", nil)
		}
		v = string(raw)
	case KindStruct:
		nested := newUnpackContext(t.nested, c.Message(), c)
		if _, err := nested.unpack(chunk); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		v = nested.explicit
	default:
		return nil, badField(f.Name, "cannot unpack kind "+t.kind.String(), nil)
	}

	if t.transform != nil {
		out, err := t.transform.Unpack(c, v)
		if err != nil {
			return nil, badField(f.Name, "value outside transform domain", err)
		}
		return t.normalizeItem(f.Name, out)
	}
	return v, nil
}

// cut narrows a word to width bits, keeping the high bits when left is set.
func cut(n uint64, width, word int, left bool) uint64 {
	if left && width < word {
		return n >> uint(word-width)
	}
	return n
}

func uncut(n uint64, width, word int, left bool) uint64 {
	if left && width < word {
		return n << uint(word-width)
	}
	return n
}

// fit truncates or zero pads b to width bits. Left aligned fields keep
// their trailing bits and pad at the front.
func fit(b Bits, width int, left bool) Bits {
	switch {
	case b.Len() == width:
		return b
	case b.Len() > width:
		if left {
			return b.Slice(b.Len()-width, b.Len())
		}
		return b.Slice(0, width)
	}
	if left {
		out := zeros(width - b.Len())
		out.AppendBits(b)
		return out
	}
	out := b.Slice(0, b.Len())
	out.AppendBits(zeros(width - b.Len()))
	return out
}

func zeros(n int) Bits {
	out := Bits{data: make([]byte, (n+7)/8), n: n}
	return out
}
