package protocol

import (
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// Kind is the wire representation of a field.
type Kind int

const (
	KindBool Kind = iota
	KindUint
	KindInt
	KindFloat
	KindBytes
	KindString
	KindReserved
	KindStruct
	KindPayload
)

// String returns a human-readable name for the kind
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindUint:
		return "uint"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	case KindReserved:
		return "reserved"
	case KindStruct:
		return "struct"
	case KindPayload:
		return "payload"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Transform converts between the value a caller works with and the value
// stored on the wire. Pack and Unpack must be inverses over the field's
// domain. Logical is the kind callers set and read.
type Transform struct {
	Logical Kind
	Pack    func(ctx *Context, v any) (any, error)
	Unpack  func(ctx *Context, v any) (any, error)
}

// Enum maps names to the integer values of an enumerated field.
type Enum struct {
	name         string
	byValue      map[uint64]string
	byName       map[string]uint64
	allowUnknown bool
}

// NewEnum creates an enum. Values outside members are rejected unless
// allowUnknown is set.
func NewEnum(name string, allowUnknown bool, members map[string]uint64) *Enum {
	e := &Enum{
		name:         name,
		byValue:      make(map[uint64]string, len(members)),
		byName:       make(map[string]uint64, len(members)),
		allowUnknown: allowUnknown,
	}
	for k, v := range members {
		e.byName[k] = v
		e.byValue[v] = k
	}
	return e
}

// Name returns the enum type name.
func (e *Enum) Name() string { return e.name }

// NameOf returns the member name for v.
func (e *Enum) NameOf(v uint64) (string, bool) {
	n, ok := e.byValue[v]
	return n, ok
}

// ValueOf returns the value of a member name (case-insensitive).
func (e *Enum) ValueOf(name string) (uint64, bool) {
	if v, ok := e.byName[name]; ok {
		return v, true
	}
	for k, v := range e.byName {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return 0, false
}

// Names returns member names ordered by value.
func (e *Enum) Names() []string {
	values := make([]uint64, 0, len(e.byValue))
	for v := range e.byValue {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = e.byValue[v]
	}
	return names
}

func (e *Enum) check(v uint64) error {
	if _, ok := e.byValue[v]; ok || e.allowUnknown {
		return nil
	}
	return fmt.Errorf("value %d is not a member of %s", v, e.name)
}

// FieldType describes how one field is laid out and defaulted. Builder
// methods return modified copies, so the package-level types can be shared.
type FieldType struct {
	kind      Kind
	size      int
	wordSize  int
	sizeFunc  func(*Context) (int, error)
	left      bool
	static    any
	hasStatic bool
	dynamic   func(*Context) (any, error)
	transform *Transform
	enum      *Enum
	optional  bool
	count     int
	countFunc func(*Context) (int, error)
	nested    *Schema
}

// Base field types.
var (
	Bool    = FieldType{kind: KindBool, size: 1, wordSize: 1}
	BoolInt = FieldType{kind: KindBool, size: 8, wordSize: 8}
	Uint8   = FieldType{kind: KindUint, size: 8, wordSize: 8}
	Uint16  = FieldType{kind: KindUint, size: 16, wordSize: 16}
	Uint32  = FieldType{kind: KindUint, size: 32, wordSize: 32}
	Uint64  = FieldType{kind: KindUint, size: 64, wordSize: 64}
	Int8    = FieldType{kind: KindInt, size: 8, wordSize: 8}
	Int16   = FieldType{kind: KindInt, size: 16, wordSize: 16}
	Int32   = FieldType{kind: KindInt, size: 32, wordSize: 32}
	Int64   = FieldType{kind: KindInt, size: 64, wordSize: 64}
	Float32 = FieldType{kind: KindFloat, size: 32, wordSize: 32}
	Float64 = FieldType{kind: KindFloat, size: 64, wordSize: 64}
)

// Bytes is a raw byte field of the given width in bits.
func Bytes(bits int) FieldType {
	return FieldType{kind: KindBytes, size: bits, wordSize: bits}
}

// String is a NUL padded UTF-8 field of the given width in bits.
func String(bits int) FieldType {
	return FieldType{kind: KindString, size: bits, wordSize: bits}
}

// Reserved is a field that accepts no value and packs as zero bits.
func Reserved(bits int) FieldType {
	return FieldType{kind: KindReserved, size: bits, wordSize: bits}
}

// Struct embeds another schema as a single field. Its width is the
// schema's static width.
func Struct(s *Schema) FieldType {
	bits, _ := s.StaticBits()
	return FieldType{kind: KindStruct, size: bits, wordSize: bits, nested: s}
}

// Payload marks the placeholder at the end of a parent frame. Whatever
// bits follow the frame are carried verbatim.
func Payload() FieldType {
	return FieldType{kind: KindPayload}
}

// Kind returns the wire kind.
func (t FieldType) Kind() Kind { return t.kind }

// LogicalKind returns the kind callers set and read.
func (t FieldType) LogicalKind() Kind {
	if t.transform != nil {
		return t.transform.Logical
	}
	return t.kind
}

// StaticSize returns the width in bits and false if the width is computed.
func (t FieldType) StaticSize() (int, bool) {
	return t.size, t.sizeFunc == nil
}

// Size overrides the width in bits. Integers keep their low bits unless
// Left is set.
func (t FieldType) Size(bits int) FieldType {
	t.size = bits
	return t
}

// SizeFunc computes the width from already resolved sibling fields.
func (t FieldType) SizeFunc(fn func(*Context) (int, error)) FieldType {
	t.sizeFunc = fn
	return t
}

// Left keeps the high-order bits when the field is narrower than its word.
func (t FieldType) Left() FieldType {
	t.left = true
	return t
}

// Default sets a static default.
func (t FieldType) Default(v any) FieldType {
	t.static = v
	t.hasStatic = true
	t.dynamic = nil
	return t
}

// DefaultFunc sets a default computed from the packet being packed.
func (t FieldType) DefaultFunc(fn func(*Context) (any, error)) FieldType {
	t.dynamic = fn
	t.hasStatic = false
	t.static = nil
	return t
}

// Transform attaches a wire/logical conversion.
func (t FieldType) Transform(tr Transform) FieldType {
	t.transform = &tr
	return t
}

// Enum restricts an integer field to the members of e.
func (t FieldType) Enum(e *Enum) FieldType {
	t.enum = e
	return t
}

// EnumType returns the attached enum, if any.
func (t FieldType) EnumType() *Enum { return t.enum }

// Optional lets the field be absent; an absent optional packs as zero.
func (t FieldType) Optional() FieldType {
	t.optional = true
	return t
}

// Multiple repeats the field n times. The value is a list.
func (t FieldType) Multiple(n int) FieldType {
	t.count = n
	return t
}

// MultipleFunc computes the repeat count from sibling fields.
func (t FieldType) MultipleFunc(fn func(*Context) (int, error)) FieldType {
	t.countFunc = fn
	return t
}

func (t FieldType) isMultiple() bool {
	return t.count > 0 || t.countFunc != nil
}

func (t FieldType) hasDefault() bool {
	return t.hasStatic || t.dynamic != nil
}

// normalize converts a caller supplied value into the canonical Go type for
// the field's logical kind: bool, uint64, int64, float64, []byte, string,
// map[string]any for structs, Bits for reserved and []any for multiples.
func (t FieldType) normalize(name string, v any) (any, error) {
	if t.isMultiple() {
		items, err := toList(v)
		if err != nil {
			return nil, badField(name, "expected a list", err)
		}
		out := make([]any, len(items))
		for i, item := range items {
			n, err := t.normalizeItem(name, item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	return t.normalizeItem(name, v)
}

func (t FieldType) normalizeItem(name string, v any) (any, error) {
	kind := t.LogicalKind()
	switch kind {
	case KindBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		default:
			n, err := toUint64(v, nil)
			if err != nil || n > 1 {
				return nil, badField(name, fmt.Sprintf("cannot use %v as a boolean", v), err)
			}
			return n == 1, nil
		}
	case KindUint:
		var e *Enum
		if t.transform == nil {
			e = t.enum
		}
		n, err := toUint64(v, e)
		if err != nil {
			return nil, badField(name, "expected an unsigned integer", err)
		}
		return n, nil
	case KindInt:
		n, err := toInt64(v)
		if err != nil {
			return nil, badField(name, "expected an integer", err)
		}
		return n, nil
	case KindFloat:
		f, err := toFloat64(v)
		if err != nil {
			return nil, badField(name, "expected a number", err)
		}
		return f, nil
	case KindBytes:
		switch b := v.(type) {
		case []byte:
			out := make([]byte, len(b))
			copy(out, b)
			return out, nil
		case string:
			raw, err := hex.DecodeString(b)
			if err != nil {
				return nil, badField(name, "expected hex encoded bytes", err)
			}
			return raw, nil
		case Bits:
			return b.Bytes(), nil
		}
		return nil, badField(name, fmt.Sprintf("cannot use %T as bytes", v), nil)
	case KindString:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return strings.TrimRight(string(s), "\x00"), nil
		}
		return nil, badField(name, fmt.Sprintf("cannot use %T as a string", v), nil)
	case KindReserved:
		switch b := v.(type) {
		case nil:
			return nil, nil
		case Bits:
			return b, nil
		case []byte:
			return BitsFromBytes(b), nil
		}
		return nil, badField(name, "reserved fields only accept raw bits", nil)
	case KindStruct:
		values, ok := v.(map[string]any)
		if !ok {
			return nil, badField(name, fmt.Sprintf("cannot use %T as a struct", v), nil)
		}
		return t.nested.normalizeValues(values)
	case KindPayload:
		switch b := v.(type) {
		case []byte:
			out := make([]byte, len(b))
			copy(out, b)
			return out, nil
		case Bits:
			return b.Bytes(), nil
		case string:
			raw, err := hex.DecodeString(b)
			if err != nil {
				return nil, badField(name, "expected hex encoded payload", err)
			}
			return raw, nil
		}
		return nil, badField(name, fmt.Sprintf("cannot use %T as a payload", v), nil)
	}
	return nil, badField(name, "unsupported kind "+kind.String(), nil)
}

func toList(v any) ([]any, error) {
	switch l := v.(type) {
	case []any:
		return l, nil
	case []map[string]any:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("got %T", v)
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func toUint64(v any, e *Enum) (uint64, error) {
	if s, ok := v.(string); ok && e != nil {
		n, found := e.ValueOf(s)
		if !found {
			return 0, fmt.Errorf("%q is not a member of %s", s, e.Name())
		}
		return n, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() < 0 {
			return 0, fmt.Errorf("negative value %d", rv.Int())
		}
		return uint64(rv.Int()), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f < 0 || f != math.Trunc(f) || f > math.MaxUint64 {
			return 0, fmt.Errorf("%v is not an unsigned integer", f)
		}
		return uint64(f), nil
	case reflect.Bool:
		if rv.Bool() {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("got %T", v)
}

func toInt64(v any) (int64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", rv.Uint())
		}
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) {
			return 0, fmt.Errorf("%v is not an integer", f)
		}
		return int64(f), nil
	}
	return 0, fmt.Errorf("got %T", v)
}

func toFloat64(v any) (float64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	}
	return 0, fmt.Errorf("got %T", v)
}
