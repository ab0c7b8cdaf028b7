package protocol

import "fmt"

// Field is one named entry in a schema.
type Field struct {
	Name  string
	Group string
	Type  FieldType
}

// F declares a field.
func F(name string, t FieldType) Field {
	return Field{Name: name, Type: t}
}

// Schema is an ordered, immutable list of fields. Nested groups are
// flattened when the schema is built; Group records where a field came from.
type Schema struct {
	name   string
	fields []Field
	index  map[string]int
}

// NewSchema validates and builds a schema. Two fields with the same name,
// a payload placeholder that is not last, or a field without a usable
// width is a SchemaError.
func NewSchema(name string, fields ...Field) (*Schema, error) {
	s := &Schema{
		name:   name,
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, &SchemaError{Schema: name, Reason: fmt.Sprintf("field %d has no name", i)}
		}
		if _, exists := s.index[f.Name]; exists {
			return nil, &SchemaError{Schema: name, Field: f.Name, Reason: "overlaps an earlier field with the same name"}
		}
		if err := validateField(name, f, i == len(fields)-1); err != nil {
			return nil, err
		}
		if f.Group == "" {
			f.Group = name
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// MustSchema is NewSchema for package-level declarations.
func MustSchema(name string, fields ...Field) *Schema {
	s, err := NewSchema(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func validateField(schema string, f Field, last bool) error {
	t := f.Type
	switch t.kind {
	case KindPayload:
		if !last {
			return &SchemaError{Schema: schema, Field: f.Name, Reason: "payload placeholder must be the last field"}
		}
		if t.isMultiple() || t.hasDefault() {
			return &SchemaError{Schema: schema, Field: f.Name, Reason: "payload placeholder takes no options"}
		}
		return nil
	case KindStruct:
		if t.nested == nil {
			return &SchemaError{Schema: schema, Field: f.Name, Reason: "struct field has no schema"}
		}
		if _, static := t.nested.StaticBits(); !static {
			return &SchemaError{Schema: schema, Field: f.Name, Reason: "struct field schema must have a static width"}
		}
	case KindReserved:
		if t.hasDefault() {
			return &SchemaError{Schema: schema, Field: f.Name, Reason: "reserved fields cannot have a default"}
		}
	case KindUint, KindInt, KindFloat, KindBool:
		if t.sizeFunc == nil && t.size > t.wordSize {
			return &SchemaError{Schema: schema, Field: f.Name, Reason: fmt.Sprintf("width %d exceeds %d bit word", t.size, t.wordSize)}
		}
	}
	if t.kind == KindFloat && t.size != t.wordSize && t.sizeFunc == nil {
		return &SchemaError{Schema: schema, Field: f.Name, Reason: "floats cannot be resized"}
	}
	if t.sizeFunc == nil && t.size <= 0 {
		return &SchemaError{Schema: schema, Field: f.Name, Reason: "field has no width"}
	}
	if t.count < 0 {
		return &SchemaError{Schema: schema, Field: f.Name, Reason: "negative repeat count"}
	}
	return nil
}

// Group returns the fields of s tagged with s's name, for flattening into
// a larger schema.
func Group(s *Schema) []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Fields returns the flattened fields in wire order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// HasPayload reports whether the last field is a payload placeholder.
func (s *Schema) HasPayload() bool {
	return len(s.fields) > 0 && s.fields[len(s.fields)-1].Type.kind == KindPayload
}

// Extend returns a new schema where the payload placeholder of s is
// replaced by fields. It is how a message schema is built from its frame.
func (s *Schema) Extend(name string, fields ...Field) (*Schema, error) {
	base := s.fields
	if s.HasPayload() {
		base = base[:len(base)-1]
	}
	all := make([]Field, 0, len(base)+len(fields))
	all = append(all, base...)
	for _, f := range fields {
		if f.Group == "" {
			f.Group = name
		}
		all = append(all, f)
	}
	return NewSchema(name, all...)
}

// StaticBits returns the total width when every field has a fixed width
// and repeat count.
func (s *Schema) StaticBits() (int, bool) {
	total := 0
	for _, f := range s.fields {
		t := f.Type
		if t.kind == KindPayload || t.sizeFunc != nil || t.countFunc != nil {
			return 0, false
		}
		n := t.size
		if t.count > 0 {
			n *= t.count
		}
		total += n
	}
	return total, true
}

// normalizeValues validates names and normalizes every value in values.
func (s *Schema) normalizeValues(values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for k, v := range values {
		f, ok := s.Field(k)
		if !ok {
			return nil, &SchemaError{Schema: s.name, Field: k, Reason: "no such field"}
		}
		if v == nil {
			continue
		}
		n, err := f.Type.normalize(k, v)
		if err != nil {
			return nil, err
		}
		if n != nil {
			out[k] = n
		}
	}
	return out, nil
}
