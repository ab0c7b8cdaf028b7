package main

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/muurk/lifxlan/internal/protocol"
)

// parseFields turns field=value arguments into packet values for msg.
//
// Values are read as YAML scalars, lists or maps, so numbers, booleans,
// enum names and structured values such as colors=[{hue: 120, saturation: 1}]
// can all be written on the command line. Byte and string fields keep the
// raw text, so a hex target like 000000000001 is not read as a number.
func parseFields(msg *protocol.Message, args []string) (map[string]any, error) {
	values := make(map[string]any, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}

		field, known := msg.Schema().Field(name)
		if known && isText(field) {
			values[name] = raw
			continue
		}

		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		if v == nil {
			v = raw
		}
		values[name] = v
	}
	return values, nil
}

func isText(f protocol.Field) bool {
	k := f.Type.LogicalKind()
	return k == protocol.KindBytes || k == protocol.KindString
}
