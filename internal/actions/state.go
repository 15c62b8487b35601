package actions

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ricochet1k/officemesh/pkg/protocol"
)

// Extract reduces a state notification to the scalar surfaced to listeners:
// booleans stay booleans, everything else becomes a string. It never panics;
// shapes it does not recognise degrade to a string rendering.
func Extract(d Descriptor, s protocol.StateValue) any {
	switch s.Kind {
	case protocol.StateBool:
		return s.Bool
	case protocol.StateNone:
		return ""
	case protocol.StateString:
		return s.Text
	case protocol.StateNumber:
		return formatNumber(s.Number)
	case protocol.StateStruct:
		return extractStruct(d.EffectiveEncoding(), s.Fields)
	default:
		return fallback(s)
	}
}

// Member precedence per struct family.
var structFields = map[Encoding][]string{
	EncodingFontName:   {"Name", "Value"},
	EncodingFontHeight: {"Height", "Name", "Value"},
}

var genericFields = []string{"Name", "Value"}

func extractStruct(enc Encoding, fields map[string]any) string {
	order, ok := structFields[enc]
	if !ok {
		order = genericFields
	}
	for _, name := range order {
		if v, ok := fields[name]; ok && v != nil {
			return Stringify(v)
		}
	}
	return fallback(fields)
}

func fallback(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Stringify renders a decoded scalar the way the UI displays it. Whole
// floats drop their fraction.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return formatNumber(x)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	default:
		return fallback(x)
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
