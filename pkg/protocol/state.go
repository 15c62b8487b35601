package protocol

type StateKind string

const (
	StateBool   StateKind = "bool"
	StateNone   StateKind = "none"
	StateString StateKind = "string"
	StateNumber StateKind = "number"
	StateStruct StateKind = "struct"
)

// StateValue is the tagged payload of a stateChanged notification. Exactly one
// of the typed members is meaningful, selected by Kind.
type StateValue struct {
	Kind   StateKind      `json:"kind"`
	Bool   bool           `json:"bool,omitempty"`
	Text   string         `json:"text,omitempty"`
	Number float64        `json:"number,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

func BoolState(v bool) StateValue {
	return StateValue{Kind: StateBool, Bool: v}
}

func NoState() StateValue {
	return StateValue{Kind: StateNone}
}

func StringState(v string) StateValue {
	return StateValue{Kind: StateString, Text: v}
}

func NumberState(v float64) StateValue {
	return StateValue{Kind: StateNumber, Number: v}
}

func StructState(fields map[string]any) StateValue {
	return StateValue{Kind: StateStruct, Fields: fields}
}
