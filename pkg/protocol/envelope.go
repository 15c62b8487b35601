// Package protocol defines the envelopes exchanged between a host and an
// isolated document engine. Every message is a single Envelope keyed by Cmd;
// the remaining fields are populated according to the command.
package protocol

type Cmd string

// Host to engine.
const (
	CmdDispatch                  Cmd = "dispatch"
	CmdLoadDocument              Cmd = "loadDocument"
	CmdSubscribe                 Cmd = "subscribe"
	CmdExport                    Cmd = "export"
	CmdReadFile                  Cmd = "readFile"
	CmdResize                    Cmd = "resize"
	CmdInsertContentControl      Cmd = "insertContentControl"
	CmdInsertContentControlBlock Cmd = "insertContentControlBlock"
	CmdWriteFile                 Cmd = "writeFile"
	CmdMkdir                     Cmd = "mkdir"
	CmdStart                     Cmd = "start"
)

// Engine to host.
const (
	CmdUIReady         Cmd = "ui_ready"
	CmdDocLoaded       Cmd = "doc_loaded"
	CmdStateChanged    Cmd = "stateChanged"
	CmdSubscribeFailed Cmd = "subscribeFailed"
	CmdFontList        Cmd = "fontList"
	CmdExported        Cmd = "exported"
	CmdFileContents    Cmd = "fileContents"
	CmdFailure         Cmd = "failure"
)

type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionToEngine
	DirectionToHost
)

func (d Direction) String() string {
	switch d {
	case DirectionToEngine:
		return "to_engine"
	case DirectionToHost:
		return "to_host"
	default:
		return "unknown"
	}
}

// Direction reports which side is allowed to send c.
func (c Cmd) Direction() Direction {
	switch c {
	case CmdDispatch, CmdLoadDocument, CmdSubscribe, CmdExport, CmdReadFile, CmdResize,
		CmdInsertContentControl, CmdInsertContentControlBlock, CmdWriteFile, CmdMkdir, CmdStart:
		return DirectionToEngine
	case CmdUIReady, CmdDocLoaded, CmdStateChanged, CmdSubscribeFailed, CmdFontList,
		CmdExported, CmdFileContents, CmdFailure:
		return DirectionToHost
	default:
		return DirectionUnknown
	}
}

// Operation names carried by failure envelopes.
const (
	OpLoad   = "load"
	OpExport = "export"
	OpRead   = "read"
	OpInsert = "insert"
)

// Property is one named member of a composite dispatch parameter. Type names
// the engine-side scalar type ("string", "short", "long", "float", "boolean").
type Property struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// BlockItem is either a content control with Text or a paragraph break.
type BlockItem struct {
	Text string `json:"text,omitempty"`
	Para bool   `json:"para,omitempty"`
}

type Envelope struct {
	Cmd     Cmd         `json:"cmd"`
	Command string      `json:"command,omitempty"`
	Value   *string     `json:"value,omitempty"`
	Args    []Property  `json:"args,omitempty"`
	Path    string      `json:"path,omitempty"`
	Discard bool        `json:"discard,omitempty"`
	Filter  string      `json:"filter,omitempty"`
	State   *StateValue `json:"state,omitempty"`
	Enabled *bool       `json:"enabled,omitempty"`
	Epoch   uint64      `json:"epoch,omitempty"`
	Fonts   []string    `json:"fonts,omitempty"`
	Text    string      `json:"text,omitempty"`
	Items   []BlockItem `json:"items,omitempty"`
	Data    []byte      `json:"data,omitempty"`
	Op      string      `json:"op,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func Dispatch(command string) Envelope {
	return Envelope{Cmd: CmdDispatch, Command: command}
}

func DispatchValue(command, value string) Envelope {
	return Envelope{Cmd: CmdDispatch, Command: command, Value: &value}
}

func DispatchArgs(command string, args []Property) Envelope {
	return Envelope{Cmd: CmdDispatch, Command: command, Args: args}
}

func LoadDocument(path string) Envelope {
	return Envelope{Cmd: CmdLoadDocument, Path: path, Discard: true}
}

func Subscribe(command string, epoch uint64) Envelope {
	return Envelope{Cmd: CmdSubscribe, Command: command, Epoch: epoch}
}

func Export(path, filter string) Envelope {
	return Envelope{Cmd: CmdExport, Path: path, Filter: filter}
}

func ReadFile(path string) Envelope {
	return Envelope{Cmd: CmdReadFile, Path: path}
}

func Resize() Envelope {
	return Envelope{Cmd: CmdResize}
}

func UIReady() Envelope {
	return Envelope{Cmd: CmdUIReady}
}

func DocLoaded(path string) Envelope {
	return Envelope{Cmd: CmdDocLoaded, Path: path}
}

func StateChanged(command string, state StateValue, enabled bool, epoch uint64) Envelope {
	return Envelope{Cmd: CmdStateChanged, Command: command, State: &state, Enabled: &enabled, Epoch: epoch}
}

func SubscribeFailed(command, reason string) Envelope {
	return Envelope{Cmd: CmdSubscribeFailed, Command: command, Error: reason}
}

func FontList(fonts []string) Envelope {
	return Envelope{Cmd: CmdFontList, Fonts: fonts}
}

func Exported(path string) Envelope {
	return Envelope{Cmd: CmdExported, Path: path}
}

func FileContents(path string, data []byte) Envelope {
	return Envelope{Cmd: CmdFileContents, Path: path, Data: data}
}

func Failure(op, path, reason string) Envelope {
	return Envelope{Cmd: CmdFailure, Op: op, Path: path, Error: reason}
}

// HasValue reports whether the envelope carries a scalar value.
func (e Envelope) HasValue() bool {
	return e.Value != nil
}

// ValueOr returns the scalar value, or def when none was sent.
func (e Envelope) ValueOr(def string) string {
	if e.Value == nil {
		return def
	}
	return *e.Value
}

// IsEnabled defaults to true when the engine omitted the flag.
func (e Envelope) IsEnabled() bool {
	if e.Enabled == nil {
		return true
	}
	return *e.Enabled
}

// Arg returns the composite parameter member with the given name.
func (e Envelope) Arg(name string) (Property, bool) {
	for _, p := range e.Args {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

func WriteFile(path string, data []byte) Envelope {
	return Envelope{Cmd: CmdWriteFile, Path: path, Data: data}
}

func Mkdir(path string) Envelope {
	return Envelope{Cmd: CmdMkdir, Path: path}
}

func Start() Envelope {
	return Envelope{Cmd: CmdStart}
}

func InsertContentControl(text string) Envelope {
	return Envelope{Cmd: CmdInsertContentControl, Text: text}
}

func InsertContentControlBlock(items []BlockItem) Envelope {
	return Envelope{Cmd: CmdInsertContentControlBlock, Items: items}
}
