package actions

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ricochet1k/officemesh/pkg/protocol"
)

// Engine commands the host treats specially.
const (
	CommandSave       = ".uno:Save"
	CommandEditDoc    = ".uno:EditDoc"
	CommandUndo       = ".uno:Undo"
	CommandRedo       = ".uno:Redo"
	CommandInsertText = ".uno:InsertText"
	CommandInsertPara = ".uno:InsertPara"
	CommandFontName   = ".uno:CharFontName"
	CommandFontHeight = ".uno:FontHeight"
)

// Encoding names how a dispatch value is turned into engine parameters.
type Encoding string

const (
	EncodingScalar     Encoding = "scalar"
	EncodingFontName   Encoding = "font-name"
	EncodingFontHeight Encoding = "font-height"
	EncodingText       Encoding = "text"
	EncodingColor      Encoding = "color"
)

func (e Encoding) Valid() bool {
	switch e {
	case EncodingScalar, EncodingFontName, EncodingFontHeight, EncodingText, EncodingColor:
		return true
	default:
		return false
	}
}

var commandEncodings = map[string]Encoding{
	CommandFontName:        EncodingFontName,
	CommandFontHeight:      EncodingFontHeight,
	CommandInsertText:      EncodingText,
	".uno:Color":           EncodingColor,
	".uno:CharBackColor":   EncodingColor,
	".uno:BackgroundColor": EncodingColor,
}

// EncodingForCommand returns the encoding the engine expects for command.
func EncodingForCommand(command string) Encoding {
	if e, ok := commandEncodings[command]; ok {
		return e
	}
	return EncodingScalar
}

var ErrInvalidValue = errors.New("invalid dispatch value")

// Property type names understood by the engine.
const (
	TypeString = "string"
	TypeShort  = "short"
	TypeLong   = "long"
	TypeFloat  = "float"
)

// Encode builds the dispatch envelope for d. Without a value the command is
// sent bare. Composite encodings always carry every member of the structure.
func Encode(d Descriptor, value *string) (protocol.Envelope, error) {
	if value == nil {
		return protocol.Dispatch(d.Command), nil
	}
	v := *value

	switch d.EffectiveEncoding() {
	case EncodingFontName:
		return protocol.DispatchArgs(d.Command, []protocol.Property{
			{Name: "CharFontName.StyleName", Type: TypeString, Value: ""},
			{Name: "CharFontName.Pitch", Type: TypeShort, Value: int16(0)},
			{Name: "CharFontName.CharSet", Type: TypeShort, Value: int16(-1)},
			{Name: "CharFontName.Family", Type: TypeShort, Value: int16(0)},
			{Name: "CharFontName.FamilyName", Type: TypeString, Value: v},
		}), nil

	case EncodingFontHeight:
		height, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
		if err != nil {
			return protocol.Envelope{}, fmt.Errorf("%w: font height %q", ErrInvalidValue, v)
		}
		return protocol.DispatchArgs(d.Command, []protocol.Property{
			{Name: "FontHeight.Height", Type: TypeFloat, Value: float32(height)},
			{Name: "FontHeight.Prop", Type: TypeShort, Value: int16(100)},
			{Name: "FontHeight.Diff", Type: TypeFloat, Value: float32(0)},
		}), nil

	case EncodingText:
		return protocol.DispatchArgs(d.Command, []protocol.Property{
			{Name: "Text", Type: TypeString, Value: v},
		}), nil

	case EncodingColor:
		color, err := ParseColor(v)
		if err != nil {
			return protocol.Envelope{}, err
		}
		name := strings.TrimPrefix(d.Command, ".uno:") + ".Color"
		return protocol.DispatchArgs(d.Command, []protocol.Property{
			{Name: name, Type: TypeLong, Value: color},
		}), nil

	default:
		return protocol.DispatchValue(d.Command, v), nil
	}
}

// ParseColor accepts a decimal RGB value, "#rrggbb" or "0xrrggbb".
func ParseColor(s string) (int32, error) {
	s = strings.TrimSpace(s)
	base := 10
	switch {
	case strings.HasPrefix(s, "#"):
		s, base = s[1:], 16
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s, base = s[2:], 16
	}
	n, err := strconv.ParseInt(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: color %q", ErrInvalidValue, s)
	}
	return int32(n), nil
}
