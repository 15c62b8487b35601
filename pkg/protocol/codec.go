package protocol

import (
	"encoding/json"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

// Codec serialises envelopes for a transport. Stream encoders and decoders
// are self-delimiting so they can share a pipe without extra framing.
type Codec interface {
	Name() string
	Marshal(env Envelope) ([]byte, error)
	Unmarshal(data []byte, env *Envelope) error
	NewEncoder(w io.Writer) Encoder
	NewDecoder(r io.Reader) Decoder
}

var (
	JSON Codec = jsonCodec{}
	CBOR Codec = newCBORCodec()
)

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (jsonCodec) Unmarshal(data []byte, env *Envelope) error {
	return json.Unmarshal(data, env)
}

func (jsonCodec) NewEncoder(w io.Writer) Encoder {
	return json.NewEncoder(w)
}

func (jsonCodec) NewDecoder(r io.Reader) Decoder {
	return json.NewDecoder(r)
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// newCBORCodec uses core deterministic encoding so identical envelopes
// produce identical bytes. Untyped maps decode as map[string]any, which keeps
// StateValue.Fields compatible with the JSON codec.
func newCBORCodec() cborCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string { return "cbor" }

func (c cborCodec) Marshal(env Envelope) ([]byte, error) {
	return c.enc.Marshal(env)
}

func (c cborCodec) Unmarshal(data []byte, env *Envelope) error {
	return c.dec.Unmarshal(data, env)
}

func (c cborCodec) NewEncoder(w io.Writer) Encoder {
	return c.enc.NewEncoder(w)
}

func (c cborCodec) NewDecoder(r io.Reader) Decoder {
	return c.dec.NewDecoder(r)
}

// CodecByName resolves "json" or "cbor".
func CodecByName(name string) (Codec, bool) {
	switch name {
	case "json", "":
		return JSON, true
	case "cbor":
		return CBOR, true
	default:
		return nil, false
	}
}
