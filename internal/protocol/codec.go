package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// Encode serializes v to one line of JSON. The returned line has no trailing
// newline; framing is the transport's job.
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", &EncodingError{Type: typeName(reflect.TypeOf(v)), Err: err}
	}
	if bytes.IndexByte(data, '\n') >= 0 {
		return "", &EncodingError{Type: typeName(reflect.TypeOf(v)), Err: ErrEmbeddedNewline}
	}
	return string(data), nil
}

// Decode parses exactly one JSON value from line into a T.
//
// Unknown object fields are rejected, and types implementing Validator are
// validated after decoding. Text that is not JSON yields a DecodingError of
// kind DecodeSyntax; JSON that does not fit T yields kind DecodeShape.
func Decode[T any](line string) (T, error) {
	var out T
	name := typeName(reflect.TypeFor[T]())

	dec := json.NewDecoder(strings.NewReader(line))
	dec.DisallowUnknownFields() // Strict parsing

	if err := dec.Decode(&out); err != nil {
		return out, newDecodingError(classify(err), name, line, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return out, newDecodingError(DecodeSyntax, name, line, fmt.Errorf("trailing data after JSON value"))
	}

	if err := validate(&out); err != nil {
		return out, newDecodingError(DecodeShape, name, line, err)
	}
	return out, nil
}

// DecodeResult decodes line as a T, falling back to ExceptionDump when the
// line is well-formed JSON of the wrong shape. A matching exception is
// returned as a *RemoteError; otherwise the original decoding error stands.
func DecodeResult[T any](line string) (T, error) {
	out, err := Decode[T](line)
	if err == nil {
		return out, nil
	}

	var de *DecodingError
	if !errors.As(err, &de) || de.Kind != DecodeShape {
		return out, err
	}

	dump, derr := Decode[ExceptionDump](line)
	if derr != nil {
		return out, err
	}
	return out, &RemoteError{Dump: dump}
}

func validate(ptr any) error {
	if v, ok := ptr.(Validator); ok {
		return v.Validate()
	}
	// T itself may be a pointer type.
	elem := reflect.ValueOf(ptr).Elem()
	if elem.Kind() == reflect.Pointer && !elem.IsNil() {
		if v, ok := elem.Interface().(Validator); ok {
			return v.Validate()
		}
	}
	return nil
}

func classify(err error) DecodeKind {
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &syntaxErr):
		return DecodeSyntax
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return DecodeSyntax
	default:
		// Type mismatches, unknown fields, and enum UnmarshalJSON failures.
		return DecodeShape
	}
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "null"
	}
	return t.String()
}
