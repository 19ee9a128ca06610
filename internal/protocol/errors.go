package protocol

import (
	"errors"
	"fmt"
)

// ErrEmbeddedNewline is returned when an encoded line would break framing.
var ErrEmbeddedNewline = errors.New("line contains a newline")

// EncodingError reports a request value that cannot be serialized.
type EncodingError struct {
	Type string
	Err  error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Type, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// DecodeKind separates unparseable text from well-formed JSON of the wrong shape.
type DecodeKind int

const (
	DecodeSyntax DecodeKind = iota
	DecodeShape
)

func (k DecodeKind) String() string {
	if k == DecodeShape {
		return "shape"
	}
	return "syntax"
}

// maxQuotedLine caps how much of an offending line is kept in a DecodingError.
const maxQuotedLine = 256

// DecodingError reports a response line that could not be decoded as Type.
type DecodingError struct {
	Kind DecodeKind
	Type string
	Line string
	Err  error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("decode %s (%s error): %v", e.Type, e.Kind, e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }

// RemoteError wraps an exception reported by the child instead of a result.
// Unwrap walks the chained context as further RemoteErrors.
type RemoteError struct {
	Dump ExceptionDump
}

func (e *RemoteError) Error() string {
	return "remote exception: " + e.Dump.String()
}

func (e *RemoteError) Unwrap() error {
	if e.Dump.Context == nil {
		return nil
	}
	return &RemoteError{Dump: *e.Dump.Context}
}

func newDecodingError(kind DecodeKind, typ, line string, err error) *DecodingError {
	if len(line) > maxQuotedLine {
		line = line[:maxQuotedLine]
	}
	return &DecodingError{Kind: kind, Type: typ, Line: line, Err: err}
}
