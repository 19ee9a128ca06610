package protocol

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
)

type sample struct {
	Name   string    `json:"name"`
	Count  int       `json:"count"`
	Coords []float64 `json:"coords,omitempty"`
}

type required struct {
	ID string `json:"id"`
}

func (r *required) Validate() error {
	if r.ID == "" {
		return errors.New("id is required")
	}
	return nil
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    string
		wantErr bool
	}{
		{name: "null sentinel", value: nil, want: Terminate},
		{name: "string", value: "hello", want: `"hello"`},
		{name: "list", value: []string{"foo", "bar"}, want: `["foo","bar"]`},
		{name: "struct", value: sample{Name: "a", Count: 2}, want: `{"name":"a","count":2}`},
		{name: "embedded newline is escaped", value: "one\ntwo", want: `"one\ntwo"`},
		{name: "channel is not serializable", value: make(chan int), wantErr: true},
		{name: "NaN is not serializable", value: math.NaN(), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Encode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var ee *EncodingError
				if !errors.As(err, &ee) {
					t.Fatalf("want *EncodingError, got %T", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Encode() = %s, want %s", got, tt.want)
			}
			if strings.Contains(got, "\n") {
				t.Error("encoded line contains a newline")
			}
		})
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	in := sample{Name: "world", Count: 3, Coords: []float64{0, 1.5, -2}}
	line, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode[sample](line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch: %+v != %+v", in, out)
	}

	list, err := Decode[[]any](`["success",["foo","bar"]]`)
	if err != nil {
		t.Fatalf("Decode list: %v", err)
	}
	want := []any{"success", []any{"foo", "bar"}}
	if !reflect.DeepEqual(list, want) {
		t.Errorf("got %v, want %v", list, want)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name     string
		decode   func(string) error
		input    string
		wantKind DecodeKind
	}{
		{
			name:     "invalid JSON",
			decode:   func(s string) error { _, err := Decode[sample](s); return err },
			input:    `{not json}`,
			wantKind: DecodeSyntax,
		},
		{
			name:     "empty input",
			decode:   func(s string) error { _, err := Decode[sample](s); return err },
			input:    ``,
			wantKind: DecodeSyntax,
		},
		{
			name:     "trailing data",
			decode:   func(s string) error { _, err := Decode[sample](s); return err },
			input:    `{"name":"a"} {"name":"b"}`,
			wantKind: DecodeSyntax,
		},
		{
			name:     "unknown field",
			decode:   func(s string) error { _, err := Decode[sample](s); return err },
			input:    `{"name":"a","extra":1}`,
			wantKind: DecodeShape,
		},
		{
			name:     "wrong type",
			decode:   func(s string) error { _, err := Decode[sample](s); return err },
			input:    `{"name":5}`,
			wantKind: DecodeShape,
		},
		{
			name:     "validator rejects",
			decode:   func(s string) error { _, err := Decode[required](s); return err },
			input:    `{}`,
			wantKind: DecodeShape,
		},
		{
			name:     "validator rejects pointer type",
			decode:   func(s string) error { _, err := Decode[*required](s); return err },
			input:    `{"id":""}`,
			wantKind: DecodeShape,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decode(tt.input)
			var de *DecodingError
			if !errors.As(err, &de) {
				t.Fatalf("want *DecodingError, got %v", err)
			}
			if de.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", de.Kind, tt.wantKind)
			}
		})
	}
}

func TestDecodeResultException(t *testing.T) {
	line := `{"_category":"result","_label":"exception","type":"celeritas::RuntimeError",` +
		`"what":"failed to open geometry","which":"runtime","file":"GeantGeoParams.cc","line":123,` +
		`"context":{"type":"celeritas::DebugError","what":null,"which":"precondition","condition":"file"}}`

	_, err := DecodeResult[sample](line)
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("want *RemoteError, got %v", err)
	}
	if re.Dump.Type != "celeritas::RuntimeError" {
		t.Errorf("type = %q", re.Dump.Type)
	}
	if re.Dump.What == nil || *re.Dump.What != "failed to open geometry" {
		t.Errorf("what = %v", re.Dump.What)
	}
	if re.Dump.Location() != "GeantGeoParams.cc:123" {
		t.Errorf("location = %q", re.Dump.Location())
	}
	if !strings.Contains(err.Error(), "caused by celeritas::DebugError (precondition) [file]") {
		t.Errorf("error text missing chained context: %s", err)
	}

	var cause *RemoteError
	if !errors.As(errors.Unwrap(err), &cause) || cause.Dump.Which != "precondition" {
		t.Errorf("Unwrap should expose the chained context, got %v", errors.Unwrap(err))
	}
}

func TestDecodeResultFallsBackToOriginalError(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind DecodeKind
	}{
		{name: "shape mismatch that is not an exception", input: `{"bogus":true}`, wantKind: DecodeShape},
		{name: "exception missing which", input: `{"type":"X","what":"y"}`, wantKind: DecodeShape},
		{name: "syntax error skips fallback", input: `{"type":`, wantKind: DecodeSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResult[sample](tt.input)
			var re *RemoteError
			if errors.As(err, &re) {
				t.Fatalf("unexpected RemoteError: %v", err)
			}
			var de *DecodingError
			if !errors.As(err, &de) {
				t.Fatalf("want *DecodingError, got %v", err)
			}
			if de.Type != "protocol.sample" {
				t.Errorf("error should describe the expected type, got %q", de.Type)
			}
			if de.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", de.Kind, tt.wantKind)
			}
		})
	}
}

func TestDecodeResultSuccess(t *testing.T) {
	got, err := DecodeResult[string](`"success"`)
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if got != "success" {
		t.Errorf("got %q", got)
	}
}
