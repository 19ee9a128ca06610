package protocol

import (
	"fmt"
	"strings"
)

// Terminate is the line sent to ask the child to exit its command loop.
const Terminate = "null"

// Validator is implemented by message types that need checks beyond what
// strict JSON decoding enforces (required fields, value ranges).
type Validator interface {
	Validate() error
}

// ExceptionDump is the structured failure the child writes in place of a
// result when a command throws. Context holds the chained cause, if any.
type ExceptionDump struct {
	Category string `json:"_category,omitempty"` // result
	Label    string `json:"_label,omitempty"`    // exception

	Type    string         `json:"type"`
	Context *ExceptionDump `json:"context,omitempty"`

	What      *string `json:"what"`
	Which     string  `json:"which"`
	Condition *string `json:"condition,omitempty"`
	File      *string `json:"file,omitempty"`
	Line      *int    `json:"line,omitempty"`
}

// Validate checks the fields every exception payload must carry.
func (d *ExceptionDump) Validate() error {
	if d.Category != "" && d.Category != "result" {
		return fmt.Errorf("exception _category must be %q, got %q", "result", d.Category)
	}
	if d.Label != "" && d.Label != "exception" {
		return fmt.Errorf("exception _label must be %q, got %q", "exception", d.Label)
	}
	if d.Type == "" {
		return fmt.Errorf("exception missing required field: type")
	}
	if d.Which == "" {
		return fmt.Errorf("exception missing required field: which")
	}
	if d.Context != nil {
		if err := d.Context.Validate(); err != nil {
			return fmt.Errorf("context: %w", err)
		}
	}
	return nil
}

// Location returns "file:line", "file", or "" depending on what was reported.
func (d *ExceptionDump) Location() string {
	if d.File == nil || *d.File == "" {
		return ""
	}
	if d.Line == nil {
		return *d.File
	}
	return fmt.Sprintf("%s:%d", *d.File, *d.Line)
}

func (d *ExceptionDump) String() string {
	var b strings.Builder
	d.write(&b)
	for c := d.Context; c != nil; c = c.Context {
		b.WriteString(": caused by ")
		c.write(&b)
	}
	return b.String()
}

func (d *ExceptionDump) write(b *strings.Builder) {
	fmt.Fprintf(b, "%s (%s)", d.Type, d.Which)
	if d.What != nil && *d.What != "" {
		fmt.Fprintf(b, " %s", *d.What)
	}
	if d.Condition != nil && *d.Condition != "" {
		fmt.Fprintf(b, " [%s]", *d.Condition)
	}
	if loc := d.Location(); loc != "" {
		fmt.Fprintf(b, " at %s", loc)
	}
}
