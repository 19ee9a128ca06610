package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Command names carried in the "_cmd" field.
const (
	CmdTrace       = "trace"
	CmdOrangeStats = "orange_stats"
)

// DefaultVerticalPixels is the image height used when none is given.
const DefaultVerticalPixels = 512

// ModelSetup is the first message of a session. The child echoes it back
// with the values it actually used.
type ModelSetup struct {
	CudaStackSize *uint64 `json:"cuda_stack_size,omitempty"`
	CudaHeapSize  *uint64 `json:"cuda_heap_size,omitempty"`

	// GeometryFile is the GDML input; it must exist.
	GeometryFile string `json:"geometry_file"`

	// PerfettoFile receives profiling output.
	PerfettoFile *string `json:"perfetto_file,omitempty"`
}

func (m *ModelSetup) Validate() error {
	if m.GeometryFile == "" {
		return errors.New("geometry_file is required")
	}
	info, err := os.Stat(m.GeometryFile)
	if err != nil {
		return fmt.Errorf("geometry_file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("geometry_file %s is a directory", m.GeometryFile)
	}
	return nil
}

// TraceSetup selects the engine and output file for a trace.
type TraceSetup struct {
	Cmd string `json:"_cmd,omitempty"`

	Geometry *GeometryEngine `json:"geometry,omitempty"`
	Memspace *MemSpace       `json:"memspace,omitempty"`

	// Volumes asks the child to list all volume names.
	Volumes bool `json:"volumes"`

	// BinFile is where the child writes the raw image.
	BinFile string `json:"bin_file"`
}

func (t *TraceSetup) Validate() error {
	if t.Cmd != "" && t.Cmd != CmdTrace {
		return fmt.Errorf("_cmd must be %q, got %q", CmdTrace, t.Cmd)
	}
	if t.BinFile == "" {
		return errors.New("bin_file is required")
	}
	return nil
}

// ImageInput describes the rasterized window.
type ImageInput struct {
	LowerLeft  Real3 `json:"lower_left"`
	UpperRight Real3 `json:"upper_right"`

	// Rightward is the ray direction that points right in the image.
	Rightward Real3 `json:"rightward"`

	VerticalPixels uint `json:"vertical_pixels"`

	// HorizontalDivisor widens the window until its width is divisible by it.
	HorizontalDivisor *uint `json:"horizontal_divisor,omitempty"`
}

// NewImageInput returns an image spanning the origin to upperRight with
// default direction and resolution.
func NewImageInput(upperRight Real3) ImageInput {
	return ImageInput{
		UpperRight:     upperRight,
		Rightward:      Real3{1, 0, 0},
		VerticalPixels: DefaultVerticalPixels,
	}
}

// UnmarshalJSON fills defaults for omitted fields and requires upper_right.
func (in *ImageInput) UnmarshalJSON(data []byte) error {
	type plain ImageInput
	*in = NewImageInput(Real3{})
	aux := struct {
		*plain
		UpperRight *Real3 `json:"upper_right"`
	}{plain: (*plain)(in)}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&aux); err != nil {
		return err
	}
	if aux.UpperRight == nil {
		return errors.New("upper_right is required")
	}
	in.UpperRight = *aux.UpperRight
	return nil
}

func (in *ImageInput) Validate() error {
	if in.Rightward.IsZero() {
		return errors.New("rightward must be a nonzero direction")
	}
	if in.LowerLeft == in.UpperRight {
		return errors.New("lower_left and upper_right must differ")
	}
	if in.HorizontalDivisor != nil && *in.HorizontalDivisor == 0 {
		return errors.New("horizontal_divisor must be positive")
	}
	return nil
}

// TraceInput is a trace command. A nil Image reuses the previous one.
type TraceInput struct {
	TraceSetup
	Image *ImageInput `json:"image,omitempty"`
}

// NewTraceInput returns a trace command with the _cmd tag set.
func NewTraceInput(binFile string, image *ImageInput) TraceInput {
	return TraceInput{
		TraceSetup: TraceSetup{Cmd: CmdTrace, Volumes: true, BinFile: binFile},
		Image:      image,
	}
}

func (t *TraceInput) Validate() error {
	if err := t.TraceSetup.Validate(); err != nil {
		return err
	}
	if t.Image != nil {
		if err := t.Image.Validate(); err != nil {
			return fmt.Errorf("image: %w", err)
		}
	}
	return nil
}

// OrangeStats requests ORANGE data structure sizes.
type OrangeStats struct{}

// MarshalJSON always emits the command tag.
func (OrangeStats) MarshalJSON() ([]byte, error) {
	return []byte(`{"_cmd":"` + CmdOrangeStats + `"}`), nil
}
