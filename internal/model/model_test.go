package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/celergeo/internal/protocol"
)

func TestModelSetupDecode(t *testing.T) {
	gdml := filepath.Join(t.TempDir(), "foo.gdml")
	require.NoError(t, os.WriteFile(gdml, []byte("<gdml />"), 0o644))

	line, err := protocol.Encode(map[string]any{"geometry_file": gdml})
	require.NoError(t, err)

	ms, err := protocol.Decode[ModelSetup](line)
	require.NoError(t, err)
	assert.Equal(t, gdml, ms.GeometryFile)
	assert.Nil(t, ms.CudaStackSize)
}

func TestModelSetupRequiresExistingFile(t *testing.T) {
	_, err := protocol.Decode[ModelSetup](`{"geometry_file": "/does/not/exist.gdml"}`)
	var de *protocol.DecodingError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, protocol.DecodeShape, de.Kind)

	_, err = protocol.Decode[ModelSetup](`{}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geometry_file is required")
}

func TestModelSetupRejectsNegativeSizes(t *testing.T) {
	gdml := filepath.Join(t.TempDir(), "foo.gdml")
	require.NoError(t, os.WriteFile(gdml, []byte("<gdml />"), 0o644))
	line := `{"geometry_file": "` + gdml + `", "cuda_stack_size": -1}`

	_, err := protocol.Decode[ModelSetup](line)
	require.Error(t, err)
}

func TestImageInputDefaults(t *testing.T) {
	ii, err := protocol.Decode[ImageInput](`{"lower_left": [-1, 0, 0], "upper_right": [1, 1, 0], "vertical_pixels": 1024}`)
	require.NoError(t, err)
	assert.Equal(t, ImageInput{
		LowerLeft:      Real3{-1, 0, 0},
		UpperRight:     Real3{1, 1, 0},
		Rightward:      Real3{1, 0, 0},
		VerticalPixels: 1024,
	}, ii)

	ii, err = protocol.Decode[ImageInput](`{"upper_right": [1, 1, 0]}`)
	require.NoError(t, err)
	assert.Equal(t, NewImageInput(Real3{1, 1, 0}), ii)
}

func TestImageInputInvalid(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"missing upper_right", `{"lower_left": [0, 0, 0]}`},
		{"short vector", `{"upper_right": [1, 1]}`},
		{"long vector", `{"upper_right": [1, 1, 1, 1]}`},
		{"unknown field", `{"upper_right": [1, 1, 0], "zoom": 2}`},
		{"negative pixels", `{"upper_right": [1, 1, 0], "vertical_pixels": -4}`},
		{"zero divisor", `{"upper_right": [1, 1, 0], "horizontal_divisor": 0}`},
		{"degenerate window", `{"upper_right": [0, 0, 0]}`},
		{"zero rightward", `{"upper_right": [1, 1, 0], "rightward": [0, 0, 0]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.Decode[ImageInput](tt.line)
			var de *protocol.DecodingError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, protocol.DecodeShape, de.Kind)
		})
	}
}

func TestTraceInputEncoding(t *testing.T) {
	image := NewImageInput(Real3{1, 1, 0})
	image.VerticalPixels = 4
	inp := NewTraceInput("/tmp/out.bin", &image)
	g := Orange
	inp.Geometry = &g

	line, err := protocol.Encode(inp)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"_cmd": "trace",
		"geometry": "orange",
		"volumes": true,
		"bin_file": "/tmp/out.bin",
		"image": {
			"lower_left": [0, 0, 0],
			"upper_right": [1, 1, 0],
			"rightward": [1, 0, 0],
			"vertical_pixels": 4
		}
	}`, line)

	back, err := protocol.Decode[TraceInput](line)
	require.NoError(t, err)
	assert.Equal(t, inp, back)
}

func TestOrangeStatsEncoding(t *testing.T) {
	line, err := protocol.Encode(OrangeStats{})
	require.NoError(t, err)
	assert.Equal(t, `{"_cmd":"orange_stats"}`, line)
}

func TestEnumAliases(t *testing.T) {
	g, err := ParseGeometryEngine("ORANGE")
	require.NoError(t, err)
	assert.Equal(t, Orange, g)

	m, err := ParseMemSpace("Device")
	require.NoError(t, err)
	assert.Equal(t, Device, m)

	_, err = ParseGeometryEngine("csg")
	assert.ErrorContains(t, err, "invalid geometry engine")

	out, err := protocol.Decode[ImageParams](`{"origin":[0,1,0],"down":[0,-1,0],"right":[1,0,0],"pixel_width":0.25,"dims":[4,4],"_units":"CGS"}`)
	require.NoError(t, err)
	assert.Equal(t, CGS, out.Units)
	assert.Equal(t, "cm", out.Units.LengthUnit())
}

func TestTraceOutputDecode(t *testing.T) {
	line := `{
		"trace": {"_cmd": "trace", "geometry": "orange", "memspace": "host", "volumes": true, "bin_file": "/tmp/x.bin"},
		"image": {"origin": [0, 1, 0], "down": [0, -1, 0], "right": [1, 0, 0], "pixel_width": 0.25, "dims": [4, 4], "_units": "cgs"},
		"volumes": ["world0x1234", "box"],
		"sizeof_int": 4
	}`
	out, err := protocol.Decode[TraceOutput](line)
	require.NoError(t, err)
	assert.Equal(t, Orange, *out.Trace.Geometry)
	assert.Equal(t, Host, *out.Trace.Memspace)
	assert.Equal(t, 4, out.Image.Width())
	assert.Equal(t, 4, out.Image.Height())
	assert.Equal(t, []string{"world0x1234", "box"}, out.Volumes)

	_, err = protocol.Decode[TraceOutput](`{"trace": {"bin_file": "x"}, "image": {"origin":[0,0,0],"down":[0,0,0],"right":[0,0,0],"pixel_width":0,"dims":[1,1],"_units":"si"}, "sizeof_int": 4}`)
	assert.ErrorContains(t, err, "pixel_width must be positive")
}

func TestToleranceValidate(t *testing.T) {
	tests := []struct {
		tol     Tolerance
		wantErr bool
	}{
		{Tolerance{Rel: 1e-8, Abs: 1e-5}, false},
		{Tolerance{Rel: 0, Abs: 1e-5}, true},
		{Tolerance{Rel: 1, Abs: 1e-5}, true},
		{Tolerance{Rel: 0.5, Abs: 0}, true},
	}
	for _, tt := range tests {
		err := tt.tol.Validate()
		if tt.wantErr {
			assert.Error(t, err, "%+v", tt.tol)
		} else {
			assert.NoError(t, err, "%+v", tt.tol)
		}
	}
}
