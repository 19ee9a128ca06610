// Package model defines the JSON messages exchanged with celer-geo.
//
// Each message type has exactly one schema. Types that carry constraints
// beyond their Go shape implement protocol.Validator so that strict
// decoding rejects out-of-range values.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Real3 is a point or direction in three dimensions.
type Real3 [3]float64

// UnmarshalJSON requires exactly three elements.
func (r *Real3) UnmarshalJSON(data []byte) error {
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if len(v) != 3 {
		return fmt.Errorf("expected 3 components, got %d", len(v))
	}
	copy(r[:], v)
	return nil
}

// IsZero reports whether all components are zero.
func (r Real3) IsZero() bool { return r == Real3{} }

// Size2 is an image extent in pixels: width, height.
type Size2 [2]int

// UnmarshalJSON requires exactly two non-negative elements.
func (s *Size2) UnmarshalJSON(data []byte) error {
	var v []int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if len(v) != 2 {
		return fmt.Errorf("expected 2 components, got %d", len(v))
	}
	if v[0] < 0 || v[1] < 0 {
		return fmt.Errorf("dimensions must be non-negative, got %v", v)
	}
	copy(s[:], v)
	return nil
}

// Tolerance is the relative and absolute tolerance for construction and
// tracking.
type Tolerance struct {
	Rel float64 `json:"rel"`
	Abs float64 `json:"abs"`
}

func (t *Tolerance) Validate() error {
	if !(t.Rel > 0 && t.Rel < 1) {
		return fmt.Errorf("tolerance rel must be in (0, 1), got %g", t.Rel)
	}
	if !(t.Abs > 0) {
		return fmt.Errorf("tolerance abs must be positive, got %g", t.Abs)
	}
	return nil
}

// decodeEnum is shared decoding for the string enumerations below. Values are
// matched case-insensitively and stored in canonical lower case.
func decodeEnum(data []byte, kind string, allowed []string) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", err
	}
	lower := strings.ToLower(s)
	for _, a := range allowed {
		if lower == a {
			return a, nil
		}
	}
	return "", fmt.Errorf("invalid %s %q (expected one of %s)", kind, s, strings.Join(allowed, ", "))
}

// GeometryEngine selects the geometry implementation used for a trace.
type GeometryEngine string

const (
	Geant4  GeometryEngine = "geant4"
	VecGeom GeometryEngine = "vecgeom"
	Orange  GeometryEngine = "orange"
)

var geometryEngines = []string{string(Geant4), string(VecGeom), string(Orange)}

func (g *GeometryEngine) UnmarshalJSON(data []byte) error {
	v, err := decodeEnum(data, "geometry engine", geometryEngines)
	*g = GeometryEngine(v)
	return err
}

// ParseGeometryEngine is the text form of UnmarshalJSON.
func ParseGeometryEngine(s string) (GeometryEngine, error) {
	var g GeometryEngine
	err := g.UnmarshalJSON(quote(s))
	return g, err
}

// MemSpace is the execution space for a trace.
type MemSpace string

const (
	Host   MemSpace = "host"
	Device MemSpace = "device"
)

func (m *MemSpace) UnmarshalJSON(data []byte) error {
	v, err := decodeEnum(data, "memspace", []string{string(Host), string(Device)})
	*m = MemSpace(v)
	return err
}

// ParseMemSpace is the text form of UnmarshalJSON.
func ParseMemSpace(s string) (MemSpace, error) {
	var m MemSpace
	err := m.UnmarshalJSON(quote(s))
	return m, err
}

// UnitSystem is the unit convention of reported lengths.
type UnitSystem string

const (
	CGS   UnitSystem = "cgs"
	SI    UnitSystem = "si"
	CLHEP UnitSystem = "clhep"
)

func (u *UnitSystem) UnmarshalJSON(data []byte) error {
	v, err := decodeEnum(data, "unit system", []string{string(CGS), string(SI), string(CLHEP)})
	*u = UnitSystem(v)
	return err
}

// LengthUnit returns the length unit symbol for the system, or "" if unknown.
func (u UnitSystem) LengthUnit() string {
	switch u {
	case CGS:
		return "cm"
	case CLHEP:
		return "mm"
	case SI:
		return "m"
	default:
		return ""
	}
}

func quote(s string) []byte {
	var b bytes.Buffer
	_ = json.NewEncoder(&b).Encode(s)
	return bytes.TrimSpace(b.Bytes())
}
