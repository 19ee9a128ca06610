package model

import (
	"errors"
	"fmt"
)

// ImageParams describes the image the child rendered.
type ImageParams struct {
	// Origin is the upper left point of the image.
	Origin Real3 `json:"origin"`
	Down   Real3 `json:"down"`
	Right  Real3 `json:"right"`

	PixelWidth float64    `json:"pixel_width"`
	Dims       Size2      `json:"dims"`
	Units      UnitSystem `json:"_units"`
}

func (p *ImageParams) Validate() error {
	if !(p.PixelWidth > 0) {
		return fmt.Errorf("pixel_width must be positive, got %g", p.PixelWidth)
	}
	if p.Units == "" {
		return errors.New("_units is required")
	}
	return nil
}

// Width returns the horizontal pixel count.
func (p *ImageParams) Width() int { return p.Dims[0] }

// Height returns the vertical pixel count.
func (p *ImageParams) Height() int { return p.Dims[1] }

// TraceOutput is the reply to a trace command.
type TraceOutput struct {
	Trace   TraceSetup  `json:"trace"`
	Image   ImageParams `json:"image"`
	Volumes []string    `json:"volumes,omitempty"`

	// SizeofInt is the byte width of each pixel in the side-channel file.
	SizeofInt int `json:"sizeof_int"`
}

func (o *TraceOutput) Validate() error {
	if err := o.Trace.Validate(); err != nil {
		return fmt.Errorf("trace: %w", err)
	}
	if err := o.Image.Validate(); err != nil {
		return fmt.Errorf("image: %w", err)
	}
	if o.SizeofInt <= 0 {
		return fmt.Errorf("sizeof_int must be positive, got %d", o.SizeofInt)
	}
	return nil
}

// OrangeScalars are scalar properties of an ORANGE geometry.
type OrangeScalars struct {
	MaxDepth         uint64    `json:"max_depth"`
	MaxFaces         uint64    `json:"max_faces"`
	MaxIntersections uint64    `json:"max_intersections"`
	MaxLogicDepth    uint64    `json:"max_logic_depth"`
	Tol              Tolerance `json:"tol"`
}

// BihSizes are bounding interval hierarchy tree sizes.
type BihSizes struct {
	BBoxes         uint64 `json:"bboxes"`
	InnerNodes     uint64 `json:"inner_nodes"`
	LeafNodes      uint64 `json:"leaf_nodes"`
	LocalVolumeIDs uint64 `json:"local_volume_ids"`
}

type UniverseIndexerSizes struct {
	Surfaces uint64 `json:"surfaces"`
	Volumes  uint64 `json:"volumes"`
}

// OrangeSizes are storage sizes of an ORANGE geometry.
type OrangeSizes struct {
	ConnectivityRecords uint64 `json:"connectivity_records"`
	Daughters           uint64 `json:"daughters"`
	FastReal3s          uint64 `json:"fast_real3s"`
	LocalSurfaceIDs     uint64 `json:"local_surface_ids"`
	LocalVolumeIDs      uint64 `json:"local_volume_ids"`
	LogicInts           uint64 `json:"logic_ints"`
	ObzRecords          uint64 `json:"obz_records"`
	RealIDs             uint64 `json:"real_ids"`
	Reals               uint64 `json:"reals"`
	RectArrays          uint64 `json:"rect_arrays"`
	SimpleUnits         uint64 `json:"simple_units"`
	SurfaceTypes        uint64 `json:"surface_types"`
	Transforms          uint64 `json:"transforms"`
	UniverseIndices     uint64 `json:"universe_indices"`
	UniverseTypes       uint64 `json:"universe_types"`
	VolumeIDs           uint64 `json:"volume_ids"`
	VolumeInstanceIDs   uint64 `json:"volume_instance_ids"`
	VolumeRecords       uint64 `json:"volume_records"`

	BIH             BihSizes             `json:"bih"`
	UniverseIndexer UniverseIndexerSizes `json:"universe_indexer"`
}

// OrangeParamsOutput is the reply to an orange_stats command.
type OrangeParamsOutput struct {
	Category string        `json:"_category"`
	Label    string        `json:"_label"`
	Scalars  OrangeScalars `json:"scalars"`
	Sizes    OrangeSizes   `json:"sizes"`
}

func (o *OrangeParamsOutput) Validate() error {
	if o.Category != "internal" || o.Label != "orange" {
		return fmt.Errorf("unexpected output wrapper %s/%s", o.Category, o.Label)
	}
	return o.Scalars.Tol.Validate()
}
