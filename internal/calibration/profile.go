// Package calibration maps logical control names to screen coordinates and
// carries the metadata (type, range, default) the model needs to reason about
// each control.
package calibration

import (
	"fmt"
	"os"
	"sort"

	json "github.com/json-iterator/go"
)

// CenterTarget is the synthetic target that always points at the middle of the ROI.
const CenterTarget = "roi_center"

// ROI is the capture rectangle in screen pixels.
type ROI struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center uses integer division, so odd sizes round toward the origin.
func (r ROI) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Point is an absolute screen coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ControlMeta describes a calibrated control. Range fields are nil when unknown.
type ControlMeta struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Default     *float64 `json:"defaultValue,omitempty"`
}

// Profile is the calibration state handed to the executor, the runner and the
// model client. It is not safe for concurrent mutation; the controller owns it.
type Profile struct {
	ROI             ROI
	ScreenWidth     int
	ScreenHeight    int
	Targets         map[string]Point
	ControlMetadata map[string]ControlMeta
	FullConfig      map[string]any
}

// FromROI builds a profile around roi. Targets and metadata come from cc when
// it is non-nil. Zero screen dimensions fall back to the ROI size.
func FromROI(roi ROI, screenWidth, screenHeight int, cc *ControllerConfig) *Profile {
	if screenWidth <= 0 || screenHeight <= 0 {
		screenWidth, screenHeight = roi.Width, roi.Height
	}
	p := &Profile{
		ROI:             roi,
		ScreenWidth:     screenWidth,
		ScreenHeight:    screenHeight,
		Targets:         map[string]Point{},
		ControlMetadata: map[string]ControlMeta{},
		FullConfig:      map[string]any{},
	}
	if cc != nil {
		targets, meta := cc.Controls()
		for k, v := range targets {
			p.Targets[k] = v
		}
		for k, v := range meta {
			p.ControlMetadata[k] = v
		}
		p.FullConfig = cc.Raw()
	}
	p.refreshCenter()
	return p
}

// FromControllerConfig builds a profile from the ROI stored in cc.
func FromControllerConfig(cc *ControllerConfig) (*Profile, error) {
	roi, ok, err := cc.ROI()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("controller config has no ROICoordinates")
	}
	return FromROI(roi, 0, 0, cc), nil
}

func (p *Profile) refreshCenter() {
	if p.Targets == nil {
		p.Targets = map[string]Point{}
	}
	if p.ControlMetadata == nil {
		p.ControlMetadata = map[string]ControlMeta{}
	}
	p.Targets[CenterTarget] = p.ROI.Center()
	p.ControlMetadata[CenterTarget] = ControlMeta{Type: "point", Description: "ROI center"}
}

// UpdateROI replaces the ROI and recomputes roi_center. Other targets are kept.
func (p *Profile) UpdateROI(roi ROI) {
	p.ROI = roi
	p.refreshCenter()
}

// Target returns the calibrated point for name.
func (p *Profile) Target(name string) (Point, bool) {
	if p == nil {
		return Point{}, false
	}
	pt, ok := p.Targets[name]
	return pt, ok
}

// HasTarget implements action.TargetSet.
func (p *Profile) HasTarget(name string) bool {
	_, ok := p.Target(name)
	return ok
}

// TargetNames returns the calibrated target names, sorted.
func (p *Profile) TargetNames() []string {
	names := make([]string, 0, len(p.Targets))
	for k := range p.Targets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ControlNames returns the names of all described controls except roi_center, sorted.
func (p *Profile) ControlNames() []string {
	names := make([]string, 0, len(p.ControlMetadata))
	for k := range p.ControlMetadata {
		if k == CenterTarget {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Calibrated reports whether p names anything to act on: a described
// control or a target other than roi_center.
func (p *Profile) Calibrated() bool {
	if p == nil {
		return false
	}
	if len(p.ControlNames()) > 0 {
		return true
	}
	for name := range p.Targets {
		if name != CenterTarget {
			return true
		}
	}
	return false
}

// Defaults returns each control's default value, skipping roi_center and
// controls without one.
func (p *Profile) Defaults() map[string]float64 {
	out := map[string]float64{}
	for name, meta := range p.ControlMetadata {
		if name == CenterTarget || meta.Default == nil {
			continue
		}
		out[name] = *meta.Default
	}
	return out
}

// Clone returns a deep copy of the target and metadata maps. FullConfig is shared.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Targets = make(map[string]Point, len(p.Targets))
	for k, v := range p.Targets {
		c.Targets[k] = v
	}
	c.ControlMetadata = make(map[string]ControlMeta, len(p.ControlMetadata))
	for k, v := range p.ControlMetadata {
		c.ControlMetadata[k] = v
	}
	return &c
}

type profileJSON struct {
	ROI             ROI                    `json:"roi"`
	ScreenWidth     int                    `json:"screen_width"`
	ScreenHeight    int                    `json:"screen_height"`
	Targets         map[string]Point       `json:"targets"`
	ControlMetadata map[string]ControlMeta `json:"control_metadata"`
	FullConfig      map[string]any         `json:"full_config"`
}

// MarshalJSON renders the profile in its persisted shape.
func (p Profile) MarshalJSON() ([]byte, error) {
	out := profileJSON{
		ROI:             p.ROI,
		ScreenWidth:     p.ScreenWidth,
		ScreenHeight:    p.ScreenHeight,
		Targets:         p.Targets,
		ControlMetadata: p.ControlMetadata,
		FullConfig:      p.FullConfig,
	}
	if out.Targets == nil {
		out.Targets = map[string]Point{}
	}
	if out.ControlMetadata == nil {
		out.ControlMetadata = map[string]ControlMeta{}
	}
	if out.FullConfig == nil {
		out.FullConfig = map[string]any{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a profile; roi_center is always recomputed from the ROI.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var in profileJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("calibration: decode profile: %w", err)
	}
	*p = Profile{
		ROI:             in.ROI,
		ScreenWidth:     in.ScreenWidth,
		ScreenHeight:    in.ScreenHeight,
		Targets:         in.Targets,
		ControlMetadata: in.ControlMetadata,
		FullConfig:      in.FullConfig,
	}
	p.refreshCenter()
	return nil
}

// LoadProfile reads a profile previously written by SaveProfile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calibration: read profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveProfile writes p as indented JSON.
func SaveProfile(path string, p *Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("calibration: encode profile: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
