package calibration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"
)

// Error codes for the calibration workflow.
const (
	CodeROITooSmall          = "E101"
	CodeControllerConfigMiss = "E103"
	CodeCalibrationFailed    = "E104"
)

var (
	// ErrROITooSmall is returned when a capture region is one pixel or less in either dimension.
	ErrROITooSmall = errors.New("E101: ROI size is too small. Drag to select a larger area.")
	// ErrControllerConfigMissing is returned when controllerConfig.json does not exist.
	ErrControllerConfigMissing = errors.New("E103: controllerConfig.json not found.")
)

// FailedError wraps any failure of the calibration workflow.
type FailedError struct {
	Err error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("E104: Calibration failed: %v", e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// Failed wraps err as an E104 calibration failure. A nil err yields nil.
func Failed(err error) error {
	if err == nil {
		return nil
	}
	return &FailedError{Err: err}
}

// ControllerConfig is the editable controllerConfig.json document. Unknown
// sections are preserved on Save.
type ControllerConfig struct {
	raw map[string]any
}

// LoadControllerConfig reads path. A missing file yields ErrControllerConfigMissing.
func LoadControllerConfig(path string) (*ControllerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrControllerConfigMissing
		}
		return nil, fmt.Errorf("calibration: read controller config: %w", err)
	}
	return ParseControllerConfig(data)
}

// ParseControllerConfig decodes a controllerConfig.json document.
func ParseControllerConfig(data []byte) (*ControllerConfig, error) {
	raw := map[string]any{}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("calibration: decode controller config: %w", err)
		}
	}
	return &ControllerConfig{raw: raw}, nil
}

// NewControllerConfig returns an empty document.
func NewControllerConfig() *ControllerConfig {
	return &ControllerConfig{raw: map[string]any{}}
}

// Raw returns the underlying document.
func (c *ControllerConfig) Raw() map[string]any {
	return c.raw
}

// Controls flattens sliders and wheel components into calibrated targets and
// metadata. Controls whose coordinates are empty or unparseable get metadata only.
func (c *ControllerConfig) Controls() (map[string]Point, map[string]ControlMeta) {
	targets := map[string]Point{}
	meta := map[string]ControlMeta{}

	for name, details := range c.section("sliders") {
		d, ok := details.(map[string]any)
		if !ok {
			continue
		}
		if pt, ok := pointOf(d); ok {
			targets[name] = pt
		}
		meta[name] = metaOf(d, "slider", name)
	}

	for wheel, comps := range c.section("wheels") {
		cm, ok := comps.(map[string]any)
		if !ok {
			continue
		}
		for comp, details := range cm {
			d, ok := details.(map[string]any)
			if !ok {
				continue
			}
			name := wheel + "_" + comp
			if pt, ok := pointOf(d); ok {
				targets[name] = pt
			}
			meta[name] = metaOf(d, "wheel_component", wheel+" "+comp)
		}
	}
	return targets, meta
}

// ROI parses ROICoordinates. ok is false when the section is absent or incomplete.
func (c *ControllerConfig) ROI() (roi ROI, ok bool, err error) {
	sec := c.section("ROICoordinates")
	lt, _ := sec["left_top"].(string)
	rb, _ := sec["right_bottom"].(string)
	if lt == "" || rb == "" {
		return ROI{}, false, nil
	}
	x0, y0, err := parsePair(lt)
	if err != nil {
		return ROI{}, false, fmt.Errorf("calibration: left_top: %w", err)
	}
	x1, y1, err := parsePair(rb)
	if err != nil {
		return ROI{}, false, fmt.Errorf("calibration: right_bottom: %w", err)
	}
	return ROI{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}, true, nil
}

// SetROI stores roi as ROICoordinates.
func (c *ControllerConfig) SetROI(roi ROI) {
	c.raw["ROICoordinates"] = map[string]any{
		"left_top":     fmt.Sprintf("%d,%d", roi.X, roi.Y),
		"right_bottom": fmt.Sprintf("%d,%d", roi.X+roi.Width, roi.Y+roi.Height),
	}
}

// SetCoordinate records a calibrated point. name is a slider, a wheel (with
// component set) or "fullResetButton". Coordinates are stored as strings.
func (c *ControllerConfig) SetCoordinate(name, component string, pt Point) error {
	entry := func(m map[string]any) {
		m["x"] = strconv.Itoa(pt.X)
		m["y"] = strconv.Itoa(pt.Y)
	}
	if component != "" {
		wheel, ok := c.section("wheels")[name].(map[string]any)
		if !ok {
			return fmt.Errorf("calibration: unknown wheel %q", name)
		}
		d, ok := wheel[component].(map[string]any)
		if !ok {
			return fmt.Errorf("calibration: unknown component %q of wheel %q", component, name)
		}
		entry(d)
		return nil
	}
	if d, ok := c.section("sliders")[name].(map[string]any); ok {
		entry(d)
		return nil
	}
	if name == "fullResetButton" {
		d, ok := c.raw[name].(map[string]any)
		if !ok {
			d = map[string]any{}
			c.raw[name] = d
		}
		entry(d)
		return nil
	}
	return fmt.Errorf("calibration: unknown control %q", name)
}

// IsCalibrated reports whether any slider or wheel component has coordinates.
func (c *ControllerConfig) IsCalibrated() bool {
	targets, _ := c.Controls()
	return len(targets) > 0
}

// Save writes the document as indented JSON.
func (c *ControllerConfig) Save(path string) error {
	data, err := json.MarshalIndent(c.raw, "", "  ")
	if err != nil {
		return fmt.Errorf("calibration: encode controller config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ControlList returns "name" for sliders and "wheel.component" for wheels, sorted.
func (c *ControllerConfig) ControlList() []string {
	var out []string
	for name := range c.section("sliders") {
		out = append(out, name)
	}
	for wheel, comps := range c.section("wheels") {
		if cm, ok := comps.(map[string]any); ok {
			for comp := range cm {
				out = append(out, wheel+"."+comp)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (c *ControllerConfig) section(name string) map[string]any {
	m, _ := c.raw[name].(map[string]any)
	return m
}

func pointOf(d map[string]any) (Point, bool) {
	x, okx := intOf(d["x"])
	y, oky := intOf(d["y"])
	if !okx || !oky {
		return Point{}, false
	}
	return Point{X: x, Y: y}, true
}

func metaOf(d map[string]any, typ, desc string) ControlMeta {
	return ControlMeta{
		Type:        typ,
		Description: desc,
		Min:         floatOf(d["min"]),
		Max:         floatOf(d["max"]),
		Default:     floatOf(d["defaultValue"]),
	}
}

func intOf(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f), true
		}
	}
	return 0, false
}

func floatOf(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

func parsePair(s string) (int, int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected \"x,y\", got %q", s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}
