package calibration

import (
	"errors"
	"fmt"
)

// LoadFromControllerConfig reads the controller config at path and builds a
// profile from its ROI.
func LoadFromControllerConfig(path string) (*Profile, error) {
	cc, err := LoadControllerConfig(path)
	if err != nil {
		return nil, err
	}
	return FromControllerConfig(cc)
}

// RecordROI stores roi in the controller config at path, creating the file
// when it does not exist, and returns the profile built from the result.
func RecordROI(path string, roi ROI) (*Profile, error) {
	if roi.Width <= 1 || roi.Height <= 1 {
		return nil, ErrROITooSmall
	}
	cc, err := LoadControllerConfig(path)
	switch {
	case errors.Is(err, ErrControllerConfigMissing):
		cc = NewControllerConfig()
	case err != nil:
		return nil, err
	}
	cc.SetROI(roi)
	if err := cc.Save(path); err != nil {
		return nil, fmt.Errorf("calibration: save controller config: %w", err)
	}
	return FromControllerConfig(cc)
}
