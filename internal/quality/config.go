package quality

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/face-checkin/internal/constants"
	"github.com/kozaktomas/face-checkin/internal/landmark"
)

// ExposureRegion selects where mean luminance is measured.
type ExposureRegion string

// Exposure regions.
const (
	RegionFrame ExposureRegion = "frame"
	RegionFace  ExposureRegion = "face"
)

// DistanceProxy selects how the face size is estimated.
type DistanceProxy string

// Distance proxies.
const (
	ProxyBoxWidth    DistanceProxy = "bbox_width"
	ProxyInterOcular DistanceProxy = "inter_ocular"
)

// Config holds every quality threshold. Luminance is on a 0-255 scale, sizes and
// margins are fractions of the frame, centering is a fraction of the frame
// half-width/half-height, yaw and pitch are unitless ratios and roll is in degrees.
type Config struct {
	LuminanceLow       float64         `yaml:"luminance_low" json:"luminance_low"`
	LuminanceHigh      float64         `yaml:"luminance_high" json:"luminance_high"`
	ExposureRegion     ExposureRegion  `yaml:"exposure_region" json:"exposure_region"`
	DistanceProxy      DistanceProxy   `yaml:"distance_proxy" json:"distance_proxy"`
	TooFar             float64         `yaml:"too_far" json:"too_far"`
	TooClose           float64         `yaml:"too_close" json:"too_close"`
	CutoffMargin       float64         `yaml:"cutoff_margin" json:"cutoff_margin"`
	CenteringTolerance float64         `yaml:"centering_tolerance" json:"centering_tolerance"`
	YawTolerance       float64         `yaml:"yaw_tolerance" json:"yaw_tolerance"`
	PitchTolerance     float64         `yaml:"pitch_tolerance" json:"pitch_tolerance"`
	NeutralPitch       float64         `yaml:"neutral_pitch" json:"neutral_pitch"`
	RollTolerance      float64         `yaml:"roll_tolerance" json:"roll_tolerance"`
	RequireOpenEyes    bool            `yaml:"require_open_eyes" json:"require_open_eyes"`
	EyeOpenness        float64         `yaml:"eye_openness" json:"eye_openness"`
	Layout             landmark.Layout `yaml:"layout" json:"layout"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		LuminanceLow:       constants.DefaultLuminanceLow,
		LuminanceHigh:      constants.DefaultLuminanceHigh,
		ExposureRegion:     RegionFrame,
		DistanceProxy:      ProxyBoxWidth,
		TooFar:             constants.DefaultTooFar,
		TooClose:           constants.DefaultTooClose,
		CutoffMargin:       constants.DefaultCutoffMargin,
		CenteringTolerance: constants.DefaultCenteringTolerance,
		YawTolerance:       constants.DefaultYawTolerance,
		PitchTolerance:     constants.DefaultPitchTolerance,
		NeutralPitch:       constants.DefaultNeutralPitch,
		RollTolerance:      constants.DefaultRollToleranceDeg,
		EyeOpenness:        constants.DefaultEyeOpenness,
		Layout:             landmark.DefaultLayout(),
	}
}

// Validate rejects inconsistent thresholds.
func (c Config) Validate() error {
	var errs []error
	if c.LuminanceLow >= c.LuminanceHigh {
		errs = append(errs, fmt.Errorf("luminance_low (%.1f) must be below luminance_high (%.1f)", c.LuminanceLow, c.LuminanceHigh))
	}
	if c.TooFar >= c.TooClose {
		errs = append(errs, fmt.Errorf("too_far (%.3f) must be below too_close (%.3f)", c.TooFar, c.TooClose))
	}
	if c.CutoffMargin < 0 || c.CutoffMargin >= 0.5 {
		errs = append(errs, fmt.Errorf("cutoff_margin must be in [0, 0.5), got %.3f", c.CutoffMargin))
	}
	if c.CenteringTolerance <= 0 {
		errs = append(errs, errors.New("centering_tolerance must be positive"))
	}
	if c.YawTolerance <= 0 || c.PitchTolerance <= 0 || c.RollTolerance <= 0 {
		errs = append(errs, errors.New("pose tolerances must be positive"))
	}
	switch c.ExposureRegion {
	case RegionFrame, RegionFace:
	default:
		errs = append(errs, fmt.Errorf("unknown exposure_region %q", c.ExposureRegion))
	}
	switch c.DistanceProxy {
	case ProxyBoxWidth, ProxyInterOcular:
	default:
		errs = append(errs, fmt.Errorf("unknown distance_proxy %q", c.DistanceProxy))
	}
	return errors.Join(errs...)
}
