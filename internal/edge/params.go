package edge

import "fmt"

// CLAHEParams configures optional local contrast enhancement applied before
// the median filter.
type CLAHEParams struct {
	Enabled   bool    `json:"enabled"`
	ClipLimit float64 `json:"clip_limit" validate:"gte=0"`
	TileSize  int     `json:"tile_size" validate:"gte=0"`
}

// Params is one snapshot of the edge pipeline settings.
type Params struct {
	FilterSize    int     `json:"filter_size" validate:"gte=1,odd"`
	Sigma         float64 `json:"sigma" validate:"gte=0"`
	CannyLow      float64 `json:"canny_low" validate:"gte=0,lte=255,ltefield=CannyHigh"`
	CannyHigh     float64 `json:"canny_high" validate:"gte=0,lte=255"`
	MinObjectSize int     `json:"min_object_size" validate:"gte=0"`
	MinSizeMult   float64 `json:"min_size_mult" validate:"gte=0,lte=1"`

	// Adaptive enables the second cleaning pass sized from the first pass.
	Adaptive bool        `json:"adaptive"`
	CLAHE    CLAHEParams `json:"clahe"`
}

// DefaultParams returns the per-frame settings. They suit a dark drop
// against a bright backlight at roughly 700x850 pixels of crop.
func DefaultParams() Params {
	return Params{
		FilterSize:    3,
		Sigma:         2.5,
		CannyLow:      25,
		CannyHigh:     51,
		MinObjectSize: 2,
		MinSizeMult:   0.33,
		Adaptive:      true,
		CLAHE: CLAHEParams{
			ClipLimit: 2.0,
			TileSize:  8,
		},
	}
}

// CalibrationParams returns the settings used on the reference frame:
// a much wider median filter and no adaptive pass.
func CalibrationParams() Params {
	p := DefaultParams()
	p.FilterSize = 15
	p.Adaptive = false
	return p
}

// WithCanny returns a copy of p with new hysteresis thresholds.
func (p Params) WithCanny(low, high float64) Params {
	p.CannyLow = low
	p.CannyHigh = high
	return p
}

// WithMinSize returns a copy of p with new cleaning thresholds.
func (p Params) WithMinSize(minObjectSize int, mult float64) Params {
	p.MinObjectSize = minObjectSize
	p.MinSizeMult = mult
	return p
}

// WithFilter returns a copy of p with a new median kernel and blur sigma.
func (p Params) WithFilter(size int, sigma float64) Params {
	p.FilterSize = size
	p.Sigma = sigma
	return p
}

// Validate checks the ranges the OpenCV calls rely on.
func (p Params) Validate() error {
	switch {
	case p.FilterSize < 1 || p.FilterSize%2 == 0:
		return fmt.Errorf("filter size must be odd and >= 1, got %d", p.FilterSize)
	case p.Sigma < 0:
		return fmt.Errorf("sigma must be >= 0, got %g", p.Sigma)
	case p.CannyLow < 0 || p.CannyHigh > 255 || p.CannyLow > p.CannyHigh:
		return fmt.Errorf("canny thresholds must satisfy 0 <= low <= high <= 255, got %g/%g", p.CannyLow, p.CannyHigh)
	case p.MinObjectSize < 0:
		return fmt.Errorf("min object size must be >= 0, got %d", p.MinObjectSize)
	case p.MinSizeMult < 0 || p.MinSizeMult > 1:
		return fmt.Errorf("min size multiplier must be in [0,1], got %g", p.MinSizeMult)
	case p.CLAHE.Enabled && (p.CLAHE.ClipLimit <= 0 || p.CLAHE.TileSize <= 0):
		return fmt.Errorf("clahe needs a positive clip limit and tile size")
	}
	return nil
}
