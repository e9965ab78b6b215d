package analysis

import (
	"errors"
	"fmt"
	"time"

	"pendant-drop/internal/edge"
	"pendant-drop/internal/fit"
	"pendant-drop/internal/frame"
	"pendant-drop/internal/physics"
)

// ErrNotCalibrated is returned when analysis is attempted without a valid
// calibration.
var ErrNotCalibrated = errors.New("not calibrated")

// SkipReason says why a frame produced no fit.
type SkipReason int

const (
	SkipNone SkipReason = iota
	SkipUnreadable
	SkipCrop
	SkipInsufficientPoints
	SkipFitError
)

func (r SkipReason) String() string {
	switch r {
	case SkipNone:
		return ""
	case SkipUnreadable:
		return "unreadable"
	case SkipCrop:
		return "crop_out_of_bounds"
	case SkipInsufficientPoints:
		return "insufficient_points"
	case SkipFitError:
		return "fit_error"
	}
	return fmt.Sprintf("SkipReason(%d)", int(r))
}

// MarshalText writes the reason name.
func (r SkipReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// skipReasonOf classifies a per-frame error.
func skipReasonOf(err error) SkipReason {
	switch {
	case errors.Is(err, frame.ErrCropOutOfBounds):
		return SkipCrop
	case errors.Is(err, edge.ErrInsufficientPoints):
		return SkipInsufficientPoints
	case errors.Is(err, frame.ErrFrameUnreadable), errors.Is(err, frame.ErrEmptyFrame):
		return SkipUnreadable
	}
	return SkipFitError
}

// FitResult is the shape fit of one frame with its physical quantities.
// The apex position is relative to Crop.
type FitResult struct {
	Crop    frame.CropRegion   `json:"crop"`
	Fit     fit.Result         `json:"fit"`
	Physics physics.Quantities `json:"physics"`
}

// FrameResult is the record emitted for every frame of a run.
type FrameResult struct {
	Frame          int           `json:"frame"`
	EdgePoints     int           `json:"edge_points"`
	ParamsRevision int           `json:"params_revision"`
	Skip           SkipReason    `json:"skip,omitempty"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
	*FitResult     `json:"result,omitempty"`
}

// Skipped reports whether the frame was left out of the fit sequence.
func (r FrameResult) Skipped() bool {
	return r.Skip != SkipNone
}

// Summary totals a run.
type Summary struct {
	RunID             string        `json:"run_id"`
	Frames            int           `json:"frames"`
	Processed         int           `json:"processed"`
	Skipped           int           `json:"skipped"`
	NonConverged      int           `json:"non_converged"`
	DegeneratePhysics int           `json:"degenerate_physics"`
	Cancelled         bool          `json:"cancelled"`
	Duration          time.Duration `json:"duration_ns"`
}
