// Package calibrate estimates the drop centre and size from a reference
// frame. The estimate seeds the first shape fit of an analysis run.
package calibrate

import (
	"fmt"
	"math"

	"pendant-drop/internal/edge"
	"pendant-drop/internal/frame"
	"pendant-drop/internal/logger"
	"pendant-drop/internal/shape"
	"pendant-drop/pkg/geometry"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// Result is the calibration estimate in the coordinates of Crop.
type Result struct {
	Frame      int              `json:"frame"`
	Crop       frame.CropRegion `json:"crop"`
	CenterX    float64          `json:"center_x"`
	CenterY    float64          `json:"center_y"`
	MeanRadius float64          `json:"mean_radius"`
	PointCount int              `json:"point_count"`
}

// Valid reports whether the calibration can seed an analysis.
func (r Result) Valid() bool {
	return r.PointCount > 0 && r.MeanRadius > 0 && !math.IsNaN(r.MeanRadius)
}

// InitialGuess places the apex at the bottom of the calibration circle with
// its radius as the apex radius.
func (r Result) InitialGuess(bond float64) shape.Params {
	return shape.Params{
		ApexRadius: r.MeanRadius,
		BondNumber: bond,
		ApexX:      r.CenterX,
		ApexY:      r.CenterY + r.MeanRadius,
	}
}

// FromPoints computes the centroid of points and their mean distance to it.
// An empty set gives a zero result.
func FromPoints(points []geometry.PointInt) Result {
	if len(points) == 0 {
		return Result{}
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = float64(p.X)
		ys[i] = float64(p.Y)
	}
	cx := stat.Mean(xs, nil)
	cy := stat.Mean(ys, nil)

	dist := make([]float64, len(points))
	for i := range points {
		dist[i] = math.Hypot(xs[i]-cx, ys[i]-cy)
	}
	return Result{
		CenterX:    cx,
		CenterY:    cy,
		MeanRadius: stat.Mean(dist, nil),
		PointCount: len(points),
	}
}

// FromFrame runs the edge pipeline on an already decoded frame.
func FromFrame(src gocv.Mat, crop frame.CropRegion, p edge.Params) (Result, *edge.Result, error) {
	gray, err := frame.Crop(src, crop)
	defer gray.Close()
	if err != nil {
		return Result{}, nil, err
	}
	res, err := edge.Extract(gray, p)
	if err != nil {
		return Result{}, nil, err
	}
	cal := FromPoints(res.Points)
	cal.Crop = crop
	return cal, res, nil
}

// Calibrate reads frameIndex from src and estimates the drop geometry.
// An empty edge set is not an error: the result has radius 0 and a warning
// is logged, and the caller must calibrate again before analysing.
func Calibrate(src frame.Source, frameIndex int, crop frame.CropRegion, p edge.Params, log zerolog.Logger) (Result, error) {
	log = logger.Component(log, "calibrate").With().Int("frame", frameIndex).Logger()

	img, err := src.Read(frameIndex)
	defer img.Close()
	if err != nil {
		return Result{Frame: frameIndex}, fmt.Errorf("calibration frame: %w", err)
	}

	cal, res, err := FromFrame(img, crop, p)
	if err != nil {
		return Result{Frame: frameIndex}, fmt.Errorf("calibration frame: %w", err)
	}
	res.Close()
	cal.Frame = frameIndex

	if !cal.Valid() {
		log.Warn().Msg("no edge points on calibration frame, radius set to 0")
		return cal, nil
	}
	log.Info().
		Float64("center_x", cal.CenterX).
		Float64("center_y", cal.CenterY).
		Float64("mean_radius", cal.MeanRadius).
		Int("points", cal.PointCount).
		Msg("calibrated")
	return cal, nil
}
