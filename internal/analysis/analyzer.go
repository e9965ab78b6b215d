// Package analysis drives the per-frame pipeline over a frame sequence:
// crop, edge extraction, shape fit and physical quantities, one frame at a
// time in frame order, each fit warm-started from the previous one.
package analysis

import (
	"context"
	"fmt"
	"time"

	"pendant-drop/internal/app"
	"pendant-drop/internal/calibrate"
	"pendant-drop/internal/edge"
	"pendant-drop/internal/fit"
	"pendant-drop/internal/frame"
	"pendant-drop/internal/logger"
	"pendant-drop/internal/metrics"
	"pendant-drop/internal/physics"
	"pendant-drop/internal/shape"
	"pendant-drop/pkg/geometry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// DefaultProgressInterval is how many frames pass between progress logs.
const DefaultProgressInterval = 50

// Analyzer runs the pipeline. It is not safe for concurrent use; the
// parameter store it reads from is.
type Analyzer struct {
	params      *app.ParamStore
	log         zerolog.Logger
	metrics     *metrics.Metrics
	constants   physics.Constants
	fitOpts     fit.Options
	initialBond float64
	progress    int
	startFrame  int
	endFrame    int

	cal *calibrate.Result
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(a *Analyzer) { a.log = log }
}

// WithMetrics records per-frame metrics to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithConstants sets the physical constants.
func WithConstants(c physics.Constants) Option {
	return func(a *Analyzer) { a.constants = c }
}

// WithFitOptions sets the solver options.
func WithFitOptions(o fit.Options) Option {
	return func(a *Analyzer) { a.fitOpts = o }
}

// WithInitialBond sets the Bond number of the calibration-based guess.
func WithInitialBond(bo float64) Option {
	return func(a *Analyzer) { a.initialBond = bo }
}

// WithProgressInterval sets how often progress is logged.
func WithProgressInterval(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.progress = n
		}
	}
}

// WithFrameRange limits Run to frames start..end inclusive. An end of 0
// means the last frame of the source.
func WithFrameRange(start, end int) Option {
	return func(a *Analyzer) {
		a.startFrame = start
		a.endFrame = end
	}
}

// New creates an Analyzer reading crop and edge settings from params.
func New(params *app.ParamStore, opts ...Option) *Analyzer {
	a := &Analyzer{
		params:      params,
		log:         zerolog.Nop(),
		constants:   physics.Constants{DeltaRho: 998, Gravity: physics.StandardGravity, CalibrationFactor: 1e-5},
		fitOpts:     fit.DefaultOptions(),
		initialBond: 0.3,
		progress:    DefaultProgressInterval,
	}
	for _, o := range opts {
		o(a)
	}
	a.log = logger.Component(a.log, "analysis")
	return a
}

// SetCalibration installs the reference estimate that seeds fits. An
// invalid calibration is refused with ErrNotCalibrated.
func (a *Analyzer) SetCalibration(cal calibrate.Result) error {
	if !cal.Valid() {
		a.cal = nil
		return fmt.Errorf("%w: calibration frame %d has radius %g", ErrNotCalibrated, cal.Frame, cal.MeanRadius)
	}
	a.cal = &cal
	return nil
}

// FitFrame fits edge points starting from initial and derives the physical
// quantities. A non-converged fit is still returned, flagged.
func (a *Analyzer) FitFrame(points []geometry.Point2D, initial shape.Params) (*FitResult, error) {
	res, err := fit.Fit(points, initial, a.fitOpts)
	if err != nil {
		return nil, err
	}
	return &FitResult{Fit: res, Physics: physics.DeriveWith(res.Params, a.constants, a.fitOpts.Shape)}, nil
}

// initialGuess is the warm start from prev, or the calibration estimate,
// moved into the coordinates of crop.
func (a *Analyzer) initialGuess(prev *FitResult, crop frame.CropRegion) shape.Params {
	fallback := reframe(a.cal.InitialGuess(a.initialBond), a.cal.Crop, crop)
	if prev == nil {
		return fallback
	}
	warm := prev.Fit
	warm.Params = reframe(warm.Params, prev.Crop, crop)
	return fit.WarmStart(&warm, fallback)
}

// reframe moves the apex of p from crop-relative coordinates in from to
// crop-relative coordinates in to.
func reframe(p shape.Params, from, to frame.CropRegion) shape.Params {
	p.ApexX += float64(from.XStart - to.XStart)
	p.ApexY += float64(from.YStart - to.YStart)
	return p
}

// ProcessFrame runs one decoded frame through the pipeline with the
// settings committed at call time. prev is the last fitted frame, if any.
// A returned error means the frame was skipped; the FrameResult says why.
func (a *Analyzer) ProcessFrame(index int, img gocv.Mat, prev *FitResult) (FrameResult, error) {
	start := time.Now()
	out := FrameResult{Frame: index}
	if a.cal == nil {
		out.Skip = SkipFitError
		out.Error = ErrNotCalibrated.Error()
		return out, ErrNotCalibrated
	}

	snap := a.params.Snapshot()
	out.ParamsRevision = snap.Revision

	edges, err := edge.ExtractFrame(img, snap.Crop, snap.Edge)
	if err != nil {
		return a.skip(out, err, start), err
	}
	defer edges.Close()
	out.EdgePoints = edges.Count()

	initial := a.initialGuess(prev, snap.Crop)

	fr, err := a.FitFrame(geometry.ToFloatAll(edges.Points), initial)
	if err != nil {
		return a.skip(out, err, start), err
	}
	fr.Crop = snap.Crop
	out.FitResult = fr
	out.Duration = time.Since(start)

	a.metrics.ObserveFit(out.Duration, fr.Fit.Evaluations, fr.Fit.Converged)
	a.metrics.ObserveSurfaceTension(fr.Physics.SurfaceTension, fr.Physics.SurfaceTensionValid)
	return out, nil
}

func (a *Analyzer) skip(out FrameResult, err error, start time.Time) FrameResult {
	out.Skip = skipReasonOf(err)
	out.Error = err.Error()
	out.Duration = time.Since(start)
	a.metrics.Skip(out.Skip.String())
	return out
}

// Run calibrates the analyzer with cal and processes the configured frame
// range of src in order, passing every FrameResult to emit. Unprocessable
// frames are skipped and logged. ctx is checked between frames only; a
// fit in progress always runs to completion.
func (a *Analyzer) Run(ctx context.Context, src frame.Source, cal calibrate.Result, emit func(FrameResult)) (Summary, error) {
	sum := Summary{RunID: uuid.NewString()}
	log := a.log.With().Str("run_id", sum.RunID).Logger()

	if err := a.SetCalibration(cal); err != nil {
		log.Warn().Err(err).Msg("refusing to analyse")
		return sum, err
	}

	first, last := a.startFrame, a.endFrame
	if last <= 0 || last > src.Len()-1 {
		last = src.Len() - 1
	}
	if first < 0 {
		first = 0
	}

	begin := time.Now()
	log.Info().Int("start", first).Int("end", last).Msg("analysis started")

	var prev *FitResult
	for i := first; i <= last; i++ {
		if err := ctx.Err(); err != nil {
			sum.Cancelled = true
			sum.Duration = time.Since(begin)
			log.Warn().Int("frame", i).Msg("analysis cancelled")
			return sum, err
		}

		res := a.runFrame(src, i, prev)
		sum.Frames++

		flog := log.With().Int("frame", i).Logger()
		switch {
		case res.Skipped():
			sum.Skipped++
			flog.Warn().Str("reason", res.Skip.String()).Str("error", res.Error).Msg("frame skipped")
		default:
			sum.Processed++
			prev = res.FitResult
			f := res.Fit
			if !f.Converged {
				sum.NonConverged++
				flog.Warn().Str("status", f.Status.String()).Int("evaluations", f.Evaluations).
					Msg("fit did not converge")
			}
			if !res.Physics.SurfaceTensionValid {
				sum.DegeneratePhysics++
				flog.Warn().Float64("bond", f.Params.BondNumber).Msg("surface tension undefined")
			}
			flog.Debug().
				Stringer("params", f.Params).
				Int("evaluations", f.Evaluations).
				Float64("rms", f.RMS).
				Float64("surface_tension", res.Physics.SurfaceTension).
				Msg("frame fitted")
		}

		if i%a.progress == 0 {
			ev := log.Info().Int("frame", i).Int("processed", sum.Processed).Int("skipped", sum.Skipped)
			if res.FitResult != nil {
				ev = ev.Float64("apex_radius", res.Fit.Params.ApexRadius)
			}
			ev.Msg("progress")
		}

		if emit != nil {
			emit(res)
		}
	}

	sum.Duration = time.Since(begin)
	log.Info().
		Int("processed", sum.Processed).
		Int("skipped", sum.Skipped).
		Int("non_converged", sum.NonConverged).
		Dur("elapsed", sum.Duration).
		Msg("analysis complete")
	return sum, nil
}

func (a *Analyzer) runFrame(src frame.Source, index int, prev *FitResult) FrameResult {
	start := time.Now()
	img, err := src.Read(index)
	defer img.Close()
	if err != nil {
		return a.skip(FrameResult{Frame: index}, err, start)
	}
	res, _ := a.ProcessFrame(index, img, prev)
	return res
}
