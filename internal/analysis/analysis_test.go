package analysis

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"pendant-drop/internal/app"
	"pendant-drop/internal/calibrate"
	"pendant-drop/internal/edge"
	"pendant-drop/internal/fit"
	"pendant-drop/internal/frame"
	"pendant-drop/internal/metrics"
	"pendant-drop/internal/shape"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

const size = 240

func backlit() gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(230, 230, 230, 0), size, size, gocv.MatTypeCV8UC3)
}

func dropAt(center image.Point, radius int) gocv.Mat {
	m := backlit()
	gocv.Circle(&m, center, radius, color.RGBA{A: 255}, -1)
	return m
}

func newFixture(t *testing.T, extra ...Option) (*Analyzer, frame.Source, calibrate.Result, *app.ParamStore) {
	t.Helper()
	src := frame.NewMatSource([]gocv.Mat{
		dropAt(image.Pt(120, 110), 70),
		dropAt(image.Pt(121, 111), 70),
		backlit(),
		dropAt(image.Pt(122, 112), 70),
	})
	t.Cleanup(func() { src.Close() })

	store := app.NewParamStore(frame.Full(size, size), edge.DefaultParams())
	first, err := src.Read(0)
	require.NoError(t, err)
	defer first.Close()
	cal, res, err := calibrate.FromFrame(first, frame.Full(size, size), edge.CalibrationParams())
	require.NoError(t, err)
	res.Close()
	require.True(t, cal.Valid())

	opts := append([]Option{
		WithLogger(zerolog.Nop()),
		WithMetrics(metrics.New()),
		WithInitialBond(0.001),
		WithProgressInterval(2),
	}, extra...)
	return New(store, opts...), src, cal, store
}

func TestRunProcessesInOrder(t *testing.T) {
	a, src, cal, _ := newFixture(t)

	var got []FrameResult
	sum, err := a.Run(context.Background(), src, cal, func(r FrameResult) { got = append(got, r) })
	require.NoError(t, err)

	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 4, sum.Frames)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 1, sum.Skipped)
	require.Len(t, got, 4)

	for i, r := range got {
		assert.Equal(t, i, r.Frame)
	}
	assert.True(t, got[2].Skipped())
	assert.Equal(t, SkipInsufficientPoints, got[2].Skip)
	assert.Nil(t, got[2].FitResult)

	// a circular drop leaves apex and tilt free to slide along the rim,
	// so check the centre the fit implies
	centers := map[int]image.Point{0: image.Pt(120, 110), 1: image.Pt(121, 111), 3: image.Pt(122, 112)}
	for i, c := range centers {
		r := got[i]
		require.NotNil(t, r.FitResult, "frame %d", i)
		assert.Greater(t, r.EdgePoints, edge.MinEdgePoints)
		p := r.Fit.Params
		assert.InDelta(t, 70, p.ApexRadius, 3, "frame %d", i)
		assert.InDelta(t, float64(c.X), p.ApexX+p.ApexRadius*math.Sin(p.Rotation), 2, "frame %d", i)
		assert.InDelta(t, float64(c.Y), p.ApexY-p.ApexRadius*math.Cos(p.Rotation), 2, "frame %d", i)
		assert.LessOrEqual(t, r.Fit.Evaluations, 500)
		assert.False(t, math.IsNaN(r.Physics.Volume))
	}
}

func TestRunRequiresCalibration(t *testing.T) {
	a, src, _, _ := newFixture(t)

	_, err := a.Run(context.Background(), src, calibrate.Result{}, nil)
	assert.True(t, errors.Is(err, ErrNotCalibrated))

	img := dropAt(image.Pt(100, 100), 40)
	defer img.Close()
	_, err = a.ProcessFrame(0, img, nil)
	assert.True(t, errors.Is(err, ErrNotCalibrated))
}

func TestRunStopsBetweenFrames(t *testing.T) {
	a, src, cal, _ := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	var seen int
	sum, err := a.Run(ctx, src, cal, func(FrameResult) {
		seen++
		cancel()
	})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, sum.Cancelled)
	assert.Equal(t, 1, seen)
	assert.Equal(t, 1, sum.Frames)
}

func TestRunUsesLatestParams(t *testing.T) {
	a, src, cal, store := newFixture(t)

	var got []FrameResult
	_, err := a.Run(context.Background(), src, cal, func(r FrameResult) {
		got = append(got, r)
		if r.Frame == 0 {
			// nothing survives a cleaning threshold this large
			require.NoError(t, store.SetEdge(edge.DefaultParams().WithMinSize(100000, 0.33)))
		}
	})
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.False(t, got[0].Skipped())
	assert.Equal(t, 0, got[0].ParamsRevision)
	for _, r := range got[1:] {
		assert.Equal(t, SkipInsufficientPoints, r.Skip)
		assert.Equal(t, 1, r.ParamsRevision)
	}
}

func TestRunFollowsCropChange(t *testing.T) {
	a, src, cal, store := newFixture(t)
	moved := frame.CropRegion{XStart: 20, YStart: 10, XEnd: size, YEnd: size}

	var got []FrameResult
	_, err := a.Run(context.Background(), src, cal, func(r FrameResult) {
		got = append(got, r)
		if r.Frame == 0 {
			require.NoError(t, store.SetCrop(moved))
		}
	})
	require.NoError(t, err)
	require.Len(t, got, 4)

	require.NotNil(t, got[0].FitResult)
	assert.Equal(t, frame.Full(size, size), got[0].Crop)

	centers := map[int]image.Point{1: image.Pt(121, 111), 3: image.Pt(122, 112)}
	for i, c := range centers {
		r := got[i]
		require.NotNil(t, r.FitResult, "frame %d", i)
		assert.Equal(t, moved, r.Crop)
		p := r.Fit.Params
		assert.InDelta(t, 70, p.ApexRadius, 3, "frame %d", i)
		assert.InDelta(t, float64(c.X-moved.XStart), p.ApexX+p.ApexRadius*math.Sin(p.Rotation), 2, "frame %d", i)
		assert.InDelta(t, float64(c.Y-moved.YStart), p.ApexY-p.ApexRadius*math.Cos(p.Rotation), 2, "frame %d", i)
	}
}

func TestInitialGuessFollowsCrop(t *testing.T) {
	full := frame.Full(size, size)
	a := New(app.NewParamStore(full, edge.DefaultParams()), WithInitialBond(0.3))
	require.NoError(t, a.SetCalibration(calibrate.Result{
		Crop: full, CenterX: 100, CenterY: 100, MeanRadius: 50, PointCount: 10,
	}))
	moved := frame.CropRegion{XStart: 20, YStart: 10, XEnd: size, YEnd: size}

	g := a.initialGuess(nil, moved)
	assert.Equal(t, shape.Params{ApexRadius: 50, BondNumber: 0.3, ApexX: 80, ApexY: 140}, g)

	prevParams := shape.Params{ApexRadius: 60, BondNumber: 0.25, ApexX: 120, ApexY: 180, Rotation: 0.05}
	prev := &FitResult{Crop: full, Fit: fit.Result{Params: prevParams, Converged: true}}
	g = a.initialGuess(prev, moved)
	assert.Equal(t, shape.Params{ApexRadius: 60, BondNumber: 0.25, ApexX: 100, ApexY: 170, Rotation: 0.05}, g)
	assert.Equal(t, prevParams, prev.Fit.Params)

	g = a.initialGuess(prev, full)
	assert.Equal(t, prevParams, g)

	prev.Fit.Converged = false
	g = a.initialGuess(prev, moved)
	assert.Equal(t, shape.Params{ApexRadius: 50, BondNumber: 0.3, ApexX: 80, ApexY: 140}, g)
}

func TestRunFlagsNonConvergedAndDegenerate(t *testing.T) {
	opts := fit.DefaultOptions()
	opts.MaxEvaluations = 1
	opts.Bounds.Lower[1] = 0
	a, src, cal, _ := newFixture(t, WithFitOptions(opts), WithInitialBond(1e-6))

	var got []FrameResult
	sum, err := a.Run(context.Background(), src, cal, func(r FrameResult) { got = append(got, r) })
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, sum.Processed, sum.NonConverged)
	assert.Equal(t, sum.Processed, sum.DegeneratePhysics)

	// a non-converged fit never seeds the next frame
	guess := cal.InitialGuess(1e-6)
	for _, i := range []int{0, 1, 3} {
		r := got[i]
		require.NotNil(t, r.FitResult, "frame %d", i)
		assert.False(t, r.Skipped())
		assert.False(t, r.Fit.Converged)
		assert.Equal(t, fit.StatusMaxEvaluations, r.Fit.Status)
		assert.Equal(t, 1, r.Fit.Evaluations)
		assert.Equal(t, guess, r.Fit.Params, "frame %d", i)
		assert.False(t, r.Physics.SurfaceTensionValid)
		assert.True(t, math.IsNaN(r.Physics.SurfaceTension))
		assert.False(t, math.IsNaN(r.Physics.Volume))
	}
}

func TestRunSkipsBadCrop(t *testing.T) {
	a, src, cal, store := newFixture(t)
	require.NoError(t, store.SetCrop(frame.CropRegion{XStart: 0, YStart: 0, XEnd: size + 10, YEnd: size}))

	var got []FrameResult
	sum, err := a.Run(context.Background(), src, cal, func(r FrameResult) { got = append(got, r) })
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Skipped)
	assert.Equal(t, SkipCrop, got[0].Skip)
}

func TestFitFrameWarmStart(t *testing.T) {
	a, src, cal, _ := newFixture(t)
	require.NoError(t, a.SetCalibration(cal))

	img, err := src.Read(0)
	require.NoError(t, err)
	defer img.Close()

	first, err := a.ProcessFrame(0, img, nil)
	require.NoError(t, err)
	require.NotNil(t, first.FitResult)

	// refitting the same frame from its own optimum takes almost no work
	again, err := a.ProcessFrame(0, img, first.FitResult)
	require.NoError(t, err)
	if first.Fit.Converged {
		assert.LessOrEqual(t, again.Fit.Evaluations, first.Fit.Evaluations)
	}
	assert.InDelta(t, first.Fit.Params.ApexRadius, again.Fit.Params.ApexRadius, 0.5)
}

func TestFitFrameDerivesPhysics(t *testing.T) {
	a := New(app.NewParamStore(frame.Full(10, 10), edge.DefaultParams()))
	p := shape.Params{ApexRadius: 50, BondNumber: 0.3, ApexX: 100, ApexY: 100}
	curve, err := shape.Curve(p, shape.DefaultOptions())
	require.NoError(t, err)

	res, err := a.FitFrame(curve, p)
	require.NoError(t, err)
	assert.True(t, res.Fit.Converged)
	assert.True(t, res.Physics.SurfaceTensionValid)
	assert.InDelta(t, 998*9.81*(50*1e-5)*(50*1e-5)/0.3, res.Physics.SurfaceTension, 1e-9)
}

func TestSkipReasonText(t *testing.T) {
	b, err := SkipCrop.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "crop_out_of_bounds", string(b))
	assert.Equal(t, SkipUnreadable, skipReasonOf(frame.ErrFrameUnreadable))
	assert.Equal(t, SkipFitError, skipReasonOf(errors.New("boom")))
}
