package edge

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"pendant-drop/internal/frame"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

func blank(w, h int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), h, w, gocv.MatTypeCV8U)
}

func filledCircle(w, h int, center image.Point, radius int) gocv.Mat {
	m := blank(w, h)
	gocv.Circle(&m, center, radius, white, -1)
	return m
}

func scenarioParams() Params {
	return Params{
		FilterSize:    3,
		Sigma:         2.5,
		CannyLow:      25,
		CannyHigh:     51,
		MinObjectSize: 2,
		MinSizeMult:   0.33,
		Adaptive:      true,
	}
}

func TestExtractCircle(t *testing.T) {
	img := filledCircle(600, 600, image.Pt(300, 300), 200)
	defer img.Close()

	res, err := Extract(img, scenarioParams())
	require.NoError(t, err)
	defer res.Close()
	require.GreaterOrEqual(t, res.Count(), MinEdgePoints)

	var cx, cy float64
	for _, p := range res.Points {
		cx += float64(p.X)
		cy += float64(p.Y)
	}
	n := float64(res.Count())
	cx, cy = cx/n, cy/n
	assert.InDelta(t, 300, cx, 2)
	assert.InDelta(t, 300, cy, 2)

	var meanR float64
	for _, p := range res.Points {
		meanR += math.Hypot(float64(p.X)-cx, float64(p.Y)-cy)
	}
	assert.InDelta(t, 200, meanR/n, 3)
}

func TestExtractDeterministic(t *testing.T) {
	img := filledCircle(300, 300, image.Pt(140, 160), 90)
	defer img.Close()
	// a few specks for the cleaning passes to deal with
	for _, p := range []image.Point{image.Pt(20, 20), image.Pt(270, 40), image.Pt(30, 280)} {
		gocv.Circle(&img, p, 2, white, -1)
	}

	a, err := Extract(img, scenarioParams())
	require.NoError(t, err)
	defer a.Close()
	b, err := Extract(img, scenarioParams())
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, a.Points, b.Points)
	assert.Equal(t, a.FirstPassCount, b.FirstPassCount)
}

func TestAdaptivePassNeverAddsPoints(t *testing.T) {
	img := filledCircle(300, 300, image.Pt(150, 150), 100)
	defer img.Close()
	for _, p := range []image.Point{image.Pt(15, 15), image.Pt(280, 20), image.Pt(20, 270), image.Pt(275, 275)} {
		gocv.Circle(&img, p, 3, white, -1)
	}

	res, err := Extract(img, scenarioParams())
	require.NoError(t, err)
	defer res.Close()

	assert.LessOrEqual(t, res.Count(), res.FirstPassCount)
	assert.Equal(t, int(math.Floor(float64(res.FirstPassCount)*0.33)), res.AdaptiveMinSize)
	// the specks are far smaller than a third of all edge pixels
	for _, p := range res.Points {
		assert.InDelta(t, 100, math.Hypot(float64(p.X)-150, float64(p.Y)-150), 3)
	}
}

func TestRemoveSmallObjects(t *testing.T) {
	mask := blank(20, 20)
	defer mask.Close()
	// diagonal pair: one 8-connected component of two pixels
	mask.SetUCharAt(2, 2, 255)
	mask.SetUCharAt(3, 3, 255)
	// lone pixel
	mask.SetUCharAt(10, 15, 255)
	// 3x3 block
	for y := 14; y < 17; y++ {
		for x := 4; x < 7; x++ {
			mask.SetUCharAt(y, x, 255)
		}
	}

	out := RemoveSmallObjects(mask, 2)
	defer out.Close()
	assert.Equal(t, 11, gocv.CountNonZero(out))
	assert.Equal(t, uint8(0), out.GetUCharAt(10, 15))
	assert.Equal(t, uint8(255), out.GetUCharAt(3, 3))

	out9 := RemoveSmallObjects(mask, 9)
	defer out9.Close()
	assert.Equal(t, 9, gocv.CountNonZero(out9))

	same := RemoveSmallObjects(mask, 0)
	defer same.Close()
	assert.Equal(t, 12, gocv.CountNonZero(same))
}

func TestExtractFrameInsufficientPoints(t *testing.T) {
	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), 100, 100, gocv.MatTypeCV8UC3)
	defer src.Close()

	res, err := ExtractFrame(src, frame.Full(100, 100), DefaultParams())
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrInsufficientPoints))

	_, err = ExtractFrame(src, frame.CropRegion{XStart: 0, YStart: 0, XEnd: 200, YEnd: 50}, DefaultParams())
	assert.True(t, errors.Is(err, frame.ErrCropOutOfBounds))
}

func TestExtractFrameCropsBeforeDetecting(t *testing.T) {
	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 400, 500, gocv.MatTypeCV8UC3)
	defer src.Close()
	gocv.Circle(&src, image.Pt(250, 200), 80, white, -1)

	crop := frame.CropRegion{XStart: 100, YStart: 50, XEnd: 400, YEnd: 350}
	res, err := ExtractFrame(src, crop, DefaultParams())
	require.NoError(t, err)
	defer res.Close()

	assert.Equal(t, crop.Width(), res.Mask.Cols())
	assert.Equal(t, crop.Height(), res.Mask.Rows())
	// coordinates are relative to the crop
	for _, p := range res.Points {
		assert.InDelta(t, 80, math.Hypot(float64(p.X)-150, float64(p.Y)-150), 3)
	}
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())
	assert.NoError(t, CalibrationParams().Validate())
	assert.False(t, CalibrationParams().Adaptive)
	assert.Equal(t, 15, CalibrationParams().FilterSize)

	assert.Error(t, DefaultParams().WithFilter(4, 1).Validate())
	assert.Error(t, DefaultParams().WithFilter(3, -1).Validate())
	assert.Error(t, DefaultParams().WithCanny(60, 50).Validate())
	assert.Error(t, DefaultParams().WithCanny(10, 300).Validate())
	assert.Error(t, DefaultParams().WithMinSize(-1, 0.3).Validate())
	assert.Error(t, DefaultParams().WithMinSize(2, 1.5).Validate())

	p := DefaultParams()
	p.CLAHE.Enabled = true
	assert.NoError(t, p.Validate())
	p.CLAHE.TileSize = 0
	assert.Error(t, p.Validate())
}

func TestExtractWithCLAHE(t *testing.T) {
	img := filledCircle(200, 200, image.Pt(100, 100), 60)
	defer img.Close()

	p := scenarioParams()
	p.CLAHE = CLAHEParams{Enabled: true, ClipLimit: 2, TileSize: 8}
	res, err := Extract(img, p)
	require.NoError(t, err)
	defer res.Close()
	assert.GreaterOrEqual(t, res.Count(), MinEdgePoints)
}
