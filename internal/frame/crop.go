// Package frame turns raw color frames into the grayscale region of interest
// the edge extractor works on, and provides the frame sources that feed an
// analysis run.
package frame

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

var (
	// ErrCropOutOfBounds is returned when the crop region does not fit inside the frame.
	ErrCropOutOfBounds = errors.New("crop region outside frame bounds")
	// ErrEmptyFrame is returned for a frame with no pixel data.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrFrameUnreadable is returned when a source cannot deliver a frame.
	ErrFrameUnreadable = errors.New("frame unreadable")
)

// CropRegion is a pixel rectangle, start inclusive and end exclusive.
type CropRegion struct {
	XStart int `json:"x_start" validate:"gte=0,ltfield=XEnd"`
	YStart int `json:"y_start" validate:"gte=0,ltfield=YEnd"`
	XEnd   int `json:"x_end"`
	YEnd   int `json:"y_end"`
}

// Validate checks the ordering invariant.
func (c CropRegion) Validate() error {
	if c.XStart < 0 || c.YStart < 0 {
		return fmt.Errorf("crop start (%d,%d) is negative", c.XStart, c.YStart)
	}
	if c.XStart >= c.XEnd || c.YStart >= c.YEnd {
		return fmt.Errorf("crop %v: start must be below end on both axes", c)
	}
	return nil
}

// Width returns XEnd - XStart.
func (c CropRegion) Width() int { return c.XEnd - c.XStart }

// Height returns YEnd - YStart.
func (c CropRegion) Height() int { return c.YEnd - c.YStart }

// Rect returns the region as an image.Rectangle.
func (c CropRegion) Rect() image.Rectangle {
	return image.Rect(c.XStart, c.YStart, c.XEnd, c.YEnd)
}

// Fits reports whether the region lies inside a width×height frame.
func (c CropRegion) Fits(width, height int) bool {
	return c.Validate() == nil && c.XEnd <= width && c.YEnd <= height
}

// Clamp returns the region intersected with a width×height frame. The result
// may be empty; callers should Validate it before use.
func (c CropRegion) Clamp(width, height int) CropRegion {
	r := c.Rect().Intersect(image.Rect(0, 0, width, height))
	return CropRegion{XStart: r.Min.X, YStart: r.Min.Y, XEnd: r.Max.X, YEnd: r.Max.Y}
}

func (c CropRegion) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d]", c.XStart, c.XEnd, c.YStart, c.YEnd)
}

// Full returns a region covering the whole of a width×height frame.
func Full(width, height int) CropRegion {
	return CropRegion{XEnd: width, YEnd: height}
}

// Crop returns a new single-channel Mat holding the grayscale pixels of src
// inside crop. The caller owns the returned Mat.
func Crop(src gocv.Mat, crop CropRegion) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.NewMat(), ErrEmptyFrame
	}
	if !crop.Fits(src.Cols(), src.Rows()) {
		return gocv.NewMat(), fmt.Errorf("%w: %v in %dx%d", ErrCropOutOfBounds, crop, src.Cols(), src.Rows())
	}

	roi := src.Region(crop.Rect())
	defer roi.Close()

	gray := gocv.NewMat()
	switch roi.Channels() {
	case 1:
		roi.CopyTo(&gray)
	case 3:
		gocv.CvtColor(roi, &gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(roi, &gray, gocv.ColorBGRAToGray)
	default:
		gray.Close()
		return gocv.NewMat(), fmt.Errorf("unsupported channel count %d", roi.Channels())
	}
	return gray, nil
}

// FromImage converts a Go image to a 3-channel BGR Mat.
func FromImage(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return gocv.NewMat(), ErrEmptyFrame
	}

	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// 16-bit to 8-bit, BGR order
			mat.SetUCharAt(y, x*3+0, uint8(b>>8))
			mat.SetUCharAt(y, x*3+1, uint8(g>>8))
			mat.SetUCharAt(y, x*3+2, uint8(r>>8))
		}
	}
	return mat, nil
}
