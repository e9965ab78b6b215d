// Package edge turns a grayscale drop image into a binary edge mask and the
// list of edge pixel coordinates used by the shape fit.
//
// The pipeline is median filter, Gaussian blur, Canny, then two rounds of
// small-object removal. The second round derives its size threshold from
// the number of points that survived the first, so sparse low-contrast
// frames and dense noisy frames are cleaned to a similar degree.
package edge

import (
	"errors"
	"fmt"
	"image"
	"math"

	"pendant-drop/internal/frame"
	"pendant-drop/pkg/geometry"

	"gocv.io/x/gocv"
)

// MinEdgePoints is the fewest edge points a frame needs to be fitted.
const MinEdgePoints = 5

// ErrInsufficientPoints marks a frame whose cleaned edge set is too small.
var ErrInsufficientPoints = errors.New("insufficient edge points")

// gaussianKernel is the fixed blur window; sigma alone sets the strength.
var gaussianKernel = image.Point{X: 5, Y: 5}

// Result is the output of one extraction. Mask is owned by the Result.
type Result struct {
	Mask            gocv.Mat
	Points          []geometry.PointInt
	FirstPassCount  int
	AdaptiveMinSize int
}

// Count returns the number of edge points.
func (r *Result) Count() int { return len(r.Points) }

// Close releases the mask.
func (r *Result) Close() {
	if r != nil {
		r.Mask.Close()
	}
}

// Extract runs the edge pipeline on a grayscale image.
func Extract(gray gocv.Mat, p Params) (*Result, error) {
	if gray.Empty() {
		return nil, frame.ErrEmptyFrame
	}
	if gray.Channels() != 1 {
		return nil, fmt.Errorf("expected single-channel image, got %d channels", gray.Channels())
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	work := gray.Clone()
	defer work.Close()

	if p.CLAHE.Enabled {
		clahe := gocv.NewCLAHEWithParams(p.CLAHE.ClipLimit, image.Point{X: p.CLAHE.TileSize, Y: p.CLAHE.TileSize})
		enhanced := gocv.NewMat()
		clahe.Apply(work, &enhanced)
		clahe.Close()
		work.Close()
		work = enhanced
	}

	if p.FilterSize > 1 {
		med := gocv.NewMat()
		gocv.MedianBlur(work, &med, p.FilterSize)
		work.Close()
		work = med
	}

	if p.Sigma > 0 {
		blurred := gocv.NewMat()
		gocv.GaussianBlur(work, &blurred, gaussianKernel, p.Sigma, p.Sigma, gocv.BorderDefault)
		work.Close()
		work = blurred
	}

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(work, &edges, float32(p.CannyLow), float32(p.CannyHigh))

	mask := RemoveSmallObjects(edges, p.MinObjectSize)
	res := &Result{FirstPassCount: gocv.CountNonZero(mask)}

	if p.Adaptive {
		res.AdaptiveMinSize = int(math.Floor(float64(res.FirstPassCount) * p.MinSizeMult))
		second := RemoveSmallObjects(mask, res.AdaptiveMinSize)
		mask.Close()
		mask = second
	}

	res.Mask = mask
	res.Points = foreground(mask)
	return res, nil
}

// ExtractFrame crops a color frame and runs the pipeline on it. A frame
// with fewer than MinEdgePoints points yields ErrInsufficientPoints.
func ExtractFrame(src gocv.Mat, crop frame.CropRegion, p Params) (*Result, error) {
	gray, err := frame.Crop(src, crop)
	defer gray.Close()
	if err != nil {
		return nil, err
	}

	res, err := Extract(gray, p)
	if err != nil {
		return nil, err
	}
	if res.Count() < MinEdgePoints {
		n := res.Count()
		res.Close()
		return nil, fmt.Errorf("%w: %d < %d", ErrInsufficientPoints, n, MinEdgePoints)
	}
	return res, nil
}

// RemoveSmallObjects returns a copy of a binary mask without the
// 8-connected components smaller than minSize pixels.
func RemoveSmallObjects(mask gocv.Mat, minSize int) gocv.Mat {
	if minSize <= 1 {
		return mask.Clone()
	}

	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStats(mask, &labels, &stats, &centroids)

	keep := make([]bool, n)
	for i := 1; i < n; i++ {
		// column 4 is the component area
		keep[i] = int(stats.GetIntAt(i, 4)) >= minSize
	}

	rows, cols := mask.Rows(), mask.Cols()
	out := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, gocv.MatTypeCV8U)
	data := mask.ToBytes()
	for idx, v := range data {
		if v == 0 {
			continue
		}
		y, x := idx/cols, idx%cols
		if keep[labels.GetIntAt(y, x)] {
			out.SetUCharAt(y, x, 255)
		}
	}
	return out
}

// foreground lists the non-zero pixels of a mask in row-major order.
func foreground(mask gocv.Mat) []geometry.PointInt {
	cols := mask.Cols()
	var pts []geometry.PointInt
	for idx, v := range mask.ToBytes() {
		if v != 0 {
			pts = append(pts, geometry.PointInt{X: idx % cols, Y: idx / cols})
		}
	}
	return pts
}
