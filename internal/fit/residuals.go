package fit

import (
	"math"

	"pendant-drop/internal/shape"
	"pendant-drop/pkg/geometry"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// bruteForceLimit is the largest points×curve product evaluated with the
// full pairwise distance matrix; larger problems go through a k-d tree.
const bruteForceLimit = 1 << 15

// Residuals returns, for every measured point, the distance to the nearest
// point of the theoretical outline described by p.
func Residuals(points []geometry.Point2D, p shape.Params, opts shape.Options) ([]float64, error) {
	curve, err := shape.Curve(p, opts)
	if err != nil {
		return nil, err
	}
	return NearestDistances(points, curve), nil
}

// NearestDistances returns the point-to-curve distance for each point.
// Correspondence is recomputed on every call.
func NearestDistances(points, curve []geometry.Point2D) []float64 {
	if len(curve) == 0 {
		out := make([]float64, len(points))
		for i := range out {
			out[i] = math.Inf(1)
		}
		return out
	}
	if len(points)*len(curve) <= bruteForceLimit {
		return nearestBrute(points, curve)
	}
	return nearestKD(points, curve)
}

func nearestBrute(points, curve []geometry.Point2D) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		best := math.Inf(1)
		for _, c := range curve {
			dx := p.X - c.X
			dy := p.Y - c.Y
			if d := dx*dx + dy*dy; d < best {
				best = d
			}
		}
		out[i] = math.Sqrt(best)
	}
	return out
}

func nearestKD(points, curve []geometry.Point2D) []float64 {
	pts := make(kdtree.Points, len(curve))
	for i, c := range curve {
		pts[i] = kdtree.Point{c.X, c.Y}
	}
	tree := kdtree.New(pts, false)

	out := make([]float64, len(points))
	for i, p := range points {
		// kdtree.Point distances are squared
		_, d2 := tree.Nearest(kdtree.Point{p.X, p.Y})
		out[i] = math.Sqrt(d2)
	}
	return out
}

func sumSquares(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return s
}
