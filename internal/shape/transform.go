package shape

import (
	"fmt"
	"math"

	"pendant-drop/pkg/geometry"
)

// NumParams is the number of free shape parameters.
const NumParams = 5

// Params are the five free parameters of a drop outline in pixel space.
type Params struct {
	ApexRadius float64 `json:"apex_radius"` // pixels
	BondNumber float64 `json:"bond_number"`
	ApexX      float64 `json:"apex_x"`   // pixels
	ApexY      float64 `json:"apex_y"`   // pixels
	Rotation   float64 `json:"rotation"` // radians
}

// Vector returns the parameters in solver order:
// apex radius, Bond number, apex x, apex y, rotation.
func (p Params) Vector() []float64 {
	return []float64{p.ApexRadius, p.BondNumber, p.ApexX, p.ApexY, p.Rotation}
}

// ParamsFromVector is the inverse of Params.Vector.
func ParamsFromVector(x []float64) Params {
	return Params{
		ApexRadius: x[0],
		BondNumber: x[1],
		ApexX:      x[2],
		ApexY:      x[3],
		Rotation:   x[4],
	}
}

// Finite reports whether every parameter is a finite number.
func (p Params) Finite() bool {
	for _, v := range p.Vector() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (p Params) String() string {
	return fmt.Sprintf("R0=%.3fpx Bo=%.5f apex=(%.2f, %.2f) rot=%.4f",
		p.ApexRadius, p.BondNumber, p.ApexX, p.ApexY, p.Rotation)
}

// placement maps dimensionless profile coordinates into the image:
// scale by the apex radius, rotate, then translate to the apex.
func (p Params) placement() geometry.AffineTransform {
	return geometry.Translation(p.ApexX, p.ApexY).
		Compose(geometry.Rotation(p.Rotation)).
		Compose(geometry.Scale(p.ApexRadius, p.ApexRadius))
}

// Transform mirrors the one-sided profile about the apex to build the full
// outline (the apex appears once) and places it with p. The result has
// 2*prof.Len()-1 points, ordered left tip, apex, right tip.
func Transform(prof Profile, p Params) []geometry.Point2D {
	n := prof.Len()
	if n == 0 {
		return nil
	}

	outline := make([]geometry.Point2D, 0, 2*n-1)
	for i := n - 1; i >= 1; i-- {
		outline = append(outline, geometry.Point2D{X: -prof.R[i], Y: prof.Z[i]})
	}
	for i := 0; i < n; i++ {
		outline = append(outline, geometry.Point2D{X: prof.R[i], Y: prof.Z[i]})
	}
	return p.placement().ApplyAll(outline)
}

// Curve generates the profile for p.BondNumber and places it in image space.
func Curve(p Params, opts Options) ([]geometry.Point2D, error) {
	prof, err := GenerateWith(p.BondNumber, opts)
	if err != nil {
		return nil, err
	}
	return Transform(prof, p), nil
}
