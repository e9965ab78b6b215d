// Package physics converts fitted shape parameters into surface tension and
// drop volume.
package physics

import (
	"errors"
	"fmt"
	"math"

	"pendant-drop/internal/shape"

	jsoniter "github.com/json-iterator/go"
	"gonum.org/v1/gonum/integrate"
)

// StandardGravity is the gravitational acceleration in m/s².
const StandardGravity = 9.81

// MinBondNumber is the smallest Bond number for which surface tension is
// considered defined.
const MinBondNumber = 1e-4

// ErrDegenerateBond reports a Bond number too close to zero to divide by.
var ErrDegenerateBond = errors.New("bond number too small for surface tension")

// Constants are the physical inputs of the derivation.
type Constants struct {
	DeltaRho          float64 `json:"delta_rho" validate:"gt=0"`          // kg/m³
	Gravity           float64 `json:"gravity" validate:"gte=0"`           // m/s², 0 means StandardGravity
	CalibrationFactor float64 `json:"calibration_factor" validate:"gt=0"` // m per pixel
}

// Quantities are the physical results for one fitted frame.
type Quantities struct {
	ApexRadiusPhysical  float64 `json:"apex_radius_m"`
	SurfaceTension      float64 `json:"surface_tension"` // N/m, NaN when invalid
	SurfaceTensionValid bool    `json:"surface_tension_valid"`
	Volume              float64 `json:"volume"` // m³, NaN when the profile cannot be integrated
}

// MarshalJSON writes NaN quantities as null.
func (q Quantities) MarshalJSON() ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(struct {
		ApexRadiusPhysical  *float64 `json:"apex_radius_m"`
		SurfaceTension      *float64 `json:"surface_tension"`
		SurfaceTensionValid bool     `json:"surface_tension_valid"`
		Volume              *float64 `json:"volume"`
	}{
		ApexRadiusPhysical:  finite(q.ApexRadiusPhysical),
		SurfaceTension:      finite(q.SurfaceTension),
		SurfaceTensionValid: q.SurfaceTensionValid,
		Volume:              finite(q.Volume),
	})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func (c Constants) gravity() float64 {
	if c.Gravity == 0 {
		return StandardGravity
	}
	return c.Gravity
}

// ApexRadius converts the pixel apex radius to metres.
func ApexRadius(p shape.Params, c Constants) float64 {
	return p.ApexRadius * c.CalibrationFactor
}

// SurfaceTension returns delta_rho * g * R0² / Bo. A Bond number below
// MinBondNumber yields NaN and ErrDegenerateBond.
func SurfaceTension(p shape.Params, c Constants) (float64, error) {
	if math.IsNaN(p.BondNumber) || math.Abs(p.BondNumber) < MinBondNumber {
		return math.NaN(), fmt.Errorf("%w: bo=%g", ErrDegenerateBond, p.BondNumber)
	}
	r0 := ApexRadius(p, c)
	return c.DeltaRho * c.gravity() * r0 * r0 / p.BondNumber, nil
}

// Volume integrates pi * r² * sin(phi) over the arc length of the profile
// for p.BondNumber and scales the result by R0³.
func Volume(p shape.Params, c Constants) (float64, error) {
	return VolumeWith(p, c, shape.DefaultOptions())
}

// VolumeWith is Volume over the profile generated with opts.
func VolumeWith(p shape.Params, c Constants, opts shape.Options) (float64, error) {
	prof, err := shape.GenerateWith(p.BondNumber, opts)
	if err != nil {
		return math.NaN(), fmt.Errorf("volume profile: %w", err)
	}
	return VolumeOf(prof, ApexRadius(p, c)), nil
}

// VolumeOf integrates an already generated profile with the trapezoidal rule.
func VolumeOf(prof shape.Profile, apexRadius float64) float64 {
	integrand := make([]float64, prof.Len())
	for i := range integrand {
		r := prof.R[i]
		integrand[i] = math.Pi * r * r * math.Sin(prof.Phi[i])
	}
	dimensionless := integrate.Trapezoidal(prof.S, integrand)
	return dimensionless * apexRadius * apexRadius * apexRadius
}

// Derive computes every physical quantity for p. Degenerate inputs are
// flagged in the result rather than returned as errors.
func Derive(p shape.Params, c Constants) Quantities {
	return DeriveWith(p, c, shape.DefaultOptions())
}

// DeriveWith is Derive with the volume taken over the profile generated with
// opts, which should be the options the shape was fitted with.
func DeriveWith(p shape.Params, c Constants, opts shape.Options) Quantities {
	q := Quantities{ApexRadiusPhysical: ApexRadius(p, c)}

	st, err := SurfaceTension(p, c)
	q.SurfaceTension = st
	q.SurfaceTensionValid = err == nil

	vol, err := VolumeWith(p, c, opts)
	if err != nil {
		vol = math.NaN()
	}
	q.Volume = vol
	return q
}
