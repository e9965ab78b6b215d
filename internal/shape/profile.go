// Package shape generates theoretical pendant-drop profiles from the
// dimensionless Young-Laplace equations and places them in image space.
package shape

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// apexGuard is the radius below which sin(phi)/r is replaced by its apex limit.
const apexGuard = 1e-9

// Options controls profile generation.
type Options struct {
	SMax     float64 // arc-length span end (dimensionless)
	Samples  int     // output points including the apex
	RelTol   float64
	AbsTol   float64
	MaxSteps int // integrator step budget
}

// DefaultOptions returns the standard arc-length grid: s in [0, 5], 200 samples.
func DefaultOptions() Options {
	return Options{
		SMax:     5,
		Samples:  200,
		RelTol:   1e-8,
		AbsTol:   1e-10,
		MaxSteps: 20000,
	}
}

// Profile is a one-sided dimensionless drop profile sampled along arc length.
// Z is the hanging height: it is the negated ODE height so that the drop
// extends upward from the apex in image coordinates (rows grow downward).
type Profile struct {
	Bond float64
	S    []float64
	Phi  []float64
	R    []float64
	Z    []float64
}

// Len returns the number of samples.
func (p Profile) Len() int {
	return len(p.S)
}

// Generate integrates the Young-Laplace system for the given Bond number with
// DefaultOptions.
func Generate(bond float64) (Profile, error) {
	return GenerateWith(bond, DefaultOptions())
}

// GenerateWith integrates
//
//	dphi/ds = 2 - bo*z - sin(phi)/r
//	dr/ds   = cos(phi)
//	dz/ds   = sin(phi)
//
// from the apex (phi = r = z = 0) over s in [0, SMax].
func GenerateWith(bond float64, opts Options) (Profile, error) {
	if opts.Samples < 2 {
		return Profile{}, fmt.Errorf("need at least 2 samples, got %d", opts.Samples)
	}
	if !(opts.SMax > 0) {
		return Profile{}, fmt.Errorf("invalid arc-length span %v", opts.SMax)
	}
	if math.IsNaN(bond) || math.IsInf(bond, 0) {
		return Profile{}, fmt.Errorf("invalid bond number %v", bond)
	}

	s := floats.Span(make([]float64, opts.Samples), 0, opts.SMax)

	ode := func(_ float64, y, dy []float64) {
		phi, r, z := y[0], y[1], y[2]
		curvature := 1.0
		if r >= apexGuard {
			curvature = math.Sin(phi) / r
		}
		dy[0] = 2 - bond*z - curvature
		dy[1] = math.Cos(phi)
		dy[2] = math.Sin(phi)
	}

	in := newIntegrator(ode, 3, opts.RelTol, opts.AbsTol, opts.MaxSteps)
	states, err := in.solve([]float64{0, 0, 0}, s, s[1]-s[0])
	if err != nil {
		return Profile{}, fmt.Errorf("integrate profile (bo=%g): %w", bond, err)
	}

	p := Profile{
		Bond: bond,
		S:    s,
		Phi:  make([]float64, len(s)),
		R:    make([]float64, len(s)),
		Z:    make([]float64, len(s)),
	}
	for i, st := range states {
		p.Phi[i] = st[0]
		p.R[i] = st[1]
		p.Z[i] = -st[2]
	}
	return p, nil
}
