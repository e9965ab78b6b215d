package shape

import (
	"errors"
	"fmt"
	"math"
)

// ErrStepLimit is returned when the integrator exhausts its step budget
// before reaching the end of the arc-length span.
var ErrStepLimit = errors.New("ode step limit reached")

// ErrStepUnderflow is returned when the adaptive step collapses below the
// representable resolution of the independent variable.
var ErrStepUnderflow = errors.New("ode step size underflow")

// derivFunc evaluates dy/dt at (t, y) into dy.
type derivFunc func(t float64, y, dy []float64)

// Dormand-Prince 5(4) tableau.
const (
	dpC2 = 1.0 / 5
	dpC3 = 3.0 / 10
	dpC4 = 4.0 / 5
	dpC5 = 8.0 / 9

	dpA21 = 1.0 / 5
	dpA31 = 3.0 / 40
	dpA32 = 9.0 / 40
	dpA41 = 44.0 / 45
	dpA42 = -56.0 / 15
	dpA43 = 32.0 / 9
	dpA51 = 19372.0 / 6561
	dpA52 = -25360.0 / 2187
	dpA53 = 64448.0 / 6561
	dpA54 = -212.0 / 729
	dpA61 = 9017.0 / 3168
	dpA62 = -355.0 / 33
	dpA63 = 46732.0 / 5247
	dpA64 = 49.0 / 176
	dpA65 = -5103.0 / 18656

	dpB1 = 35.0 / 384
	dpB3 = 500.0 / 1113
	dpB4 = 125.0 / 192
	dpB5 = -2187.0 / 6784
	dpB6 = 11.0 / 84

	// difference between the 5th and embedded 4th order weights
	dpE1 = 71.0 / 57600
	dpE3 = -71.0 / 16695
	dpE4 = 71.0 / 1920
	dpE5 = -17253.0 / 339200
	dpE6 = 22.0 / 525
	dpE7 = -1.0 / 40

	stepSafety    = 0.9
	stepMinFactor = 0.2
	stepMaxFactor = 5.0
)

// integrator is an adaptive Dormand-Prince stepper that lands exactly on
// every requested output abscissa.
type integrator struct {
	f        derivFunc
	rtol     float64
	atol     float64
	maxSteps int

	// scratch
	k1, k2, k3, k4, k5, k6, k7 []float64
	tmp, ynew, yerr          []float64
}

func newIntegrator(f derivFunc, dim int, rtol, atol float64, maxSteps int) *integrator {
	alloc := func() []float64 { return make([]float64, dim) }
	return &integrator{
		f: f, rtol: rtol, atol: atol, maxSteps: maxSteps,
		k1: alloc(), k2: alloc(), k3: alloc(), k4: alloc(), k5: alloc(), k6: alloc(), k7: alloc(),
		tmp: alloc(), ynew: alloc(), yerr: alloc(),
	}
}

// solve integrates from ts[0] with state y0 and returns the state at every
// ts[i]. ts must be strictly increasing.
func (in *integrator) solve(y0 []float64, ts []float64, h0 float64) ([][]float64, error) {
	dim := len(y0)
	out := make([][]float64, len(ts))
	y := append([]float64(nil), y0...)
	out[0] = append([]float64(nil), y...)

	t := ts[0]
	h := h0
	in.f(t, y, in.k1)

	steps := 0
	for i := 1; i < len(ts); i++ {
		target := ts[i]
		for t < target {
			if steps >= in.maxSteps {
				return nil, fmt.Errorf("%w after %d steps at s=%.4f", ErrStepLimit, steps, t)
			}
			steps++

			step := h
			last := false
			if t+step >= target || target-(t+step) < 1e-12*math.Max(1, math.Abs(target)) {
				step = target - t
				last = true
			}
			if step <= math.Abs(t)*1e-15 {
				return nil, fmt.Errorf("%w at s=%.6g", ErrStepUnderflow, t)
			}

			errNorm := in.attempt(t, y, step)
			if math.IsNaN(errNorm) {
				errNorm = math.Inf(1)
			}

			if errNorm <= 1 {
				if last {
					t = target
				} else {
					t += step
				}
				copy(y, in.ynew)
				copy(in.k1, in.k7)
			}

			factor := stepMaxFactor
			if errNorm > 0 {
				factor = math.Min(stepMaxFactor, math.Max(stepMinFactor, stepSafety*math.Pow(errNorm, -0.2)))
			}
			// a step clipped to the output grid keeps the previous proposal
			if !(last && errNorm <= 1 && step < h) {
				h = step * factor
			}
		}
		out[i] = make([]float64, dim)
		copy(out[i], y)
	}
	return out, nil
}

// attempt takes one trial step of size h from (t, y), leaving the candidate
// in ynew and the FSAL derivative in k7. It returns the scaled RMS error.
func (in *integrator) attempt(t float64, y []float64, h float64) float64 {
	n := len(y)
	for j := 0; j < n; j++ {
		in.tmp[j] = y[j] + h*dpA21*in.k1[j]
	}
	in.f(t+dpC2*h, in.tmp, in.k2)

	for j := 0; j < n; j++ {
		in.tmp[j] = y[j] + h*(dpA31*in.k1[j]+dpA32*in.k2[j])
	}
	in.f(t+dpC3*h, in.tmp, in.k3)

	for j := 0; j < n; j++ {
		in.tmp[j] = y[j] + h*(dpA41*in.k1[j]+dpA42*in.k2[j]+dpA43*in.k3[j])
	}
	in.f(t+dpC4*h, in.tmp, in.k4)

	for j := 0; j < n; j++ {
		in.tmp[j] = y[j] + h*(dpA51*in.k1[j]+dpA52*in.k2[j]+dpA53*in.k3[j]+dpA54*in.k4[j])
	}
	in.f(t+dpC5*h, in.tmp, in.k5)

	for j := 0; j < n; j++ {
		in.tmp[j] = y[j] + h*(dpA61*in.k1[j]+dpA62*in.k2[j]+dpA63*in.k3[j]+dpA64*in.k4[j]+dpA65*in.k5[j])
	}
	in.f(t+h, in.tmp, in.k6)

	for j := 0; j < n; j++ {
		in.ynew[j] = y[j] + h*(dpB1*in.k1[j]+dpB3*in.k3[j]+dpB4*in.k4[j]+dpB5*in.k5[j]+dpB6*in.k6[j])
	}
	in.f(t+h, in.ynew, in.k7)

	var sum float64
	for j := 0; j < n; j++ {
		in.yerr[j] = h * (dpE1*in.k1[j] + dpE3*in.k3[j] + dpE4*in.k4[j] + dpE5*in.k5[j] + dpE6*in.k6[j] + dpE7*in.k7[j])
		sc := in.atol + in.rtol*math.Max(math.Abs(y[j]), math.Abs(in.ynew[j]))
		e := in.yerr[j] / sc
		sum += e * e
	}
	return math.Sqrt(sum / float64(n))
}
