// Package fit adjusts shape parameters until the theoretical drop outline
// matches the measured edge points in the least-squares sense.
//
// The solver is a bounded Levenberg-Marquardt iteration. Trial points are
// projected onto the parameter box, the Jacobian is taken by forward
// differences on relatively scaled variables, and the damping follows
// Marquardt's diagonal scaling so the radius (pixels) and Bond number
// (dimensionless) are treated on equal footing.
package fit

import (
	"errors"
	"fmt"
	"math"

	"pendant-drop/internal/shape"
	"pendant-drop/pkg/geometry"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// ErrNoPoints is returned when there is nothing to fit against.
var ErrNoPoints = errors.New("no edge points to fit")

// Status explains why the solver stopped.
type Status int

const (
	StatusMaxEvaluations Status = iota
	StatusGradient
	StatusCost
	StatusStep
	StatusStalled
)

func (s Status) String() string {
	switch s {
	case StatusMaxEvaluations:
		return "max_evaluations"
	case StatusGradient:
		return "gtol"
	case StatusCost:
		return "ftol"
	case StatusStep:
		return "xtol"
	case StatusStalled:
		return "stalled"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText makes the status readable in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Bounds is the admissible box for the parameter vector in solver order.
type Bounds struct {
	Lower [shape.NumParams]float64
	Upper [shape.NumParams]float64
}

// DefaultBounds keeps the apex radius at one pixel or more, the Bond number
// positive and the tilt within a quarter turn either way.
func DefaultBounds() Bounds {
	inf := math.Inf(1)
	return Bounds{
		Lower: [shape.NumParams]float64{1, 0.001, -inf, -inf, -math.Pi / 4},
		Upper: [shape.NumParams]float64{inf, inf, inf, inf, math.Pi / 4},
	}
}

func (b Bounds) clamp(x []float64) {
	for i := range x {
		x[i] = math.Max(b.Lower[i], math.Min(b.Upper[i], x[i]))
	}
}

// Options controls the solver.
type Options struct {
	MaxEvaluations int     `json:"max_evaluations" validate:"gt=0"`
	FTol           float64 `json:"ftol" validate:"gte=0"`
	XTol           float64 `json:"xtol" validate:"gte=0"`
	GTol           float64 `json:"gtol" validate:"gte=0"`
	DiffStep       float64 `json:"diff_step" validate:"gt=0"`

	Bounds Bounds        `json:"-"`
	Shape  shape.Options `json:"-"`
}

// DefaultOptions allows 100 evaluations per parameter.
func DefaultOptions() Options {
	return Options{
		MaxEvaluations: 100 * shape.NumParams,
		FTol:           1e-8,
		XTol:           1e-8,
		GTol:           1e-8,
		DiffStep:       1e-6,
		Bounds:         DefaultBounds(),
		Shape:          shape.DefaultOptions(),
	}
}

// Result is the outcome of one fit. Failure to converge is reported here,
// not as an error.
type Result struct {
	Params      shape.Params `json:"params"`
	Evaluations int          `json:"evaluations"`
	Converged   bool         `json:"converged"`
	Status      Status       `json:"status"`
	Cost        float64      `json:"cost"`
	RMS         float64      `json:"rms"`
	Residuals   []float64    `json:"-"`
}

// Fit runs the solver from initial against points.
func Fit(points []geometry.Point2D, initial shape.Params, opts Options) (Result, error) {
	if len(points) == 0 {
		return Result{}, ErrNoPoints
	}
	if !initial.Finite() {
		return Result{}, fmt.Errorf("initial guess not finite: %v", initial)
	}
	if opts.MaxEvaluations <= 0 {
		opts.MaxEvaluations = 100 * shape.NumParams
	}
	if opts.DiffStep <= 0 {
		opts.DiffStep = 1e-6
	}

	p := problem{points: points, opts: opts}
	return p.solve(initial)
}

// WarmStart picks the starting guess for the next frame: the previous
// frame's parameters when that fit converged, otherwise fallback.
func WarmStart(prev *Result, fallback shape.Params) shape.Params {
	if prev != nil && prev.Converged && prev.Params.Finite() {
		return prev.Params
	}
	return fallback
}

type problem struct {
	points []geometry.Point2D
	opts   Options
	nfev   int
}

// residuals evaluates the model at x. Any failure is reported as a nil
// slice so callers can treat the trial point as infinitely bad.
func (p *problem) residuals(x []float64) []float64 {
	params := shape.ParamsFromVector(x)
	if !params.Finite() {
		return nil
	}
	r, err := Residuals(p.points, params, p.opts.Shape)
	if err != nil {
		return nil
	}
	for _, v := range r {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
	}
	return r
}

func cost(r []float64) float64 {
	if r == nil {
		return math.Inf(1)
	}
	return 0.5 * sumSquares(r)
}

func (p *problem) solve(initial shape.Params) (Result, error) {
	n := shape.NumParams
	m := len(p.points)
	b := p.opts.Bounds

	x := initial.Vector()
	b.clamp(x)

	f := p.residuals(x)
	p.nfev++
	if f == nil {
		return Result{}, fmt.Errorf("model undefined at initial guess %v", shape.ParamsFromVector(x))
	}
	c := cost(f)

	res := func(status Status, converged bool) Result {
		return Result{
			Params:      shape.ParamsFromVector(x),
			Evaluations: p.nfev,
			Converged:   converged,
			Status:      status,
			Cost:        c,
			RMS:         math.Sqrt(2 * c / float64(m)),
			Residuals:   f,
		}
	}

	if c == 0 {
		return res(StatusCost, true), nil
	}

	jac := mat.NewDense(m, n, nil)
	var jtj mat.SymDense
	var grad, step mat.VecDense
	lambda := -1.0

	for p.nfev < p.opts.MaxEvaluations {
		p.jacobian(jac, x, f)

		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(m, f))

		if p.projectedGradientNorm(x, &grad) <= p.opts.GTol {
			return res(StatusGradient, true), nil
		}

		diag := make([]float64, n)
		for i := 0; i < n; i++ {
			diag[i] = math.Max(jtj.At(i, i), 1e-12)
		}
		if lambda < 0 {
			lambda = 1e-3
		}

		for {
			a := mat.NewDense(n, n, nil)
			a.Copy(&jtj)
			for i := 0; i < n; i++ {
				a.Set(i, i, a.At(i, i)+lambda*diag[i])
			}
			rhs := mat.NewVecDense(n, nil)
			rhs.ScaleVec(-1, &grad)
			if err := step.SolveVec(a, rhs); err != nil {
				lambda *= 10
				if lambda > 1e16 {
					return res(StatusStalled, false), nil
				}
				continue
			}

			xn := make([]float64, n)
			for i := range xn {
				xn[i] = x[i] + step.AtVec(i)
			}
			b.clamp(xn)
			dx := 0.0
			xnorm := 0.0
			for i := range xn {
				d := xn[i] - x[i]
				dx += d * d
				xnorm += x[i] * x[i]
			}
			dx, xnorm = math.Sqrt(dx), math.Sqrt(xnorm)
			smallStep := dx <= p.opts.XTol*(p.opts.XTol+xnorm)

			fn := p.residuals(xn)
			p.nfev++
			cn := cost(fn)

			if cn < c {
				smallReduction := c-cn <= p.opts.FTol*c
				x, f, c = xn, fn, cn
				lambda = math.Max(lambda/10, 1e-12)
				if c == 0 || smallReduction {
					return res(StatusCost, true), nil
				}
				if smallStep {
					return res(StatusStep, true), nil
				}
				break
			}

			if smallStep {
				return res(StatusStep, true), nil
			}
			lambda *= 10
			if lambda > 1e16 {
				return res(StatusStalled, false), nil
			}
			if p.nfev >= p.opts.MaxEvaluations {
				return res(StatusMaxEvaluations, false), nil
			}
		}
	}
	return res(StatusMaxEvaluations, false), nil
}

// jacobian fills dst with forward differences of the residuals around x.
// Each variable is stepped relative to its own magnitude.
func (p *problem) jacobian(dst *mat.Dense, x, f0 []float64) {
	n := len(x)
	scale := make([]float64, n)
	u := make([]float64, n)
	for i, v := range x {
		scale[i] = math.Max(1, math.Abs(v))
		u[i] = v / scale[i]
	}

	xs := make([]float64, n)
	eval := func(y, u []float64) {
		for i := range u {
			xs[i] = u[i] * scale[i]
		}
		r := p.residuals(xs)
		if r == nil {
			// a failed probe contributes a zero derivative
			copy(y, f0)
			return
		}
		copy(y, r)
	}

	fd.Jacobian(dst, eval, u, &fd.JacobianSettings{
		Formula:     fd.Forward,
		Step:        p.opts.DiffStep,
		OriginValue: f0,
	})

	rows, _ := dst.Dims()
	for j := 0; j < n; j++ {
		for i := 0; i < rows; i++ {
			dst.Set(i, j, dst.At(i, j)/scale[j])
		}
	}
}

// projectedGradientNorm is the infinity norm of the gradient after
// discarding components that point out of the box at active bounds.
func (p *problem) projectedGradientNorm(x []float64, g *mat.VecDense) float64 {
	b := p.opts.Bounds
	norm := 0.0
	for i := range x {
		gi := g.AtVec(i)
		// descent direction is -g
		if x[i] <= b.Lower[i] && gi > 0 {
			continue
		}
		if x[i] >= b.Upper[i] && gi < 0 {
			continue
		}
		norm = math.Max(norm, math.Abs(gi))
	}
	return norm
}
