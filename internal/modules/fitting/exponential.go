package fitting

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/solitonlabs/pulsekit/internal/domain"
)

// expModel evaluates y = A*exp(-x/t2) + c.
func expModel(x, amplitude, t2, offset float64) float64 {
	return amplitude*math.Exp(-x/t2) + offset
}

// fitExponential fits y = A*exp(-x/T2*) + c by weighted nonlinear least
// squares. The optimizer works in [A, log T2*, c] so the decay constant is
// positive by construction; a non-finite decay constant or an exhausted
// iteration budget wraps domain.ErrFitDidNotConverge.
func fitExponential(points []domain.NormalizedPoint, opts Options) (*domain.FitResult, error) {
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	ws := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.X
		ys[i] = p.Y
		ws[i] = weight(p.SigmaY)
	}

	theta0 := initialExpGuess(xs, ys)

	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			amplitude, t2, offset := theta[0], math.Exp(theta[1]), theta[2]
			var ssr float64
			for i := range xs {
				r := ys[i] - expModel(xs[i], amplitude, t2, offset)
				ssr += ws[i] * r * r
			}
			return ssr
		},
	}

	settings := &optimize.Settings{MajorIterations: opts.MaxIterations}

	result, err := optimize.Minimize(problem, theta0, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFitDidNotConverge, err)
	}

	successStatuses := map[optimize.Status]bool{
		optimize.Success:             true,
		optimize.GradientThreshold:   true,
		optimize.FunctionConvergence: true,
	}
	if !successStatuses[result.Status] {
		return nil, fmt.Errorf("%w: optimizer status %v after %d iterations",
			domain.ErrFitDidNotConverge, result.Status, result.MajorIterations)
	}

	amplitude := result.X[0]
	t2 := math.Exp(result.X[1])
	offset := result.X[2]

	if !isFinite(amplitude) || !isFinite(t2) || !isFinite(offset) || t2 <= 0 {
		return nil, fmt.Errorf("%w: non-finite or non-positive parameters", domain.ErrFitDidNotConverge)
	}

	// Unweighted RSS for reporting; weighting only steers the optimizer.
	var rss float64
	for i := range xs {
		r := ys[i] - expModel(xs[i], amplitude, t2, offset)
		rss += r * r
	}

	params := []float64{amplitude, t2, offset}
	stderrs := exponentialStdErrs(xs, ys, params, rss)

	return &domain.FitResult{
		Model:       "exponential_decay",
		Params:      params,
		ParamNames:  []string{"amplitude", "t2_star", "offset"},
		StdErrs:     stderrs,
		RSS:         rss,
		DOF:         len(points) - 3,
		Diagnostics: map[string]float64{"iterations": float64(result.MajorIterations)},
	}, nil
}

// initialExpGuess estimates [A, log T2*, c] from the data: the offset from
// the trace tail, the amplitude from the initial excursion above it, and
// the decay constant from where the trace first crosses 1/e of that
// excursion.
func initialExpGuess(xs, ys []float64) []float64 {
	minY, maxY := ys[0], ys[0]
	for _, y := range ys {
		minY = math.Min(minY, y)
		maxY = math.Max(maxY, y)
	}

	offset := minY
	amplitude := maxY - minY
	if amplitude <= 0 {
		amplitude = 1e-3
	}

	// First crossing of offset + A/e approximates T2*.
	target := offset + amplitude/math.E
	t2 := (xs[len(xs)-1] - xs[0]) / 2
	for i := range ys {
		if ys[i] <= target && xs[i] > xs[0] {
			t2 = xs[i] - xs[0]
			break
		}
	}
	if t2 <= 0 {
		t2 = 1
	}

	return []float64{amplitude, math.Log(t2), offset}
}

// exponentialStdErrs computes parameter standard errors from the numerical
// Jacobian at the optimum: cov = s^2 (J'J)^-1 with s^2 = RSS/dof. A
// singular information matrix yields NaN errors rather than failing the fit.
func exponentialStdErrs(xs, ys, params []float64, rss float64) []float64 {
	n, p := len(xs), len(params)
	nan := []float64{math.NaN(), math.NaN(), math.NaN()}
	if n <= p {
		return nan
	}

	jac := mat.NewDense(n, p, nil)
	for i := range xs {
		for j := 0; j < p; j++ {
			h := 1e-6 * math.Max(math.Abs(params[j]), 1e-6)
			plus := append([]float64(nil), params...)
			minus := append([]float64(nil), params...)
			plus[j] += h
			minus[j] -= h
			df := expModel(xs[i], plus[0], plus[1], plus[2]) - expModel(xs[i], minus[0], minus[1], minus[2])
			jac.Set(i, j, df/(2*h))
		}
	}

	var jtj mat.Dense
	jtj.Mul(jac.T(), jac)

	var inv mat.Dense
	if err := inv.Inverse(&jtj); err != nil {
		return nan
	}

	s2 := rss / float64(n-p)
	errs := make([]float64, p)
	for j := 0; j < p; j++ {
		v := s2 * inv.At(j, j)
		if v < 0 {
			errs[j] = math.NaN()
			continue
		}
		errs[j] = math.Sqrt(v)
	}
	return errs
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
