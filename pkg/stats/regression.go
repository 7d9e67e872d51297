package stats

import (
	"errors"
)

// ErrInsufficientData is returned when a computation has fewer samples than
// it needs.
var ErrInsufficientData = errors.New("insufficient data")

// Regression is an ordinary least squares fit y = Slope*x + Intercept.
type Regression struct {
	Slope     float64
	Intercept float64
	RSquared  float64
	N         int
}

// Predict evaluates the fitted line at x.
func (r Regression) Predict(x float64) float64 {
	return r.Slope*x + r.Intercept
}

// Invert returns the x at which the fitted line reaches y. The second
// result is false when the slope is not positive.
func (r Regression) Invert(y float64) (float64, bool) {
	if r.Slope <= 0 {
		return 0, false
	}
	return (y - r.Intercept) / r.Slope, true
}

// LinearRegression fits xs against ys. It needs at least minSamples points
// (and never fewer than two) and xs with non-zero variance.
func LinearRegression(xs, ys []float64, minSamples int) (Regression, error) {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	if minSamples < 2 {
		minSamples = 2
	}
	if n < minSamples {
		return Regression{N: n}, ErrInsufficientData
	}

	meanX := Mean(xs[:n])
	meanY := Mean(ys[:n])

	var sxx, sxy, syy float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	if sxx < Epsilon {
		return Regression{N: n}, ErrInsufficientData
	}

	slope := sxy / sxx
	reg := Regression{
		Slope:     slope,
		Intercept: meanY - slope*meanX,
		N:         n,
	}

	if syy < Epsilon {
		// Every y is identical; the line explains them exactly.
		reg.RSquared = 1
		return reg, nil
	}

	var ssRes float64
	for i := 0; i < n; i++ {
		e := ys[i] - reg.Predict(xs[i])
		ssRes += e * e
	}
	reg.RSquared = Clamp(1-ssRes/syy, 0, 1)
	return reg, nil
}
