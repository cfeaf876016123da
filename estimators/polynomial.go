package estimators

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// poly is a real polynomial with coefficients in ascending order of degree.
type poly []float64

func (p poly) add(q poly) poly {
	n := len(p)
	if len(q) > n {
		n = len(q)
	}
	out := make(poly, n)
	copy(out, p)
	for i, c := range q {
		out[i] += c
	}
	return out
}

func (p poly) sub(q poly) poly {
	return p.add(q.scale(-1))
}

func (p poly) scale(s float64) poly {
	out := make(poly, len(p))
	for i, c := range p {
		out[i] = c * s
	}
	return out
}

func (p poly) mul(q poly) poly {
	if len(p) == 0 || len(q) == 0 {
		return poly{}
	}
	out := make(poly, len(p)+len(q)-1)
	for i, a := range p {
		for j, b := range q {
			out[i+j] += a * b
		}
	}
	return out
}

func (p poly) eval(x float64) float64 {
	v := 0.0
	for i := len(p) - 1; i >= 0; i-- {
		v = v*x + p[i]
	}
	return v
}

func (p poly) derivative() poly {
	if len(p) <= 1 {
		return poly{}
	}
	out := make(poly, len(p)-1)
	for i := 1; i < len(p); i++ {
		out[i-1] = float64(i) * p[i]
	}
	return out
}

// trim drops leading coefficients that are negligible relative to the largest one.
func (p poly) trim() poly {
	maxAbs := 0.0
	for _, c := range p {
		maxAbs = math.Max(maxAbs, math.Abs(c))
	}
	n := len(p)
	for n > 0 && math.Abs(p[n-1]) <= 1e-14*maxAbs {
		n--
	}
	return p[:n]
}

// realRoots returns the real roots of p found as eigenvalues of its companion matrix, each
// polished with a few Newton steps.
func (p poly) realRoots() []float64 {
	p = p.trim()
	degree := len(p) - 1
	if degree < 1 {
		return nil
	}
	lead := p[degree]
	if degree == 1 {
		return []float64{-p[0] / lead}
	}

	companion := mat.NewDense(degree, degree, nil)
	for i := 1; i < degree; i++ {
		companion.Set(i, i-1, 1)
	}
	for i := 0; i < degree; i++ {
		companion.Set(i, degree-1, -p[i]/lead)
	}
	var eig mat.Eigen
	if ok := eig.Factorize(companion, mat.EigenNone); !ok {
		return nil
	}

	deriv := p.derivative()
	var roots []float64
	for _, v := range eig.Values(nil) {
		if math.Abs(imag(v)) > 1e-6*(1+cmplx.Abs(v)) {
			continue
		}
		x := real(v)
		for iter := 0; iter < 5; iter++ {
			d := deriv.eval(x)
			if d == 0 {
				break
			}
			next := x - p.eval(x)/d
			if math.Abs(p.eval(next)) >= math.Abs(p.eval(x)) {
				break
			}
			x = next
		}
		roots = append(roots, x)
	}
	return roots
}

// quadraticRoots returns the real roots of a*x² + b*x + c. A slightly negative discriminant is
// treated as a double root.
func quadraticRoots(a, b, c float64) []float64 {
	if a == 0 {
		if b == 0 {
			return nil
		}
		return []float64{-c / b}
	}
	disc := b*b - 4*a*c
	scale := b*b + math.Abs(4*a*c)
	if disc < 0 {
		if disc < -1e-10*scale {
			return nil
		}
		disc = 0
	}
	sq := math.Sqrt(disc)
	// numerically stable form
	q := -0.5 * (b + math.Copysign(sq, b))
	if q == 0 {
		return []float64{0}
	}
	return []float64{q / a, c / q}
}
