package leastsquares

import (
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/rigpose/spatialmath"
)

// A Manifold describes how a parameter block is updated by an increment living in its tangent
// space. Blocks without a manifold are updated by plain addition.
type Manifold interface {
	AmbientSize() int
	TangentSize() int
	// Plus writes x ⊞ delta into out. out may alias x.
	Plus(x, delta, out []float64)
}

// QuaternionManifold is the manifold of unit quaternions stored as [w, x, y, z]. The increment is
// an axis-angle vector applied on the left, q' = exp(delta)·q.
type QuaternionManifold struct{}

// AmbientSize implements Manifold.
func (QuaternionManifold) AmbientSize() int { return 4 }

// TangentSize implements Manifold.
func (QuaternionManifold) TangentSize() int { return 3 }

// Plus implements Manifold.
func (QuaternionManifold) Plus(x, delta, out []float64) {
	q := quat.Number{Real: x[0], Imag: x[1], Jmag: x[2], Kmag: x[3]}
	dq := spatialmath.QuatFromR3(r3.Vector{X: delta[0], Y: delta[1], Z: delta[2]})
	res := spatialmath.Normalize(quat.Mul(dq, q))
	out[0], out[1], out[2], out[3] = res.Real, res.Imag, res.Jmag, res.Kmag
}

// SubsetManifold holds a subset of the coordinates of a block fixed and lets the others move
// freely.
type SubsetManifold struct {
	size     int
	constant []bool
	free     []int
}

// NewSubsetManifold returns a manifold over a block of the given size whose coordinates at
// constantIdxs are held fixed. Duplicate indices are allowed.
func NewSubsetManifold(size int, constantIdxs []int) (*SubsetManifold, error) {
	if size <= 0 {
		return nil, errors.Errorf("subset manifold size must be positive, got %d", size)
	}
	m := &SubsetManifold{size: size, constant: make([]bool, size)}
	for _, idx := range constantIdxs {
		if idx < 0 || idx >= size {
			return nil, errors.Errorf("constant index %d out of range for block of size %d", idx, size)
		}
		m.constant[idx] = true
	}
	for i, c := range m.constant {
		if !c {
			m.free = append(m.free, i)
		}
	}
	sort.Ints(m.free)
	return m, nil
}

// AmbientSize implements Manifold.
func (m *SubsetManifold) AmbientSize() int { return m.size }

// TangentSize implements Manifold.
func (m *SubsetManifold) TangentSize() int { return len(m.free) }

// Plus implements Manifold.
func (m *SubsetManifold) Plus(x, delta, out []float64) {
	copy(out, x)
	for i, idx := range m.free {
		out[idx] += delta[i]
	}
}

// euclidean is used for blocks without a manifold.
type euclidean int

func (e euclidean) AmbientSize() int { return int(e) }
func (e euclidean) TangentSize() int { return int(e) }

func (e euclidean) Plus(x, delta, out []float64) {
	for i := range x {
		out[i] = x[i] + delta[i]
	}
}
