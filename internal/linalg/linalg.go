// Package linalg holds the small matrix checks shared by the filter core and
// the configuration loader.
package linalg

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultTolerance is the absolute tolerance used for symmetry and
// eigenvalue checks when callers pass zero.
const DefaultTolerance = 1e-9

// IsSymmetric reports whether m is square and m[i,j] == m[j,i] within tol.
func IsSymmetric(m mat.Matrix, tol float64) bool {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	r, c := m.Dims()
	if r != c {
		return false
	}
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			a, b := m.At(i, j), m.At(j, i)
			// tol is relative once entries exceed 1
			scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
			if math.Abs(a-b) > tol*scale {
				return false
			}
		}
	}
	return true
}

// MinEigenvalue returns the smallest eigenvalue of the symmetric matrix s.
// ok is false if the eigen decomposition failed.
func MinEigenvalue(s mat.Symmetric) (min float64, ok bool) {
	var eig mat.EigenSym
	if !eig.Factorize(s, false) {
		return 0, false
	}
	vals := eig.Values(nil)
	min = math.Inf(1)
	for _, v := range vals {
		if v < min {
			min = v
		}
	}
	return min, true
}

// IsPositiveSemidefinite reports whether every eigenvalue of s is >= -tol.
func IsPositiveSemidefinite(s mat.Symmetric, tol float64) bool {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	min, ok := MinEigenvalue(s)
	if !ok {
		return false
	}
	return min >= -tol
}

// Symmetrize writes (m + mᵀ)/2 into a new SymDense. m must be square.
func Symmetrize(m mat.Matrix) *mat.SymDense {
	n, _ := m.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return s
}

// AllFinite reports whether every entry of m is neither NaN nor ±Inf.
func AllFinite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// SymFromRowMajor builds an n×n SymDense from row-major values, averaging the
// mirrored entries. It returns nil when len(vals) != n*n.
func SymFromRowMajor(n int, vals []float64) *mat.SymDense {
	if len(vals) != n*n {
		return nil
	}
	return Symmetrize(mat.NewDense(n, n, append([]float64(nil), vals...)))
}
