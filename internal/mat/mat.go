// Package mat provides the small fixed-size matrix algebra used by the
// position filter. The state dimension is 4 (lat, lon, vlat, vlon) and
// measurements are 2-dimensional, so only 4x4, 2x4 and 2x2 shapes exist.
// All types are plain value types; operations allocate nothing.
package mat

import "math"

type Vec2 [2]float64

type Vec4 [4]float64

type Mat2 [2][2]float64

type Mat4 [4][4]float64

// Mat2x4 is a 2-row, 4-column matrix (measurement model H).
type Mat2x4 [2][4]float64

// Mat4x2 is a 4-row, 2-column matrix (Kalman gain K).
type Mat4x2 [4][2]float64

func Identity4() Mat4 {
	var m Mat4
	for i := 0; i < 4; i++ {
		m[i][i] = 1
	}
	return m
}

// Diag4 builds a diagonal 4x4 matrix.
func Diag4(a, b, c, d float64) Mat4 {
	var m Mat4
	m[0][0], m[1][1], m[2][2], m[3][3] = a, b, c, d
	return m
}

// Diag2 builds a diagonal 2x2 matrix.
func Diag2(a, b float64) Mat2 {
	var m Mat2
	m[0][0], m[1][1] = a, b
	return m
}

func (m Mat4) Add(o Mat4) Mat4 {
	var x Mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			x[i][j] = m[i][j] + o[i][j]
		}
	}
	return x
}

func (m Mat4) Sub(o Mat4) Mat4 {
	var x Mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			x[i][j] = m[i][j] - o[i][j]
		}
	}
	return x
}

func (m Mat4) Scale(k float64) Mat4 {
	var x Mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			x[i][j] = k * m[i][j]
		}
	}
	return x
}

func (m Mat4) Mul(o Mat4) Mat4 {
	var x Mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			s := 0.0
			for k := 0; k < 4; k++ {
				s += m[i][k] * o[k][j]
			}
			x[i][j] = s
		}
	}
	return x
}

func (m Mat4) Transpose() Mat4 {
	var x Mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			x[i][j] = m[j][i]
		}
	}
	return x
}

func (m Mat4) MulVec(v Vec4) Vec4 {
	var x Vec4
	for i := 0; i < 4; i++ {
		s := 0.0
		for k := 0; k < 4; k++ {
			s += m[i][k] * v[k]
		}
		x[i] = s
	}
	return x
}

// MulT2 computes m * hᵗ for a 2x4 h, yielding the 4x2 P·Hᵗ term.
func (m Mat4) MulT2(h Mat2x4) Mat4x2 {
	var x Mat4x2
	for i := 0; i < 4; i++ {
		for j := 0; j < 2; j++ {
			s := 0.0
			for k := 0; k < 4; k++ {
				s += m[i][k] * h[j][k]
			}
			x[i][j] = s
		}
	}
	return x
}

// Mul4 computes h * m, yielding the 2x4 H·P term.
func (h Mat2x4) Mul4(m Mat4) Mat2x4 {
	var x Mat2x4
	for i := 0; i < 2; i++ {
		for j := 0; j < 4; j++ {
			s := 0.0
			for k := 0; k < 4; k++ {
				s += h[i][k] * m[k][j]
			}
			x[i][j] = s
		}
	}
	return x
}

// MulT computes h * oᵗ for two 2x4 matrices, yielding the 2x2 H·P·Hᵗ term
// when h is already H·P.
func (h Mat2x4) MulT(o Mat2x4) Mat2 {
	var x Mat2
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			s := 0.0
			for k := 0; k < 4; k++ {
				s += h[i][k] * o[j][k]
			}
			x[i][j] = s
		}
	}
	return x
}

func (h Mat2x4) MulVec(v Vec4) Vec2 {
	var x Vec2
	for i := 0; i < 2; i++ {
		s := 0.0
		for k := 0; k < 4; k++ {
			s += h[i][k] * v[k]
		}
		x[i] = s
	}
	return x
}

// Mul2 computes k * s for a 2x2 s, scaling the gain columns.
func (k Mat4x2) Mul2(s Mat2) Mat4x2 {
	var x Mat4x2
	for i := 0; i < 4; i++ {
		for j := 0; j < 2; j++ {
			v := 0.0
			for n := 0; n < 2; n++ {
				v += k[i][n] * s[n][j]
			}
			x[i][j] = v
		}
	}
	return x
}

// Mul2x4 computes k * h, yielding the 4x4 K·H term.
func (k Mat4x2) Mul2x4(h Mat2x4) Mat4 {
	var x Mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			s := 0.0
			for n := 0; n < 2; n++ {
				s += k[i][n] * h[n][j]
			}
			x[i][j] = s
		}
	}
	return x
}

func (k Mat4x2) MulVec(v Vec2) Vec4 {
	var x Vec4
	for i := 0; i < 4; i++ {
		x[i] = k[i][0]*v[0] + k[i][1]*v[1]
	}
	return x
}

func (m Mat2) Add(o Mat2) Mat2 {
	var x Mat2
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			x[i][j] = m[i][j] + o[i][j]
		}
	}
	return x
}

// singularDetEps is the determinant magnitude below which a 2x2 matrix is
// treated as numerically singular.
const singularDetEps = 1e-4

// regularizedDiag is the diagonal of the fallback inverse substituted for a
// near-singular matrix. Small enough that the resulting Kalman gain is tiny
// and the measurement is effectively ignored for the tick.
const regularizedDiag = 1e-6

// Invert returns the inverse of a 2x2 matrix. When |det| < 1e-4 it returns
// a small regularized diagonal matrix instead of dividing by a near-zero
// determinant; the second return reports whether regularization happened.
func (m Mat2) Invert() (Mat2, bool) {
	det := m[0][0]*m[1][1] - m[0][1]*m[1][0]
	if math.Abs(det) < singularDetEps {
		return Diag2(regularizedDiag, regularizedDiag), true
	}
	inv := 1 / det
	return Mat2{
		{m[1][1] * inv, -m[0][1] * inv},
		{-m[1][0] * inv, m[0][0] * inv},
	}, false
}
