package mat

import (
	"math"
	"testing"
)

func matNear(t *testing.T, got, want Mat4, tol float64) {
	t.Helper()
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(got[i][j]-want[i][j]) > tol {
				t.Fatalf("[%d][%d]=%v want %v", i, j, got[i][j], want[i][j])
			}
		}
	}
}

func TestMat4MulIdentity(t *testing.T) {
	m := Mat4{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
		{13, 14, 15, 16},
	}
	matNear(t, m.Mul(Identity4()), m, 0)
	matNear(t, Identity4().Mul(m), m, 0)
}

func TestMat4TransposeInvolution(t *testing.T) {
	m := Mat4{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
		{13, 14, 15, 16},
	}
	matNear(t, m.Transpose().Transpose(), m, 0)
}

func TestMat4MulVec(t *testing.T) {
	f := Identity4()
	f[0][2] = 0.5
	f[1][3] = 0.5
	v := f.MulVec(Vec4{10, 20, 2, 4})
	want := Vec4{11, 22, 2, 4}
	for i := range want {
		if math.Abs(v[i]-want[i]) > 1e-12 {
			t.Fatalf("v=%v want %v", v, want)
		}
	}
}

func TestMat2Invert(t *testing.T) {
	m := Mat2{{4, 7}, {2, 6}}
	inv, reg := m.Invert()
	if reg {
		t.Fatalf("unexpected regularization")
	}
	// m * inv should be identity.
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			s := m[i][0]*inv[0][j] + m[i][1]*inv[1][j]
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(s-want) > 1e-12 {
				t.Fatalf("[%d][%d]=%v want %v", i, j, s, want)
			}
		}
	}
}

func TestMat2InvertNearSingular(t *testing.T) {
	// det = 1e-6, under the 1e-4 guard.
	m := Mat2{{1e-3, 0}, {0, 1e-3}}
	inv, reg := m.Invert()
	if !reg {
		t.Fatalf("expected regularization")
	}
	if inv[0][0] != regularizedDiag || inv[1][1] != regularizedDiag {
		t.Fatalf("inv=%v want regularized diagonal", inv)
	}
	if inv[0][1] != 0 || inv[1][0] != 0 {
		t.Fatalf("inv=%v want diagonal", inv)
	}
}

func TestMat2InvertExactlySingular(t *testing.T) {
	m := Mat2{{1, 2}, {2, 4}}
	if _, reg := m.Invert(); !reg {
		t.Fatalf("expected regularization for det=0")
	}
}

func TestGainShapes(t *testing.T) {
	// K = P·Hᵗ·S⁻¹ with P = I and H observing position should put all the
	// gain weight on the position rows.
	h := Mat2x4{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
	}
	p := Identity4()
	s := Diag2(2, 2)
	sInv, reg := s.Invert()
	if reg {
		t.Fatalf("unexpected regularization")
	}
	k := p.MulT2(h).Mul2(sInv)
	if math.Abs(k[0][0]-0.5) > 1e-12 || math.Abs(k[1][1]-0.5) > 1e-12 {
		t.Fatalf("k=%v want 0.5 on position rows", k)
	}
	if k[2][0] != 0 || k[3][1] != 0 {
		t.Fatalf("k=%v want zero velocity rows", k)
	}
}
