package fusion

import (
	"math"

	"github.com/KarunTCD/loga-botb/internal/mat"
)

// initialCovariance seeds the filter with large uncertainty so the first
// few fixes dominate the estimate.
const initialCovariance = 100

// gpsH observes position directly.
var gpsH = mat.Mat2x4{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
}

// accelH observes the velocity sub-block.
var accelH = mat.Mat2x4{
	{0, 0, 1, 0},
	{0, 0, 0, 1},
}

// PositionEstimator fuses absolute position fixes with inertial
// acceleration into a smoothed position/velocity estimate.
//
// State vector is [posLat, posLon, velLat, velLon] in degree and
// degree/second units. With UseEKF disabled the estimator passes raw fixes
// through untouched; that mode is a lifetime configuration choice, not a
// runtime fallback.
type PositionEstimator struct {
	cfg Config

	initialized bool
	x           mat.Vec4
	p           mat.Mat4

	lastRaw PositionFix // pass-through state when UseEKF is off
	haveRaw bool

	singularCount uint64
}

func NewPositionEstimator(cfg Config) *PositionEstimator {
	return &PositionEstimator{cfg: cfg}
}

// Initialize seeds the filter from the first usable fix. Subsequent calls
// are ignored; the filter initializes exactly once.
func (e *PositionEstimator) Initialize(fix PositionFix) {
	if e.initialized || !fix.Valid() {
		return
	}
	e.x = mat.Vec4{fix.LatDeg, fix.LonDeg, 0, 0}
	e.p = mat.Identity4().Scale(initialCovariance)
	e.initialized = true
}

func (e *PositionEstimator) Initialized() bool {
	return e.initialized
}

// Velocity returns the current velocity estimate in degrees/second.
func (e *PositionEstimator) Velocity() (velLat, velLon float64) {
	return e.x[2], e.x[3]
}

// Covariance returns the position covariance diagonal, a cheap proxy for
// estimate confidence.
func (e *PositionEstimator) Covariance() (pLat, pLon float64) {
	return e.p[0][0], e.p[1][1]
}

// SingularInversions counts covariance inversions that hit the
// regularization guard. Diagnostic only.
func (e *PositionEstimator) SingularInversions() uint64 {
	return e.singularCount
}

// Current returns the latest position without advancing the filter.
func (e *PositionEstimator) Current() (PositionEstimate, bool) {
	if !e.cfg.UseEKF {
		if !e.haveRaw {
			return PositionEstimate{}, false
		}
		return PositionEstimate{LatDeg: e.lastRaw.LatDeg, LonDeg: e.lastRaw.LonDeg}, true
	}
	if !e.initialized {
		return PositionEstimate{}, false
	}
	return PositionEstimate{LatDeg: e.x[0], LonDeg: e.x[1]}, true
}

// Tick runs one predict/correct cycle and returns the fused position.
// ok is false until the filter has been initialized by a first fix (or, in
// pass-through mode, until a first fix has been seen).
func (e *PositionEstimator) Tick(dt float64, fix *PositionFix, inertial *InertialSample) (PositionEstimate, bool) {
	if !e.cfg.UseEKF {
		if fix != nil && fix.Valid() {
			e.lastRaw = *fix
			e.haveRaw = true
		}
		if !e.haveRaw {
			return PositionEstimate{}, false
		}
		return PositionEstimate{LatDeg: e.lastRaw.LatDeg, LonDeg: e.lastRaw.LonDeg}, true
	}

	if !e.initialized {
		if fix != nil && fix.Valid() {
			e.Initialize(*fix)
			return PositionEstimate{LatDeg: e.x[0], LonDeg: e.x[1]}, true
		}
		return PositionEstimate{}, false
	}

	e.predict(dt)
	if fix != nil && fix.Valid() {
		e.correctGPS(*fix)
	}
	if inertial != nil {
		e.correctAccel(*inertial)
	}
	return PositionEstimate{LatDeg: e.x[0], LonDeg: e.x[1]}, true
}

// predict applies the constant-velocity motion model.
func (e *PositionEstimator) predict(dt float64) {
	f := mat.Identity4()
	f[0][2] = dt
	f[1][3] = dt

	e.x = f.MulVec(e.x)

	q := mat.Diag4(
		e.cfg.ProcessNoisePosition*dt,
		e.cfg.ProcessNoisePosition*dt,
		e.cfg.ProcessNoiseVelocity*dt,
		e.cfg.ProcessNoiseVelocity*dt,
	)
	e.p = f.Mul(e.p).Mul(f.Transpose()).Add(q)
}

// gpsNoise maps reported horizontal accuracy onto measurement noise using
// three trust tiers: trusted fixes keep their reported accuracy, marginal
// fixes are inflated 5x, poor fixes 50x so they barely move the estimate.
func (e *PositionEstimator) gpsNoise(accuracyM float64) float64 {
	base := e.cfg.MeasurementNoiseGPS
	switch {
	case accuracyM <= e.cfg.GPSAccuracyTrustThreshold:
		return math.Max(base, accuracyM)
	case accuracyM <= e.cfg.GPSAccuracyPoorThreshold:
		return math.Max(base*5, accuracyM*5)
	default:
		return math.Max(base*50, accuracyM*50)
	}
}

func (e *PositionEstimator) correctGPS(fix PositionFix) {
	r := e.gpsNoise(fix.AccuracyM)
	e.correct(gpsH, mat.Vec2{fix.LatDeg, fix.LonDeg}, mat.Diag2(r, r))
}

func (e *PositionEstimator) correctAccel(s InertialSample) {
	// Horizontal acceleration under the gate is treated as sensor noise.
	if vecLen3(s.Ax, s.Ay, 0) <= e.cfg.AccelThreshold {
		return
	}
	z := mat.Vec2{
		s.Ax * e.cfg.AccelScaleFactor,
		s.Ay * e.cfg.AccelScaleFactor,
	}
	r := e.cfg.MeasurementNoiseAccel
	e.correct(accelH, z, mat.Diag2(r, r))
}

// correct applies one standard Kalman update for a 2-dimensional
// observation h of the state.
func (e *PositionEstimator) correct(h mat.Mat2x4, z mat.Vec2, r mat.Mat2) {
	pred := h.MulVec(e.x)
	innovation := mat.Vec2{z[0] - pred[0], z[1] - pred[1]}

	s := h.Mul4(e.p).MulT(h).Add(r)
	sInv, regularized := s.Invert()
	if regularized {
		e.singularCount++
	}
	k := e.p.MulT2(h).Mul2(sInv)

	dx := k.MulVec(innovation)
	for i := range e.x {
		e.x[i] += dx[i]
	}
	e.p = mat.Identity4().Sub(k.Mul2x4(h)).Mul(e.p)
}
