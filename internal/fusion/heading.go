package fusion

import "math"

// stationaryAccelEps is how far total acceleration may deviate from 1 g
// while the device still counts as stationary.
const stationaryAccelEps = 0.05

// stationaryDwellSec is the dwell over which the stationary compass blend
// weight ramps from blendWeightStationaryMin to blendWeightStationaryMax.
const stationaryDwellSec = 3.0

const (
	blendWeightStationaryMin = 0.05
	blendWeightStationaryMax = 0.2
	blendWeightMoving        = 0.02
)

// HeadingEstimator fuses integrated gyroscope rotation with absolute
// magnetic headings into a drift-corrected heading angle.
//
// The integrated angle accumulates gyro deltas; a compass blend nudges it
// toward the declination-adjusted magnetic heading each tick, and the
// CalibrationController re-aligns the offset when accumulated drift gets
// large. The emitted angle is a smooth-damped follower of the integrated
// angle, so fast rotation tracks near-instantly while sensor jitter at
// rest is flattened out.
type HeadingEstimator struct {
	cfg Config

	rawAngle  float64 // gyro-integrated angle, [0,360)
	angle     float64 // smoothed follower of rawAngle
	smoothVel float64 // smooth-damp velocity accumulator

	stationary    bool
	stationaryFor float64 // seconds at rest

	lastCompass float64 // last valid declination-adjusted compass heading
	haveCompass bool

	cal *CalibrationController
}

func NewHeadingEstimator(cfg Config) *HeadingEstimator {
	h := &HeadingEstimator{cfg: cfg}
	h.cal = newCalibrationController(cfg)
	return h
}

// Calibration exposes the subordinate controller, mainly for diagnostics.
func (h *HeadingEstimator) Calibration() *CalibrationController {
	return h.cal
}

// Calibrated reports whether the output is an absolute heading. Before the
// first valid compass reading (or a manual calibration) the output is
// relative to the power-on orientation.
func (h *HeadingEstimator) Calibrated() bool {
	return h.cal.State() != Uncalibrated
}

// Heading returns the current output angle without advancing the estimator.
func (h *HeadingEstimator) Heading() HeadingEstimate {
	return HeadingEstimate{Deg: normalizeDeg(h.angle + h.cal.Offset())}
}

// Tick advances the estimator by dt seconds. Every sample is optional: a
// missing gyro sample skips integration, a missing or sentinel-zero compass
// sample skips the blend, a missing accelerometer sample counts as moving.
func (h *HeadingEstimator) Tick(dt float64, angular *AngularSample, inertial *InertialSample, magnetic *MagneticSample) HeadingEstimate {
	h.updateMotionState(dt, inertial)

	rate := 0.0
	if angular != nil {
		rate = angular.RateRad
		h.integrate(dt, rate)
	}

	if magnetic != nil && magnetic.Valid() {
		h.blendCompass(*magnetic)
	}

	h.smooth(dt, rate)

	h.cal.Tick(dt, normalizeDeg(h.angle+h.cal.Offset()), h.lastCompass, h.haveCompass)
	return h.Heading()
}

// CalibrateManually aligns the heading to the given compass reading, or to
// the last known one when the argument is nil or the sentinel. The offset
// jumps immediately; there is no multi-tick blend. Returns false when no
// usable compass heading exists.
func (h *HeadingEstimator) CalibrateManually(magnetic *MagneticSample) bool {
	target := h.lastCompass
	ok := h.haveCompass
	if magnetic != nil && magnetic.Valid() {
		target = normalizeDeg(magnetic.HeadingDeg + h.cfg.MagneticDeclination)
		h.lastCompass = target
		h.haveCompass = true
		ok = true
	}
	if !ok {
		return false
	}
	h.cal.AlignNow(h.angle, target)
	return true
}

// SetDirection forces the output to the given absolute heading immediately.
func (h *HeadingEstimator) SetDirection(deg float64) {
	h.cal.AlignNow(h.angle, normalizeDeg(deg))
}

func (h *HeadingEstimator) updateMotionState(dt float64, inertial *InertialSample) {
	if inertial == nil {
		h.stationary = false
		h.stationaryFor = 0
		return
	}
	if math.Abs(inertial.Magnitude()-1) < stationaryAccelEps {
		if h.stationary {
			h.stationaryFor += dt
		} else {
			h.stationary = true
			h.stationaryFor = 0
		}
		return
	}
	h.stationary = false
	h.stationaryFor = 0
}

// integrate applies one gyro delta behind a motion-dependent noise gate.
// At rest the gate is wide (gyro output is almost pure noise); while moving
// it only strips the sub-degree jitter floor.
func (h *HeadingEstimator) integrate(dt, rateRad float64) {
	gate := h.cfg.HeadingNoiseThreshold
	if h.stationary {
		gate = h.cfg.StationaryNoiseThreshold
	}
	if math.Abs(rateRad) <= gate {
		return
	}
	delta := -rateRad * dt * radToDeg
	h.rawAngle = normalizeDeg(h.rawAngle + delta)
	h.cal.noteRotation(math.Abs(delta))
}

// blendCompass pulls the integrated angle toward the declination-adjusted
// compass heading by a circular weighted mean. The weight ramps up over a
// stationary dwell and stays small in motion so the blend corrects drift
// without fighting integrated rotation.
func (h *HeadingEstimator) blendCompass(m MagneticSample) {
	adjusted := normalizeDeg(m.HeadingDeg + h.cfg.MagneticDeclination)
	h.lastCompass = adjusted
	if !h.haveCompass {
		// First valid reading anchors the relative angle to an absolute
		// heading outright.
		h.haveCompass = true
		h.cal.AlignNow(h.angle, adjusted)
		return
	}
	if !h.cfg.EnableSensorFusion {
		return
	}
	w := blendWeightMoving
	if h.stationary {
		ramp := clamp01(h.stationaryFor / stationaryDwellSec)
		w = blendWeightStationaryMin + (blendWeightStationaryMax-blendWeightStationaryMin)*ramp
	}
	// Blend in offset-free space so the output moves toward the compass.
	target := normalizeDeg(adjusted - h.cal.Offset())
	h.rawAngle = circularMeanDeg(h.rawAngle, target, w)
}

// smooth advances the output angle toward the integrated angle. Rotation
// speed selects the settle time: near-still rotation gets the heaviest
// smoothing, rotation at or beyond RotationThreshold gets the lightest.
func (h *HeadingEstimator) smooth(dt, rateRad float64) {
	rotSpeed := math.Abs(rateRad) * radToDeg
	t := clamp01(rotSpeed / h.cfg.RotationThreshold)
	smoothTime := h.cfg.MaxSmoothingFactor + (h.cfg.MinSmoothingFactor-h.cfg.MaxSmoothingFactor)*t
	h.angle = smoothDampAngleDeg(h.angle, h.rawAngle, &h.smoothVel, smoothTime, dt)
}
