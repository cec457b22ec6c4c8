package fusion

import "math"

// CalState is the calibration lifecycle of the heading estimator.
type CalState int

const (
	// Uncalibrated means no absolute reference has been seen; headings are
	// relative to the power-on orientation.
	Uncalibrated CalState = iota
	// Calibrating means a drift correction is blending in (progress < 1).
	Calibrating
	// Calibrated means the live offset has reached its target.
	Calibrated
)

func (s CalState) String() string {
	switch s {
	case Uncalibrated:
		return "uncalibrated"
	case Calibrating:
		return "calibrating"
	case Calibrated:
		return "calibrated"
	default:
		return "unknown"
	}
}

// forcedRotationBudgetDeg is the cumulative unsigned rotation after which
// integration error is assumed to have exhausted its budget and a
// correction is forced (two full turns).
const forcedRotationBudgetDeg = 720

// forcedAgeSec forces a correction when the last calibration is older than
// this and a compass heading is available.
const forcedAgeSec = 30

// CalibrationController watches the heading estimator for drift against
// the compass and re-aligns the calibration offset, either as a smooth
// multi-tick blend or instantly for manual calibration.
type CalibrationController struct {
	cfg Config

	state       CalState
	offset      float64 // live offset added to the integrated angle
	startOffset float64 // offset when the current correction began
	target      float64 // offset the correction is blending toward
	progress    float64 // blend progress in [0,1]

	ticks         int     // ticks since the last periodic check window reset
	rotationSince float64 // unsigned degrees rotated since last calibration
	timeSince     float64 // seconds since last calibration

	corrections uint64 // total corrections started, diagnostic
}

func newCalibrationController(cfg Config) *CalibrationController {
	return &CalibrationController{cfg: cfg}
}

func (c *CalibrationController) State() CalState { return c.state }

// Offset is the live calibration offset in degrees.
func (c *CalibrationController) Offset() float64 { return c.offset }

// Progress is the blend progress of the active correction, 1 when idle.
func (c *CalibrationController) Progress() float64 {
	if c.state != Calibrating {
		return 1
	}
	return c.progress
}

// Corrections counts started corrections, manual ones included.
func (c *CalibrationController) Corrections() uint64 { return c.corrections }

// noteRotation accumulates unsigned rotation toward the forced-correction
// budget. Called by the heading estimator per integrated delta.
func (c *CalibrationController) noteRotation(deltaDeg float64) {
	c.rotationSince += deltaDeg
}

// Tick advances any active blend, then runs the forced and periodic drift
// checks. currentHeading is the estimator's output heading and compassDeg
// the last declination-adjusted compass heading (meaningful only when
// haveCompass is true).
func (c *CalibrationController) Tick(dt, currentHeading, compassDeg float64, haveCompass bool) {
	c.advanceBlend()

	c.ticks++
	c.timeSince += dt

	if haveCompass && (c.rotationSince > forcedRotationBudgetDeg || c.timeSince > forcedAgeSec) {
		// Integration budget exhausted: apply regardless of drift size.
		c.beginCorrection(currentHeading, compassDeg)
		return
	}

	if !c.cfg.EnablePeriodicCalibration || !haveCompass {
		return
	}
	if c.cfg.CalibrationCheckInterval <= 0 || c.ticks%c.cfg.CalibrationCheckInterval != 0 {
		return
	}
	drift := math.Abs(angleDiffDeg(currentHeading, compassDeg))
	if drift > c.cfg.CalibrationThreshold {
		c.beginCorrection(currentHeading, compassDeg)
	}
}

// beginCorrection schedules a smooth re-alignment of the live offset so the
// output heading converges on the compass heading.
func (c *CalibrationController) beginCorrection(currentHeading, compassDeg float64) {
	c.startOffset = c.offset
	c.target = normalizeDeg(c.offset + angleDiffDeg(currentHeading, compassDeg))
	c.progress = 0
	c.state = Calibrating
	c.corrections++
	c.resetAccumulators()
}

// AlignNow sets the offset so that rawAngle maps to the given absolute
// heading, instantly. Used for manual calibration and for anchoring on the
// first valid compass reading.
func (c *CalibrationController) AlignNow(rawAngle, headingDeg float64) {
	c.offset = normalizeDeg(headingDeg - rawAngle)
	c.startOffset = c.offset
	c.target = c.offset
	c.progress = 1
	c.state = Calibrated
	c.corrections++
	c.resetAccumulators()
}

func (c *CalibrationController) advanceBlend() {
	if c.state != Calibrating {
		return
	}
	c.progress += c.cfg.CalibrationLerpSpeed
	if c.progress >= 1 {
		c.progress = 1
		c.state = Calibrated
	}
	c.offset = lerpAngleDeg(c.startOffset, c.target, c.progress)
}

func (c *CalibrationController) resetAccumulators() {
	c.ticks = 0
	c.rotationSince = 0
	c.timeSince = 0
}
