// Package sim generates a synthetic pedestrian carrying the device: a
// meandering walk with noisy fixes and matching IMU, gyro and compass
// samples. It feeds demos and the end-to-end tests without hardware.
package sim

import (
	"math"
	"math/rand"
	"time"

	"github.com/KarunTCD/loga-botb/internal/fusion"
)

const (
	metersPerDegLat = 111320.0
	degPerRad       = 180.0 / math.Pi

	// Headings oscillate around the base course by this much.
	turnAmplitudeDeg = 75.0

	// Compass sample cadence relative to ticks.
	compassEveryNTicks = 5

	accelNoiseG = 0.01
)

// Config describes one simulated walk. Zero values get sensible defaults
// in NewWalker.
type Config struct {
	StartLatDeg   float64
	StartLonDeg   float64
	WalkSpeedMS   float64
	TurnPeriodSec float64
	FixAccuracyM  float64
	FixInterval   time.Duration

	// DeclinationDeg shifts the emitted compass readings so the estimator's
	// declination correction is exercised, not just passed zeros.
	DeclinationDeg float64

	Seed int64
}

// Walker is a deterministic pedestrian. Step advances it by one tick and
// returns the samples a real device would have delivered in that window.
// Not safe for concurrent use.
type Walker struct {
	cfg Config
	rng *rand.Rand

	latDeg     float64
	lonDeg     float64
	courseDeg  float64 // base course the oscillation is centered on
	headingDeg float64 // instantaneous heading
	elapsed    float64
	sinceFix   time.Duration
	tick       uint64
}

func NewWalker(cfg Config) *Walker {
	if cfg.WalkSpeedMS <= 0 {
		cfg.WalkSpeedMS = 1.4
	}
	if cfg.TurnPeriodSec <= 0 {
		cfg.TurnPeriodSec = 20
	}
	if cfg.FixAccuracyM <= 0 {
		cfg.FixAccuracyM = 4
	}
	if cfg.FixInterval <= 0 {
		cfg.FixInterval = time.Second
	}
	w := &Walker{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		latDeg: cfg.StartLatDeg,
		lonDeg: cfg.StartLonDeg,
	}
	w.headingDeg = w.courseDeg
	// A fix is due on the very first step so consumers initialize fast.
	w.sinceFix = cfg.FixInterval
	return w
}

// TrueState reports the noise-free ground truth, for test assertions.
func (w *Walker) TrueState() (latDeg, lonDeg, headingDeg float64) {
	return w.latDeg, w.lonDeg, w.headingDeg
}

// Step advances the walk by dt and returns the tick's samples.
func (w *Walker) Step(dt float64) fusion.TickInput {
	if dt <= 0 {
		dt = 0.02
	}

	prevHeading := w.headingDeg
	w.elapsed += dt
	w.tick++

	// Heading wanders as a sinusoid around the base course, and the base
	// course itself drifts slowly so the path does not retrace.
	phase := 2 * math.Pi * w.elapsed / w.cfg.TurnPeriodSec
	w.courseDeg += w.rng.NormFloat64() * 0.5 * dt
	w.headingDeg = math.Mod(w.courseDeg+turnAmplitudeDeg*math.Sin(phase)+360, 360)

	// Advance position along the instantaneous heading.
	hRad := w.headingDeg / degPerRad
	north := w.cfg.WalkSpeedMS * dt * math.Cos(hRad)
	east := w.cfg.WalkSpeedMS * dt * math.Sin(hRad)
	w.latDeg += north / metersPerDegLat
	w.lonDeg += east / (metersPerDegLat * math.Cos(w.latDeg/degPerRad))

	in := fusion.TickInput{DT: dt}
	now := time.Unix(0, int64(w.elapsed*float64(time.Second))).UTC()

	// Gyro: heading is degrees clockwise-positive, the rate gyro reports
	// rad/s counterclockwise-positive, so the sign flips.
	headingRate := shortestArcDeg(w.headingDeg-prevHeading) / dt
	in.Angular = &fusion.AngularSample{RateRad: -headingRate / degPerRad, Time: now}

	// Accelerometer: gravity on z plus walk jitter.
	in.Inertial = &fusion.InertialSample{
		Ax:   w.rng.NormFloat64() * accelNoiseG,
		Ay:   w.rng.NormFloat64() * accelNoiseG,
		Az:   1 + w.rng.NormFloat64()*accelNoiseG,
		Time: now,
	}

	if w.tick%compassEveryNTicks == 0 {
		// Magnetic heading reads true minus declination. Zero is the
		// receiver's "no reading" value, so dodge it.
		mag := math.Mod(w.headingDeg-w.cfg.DeclinationDeg+w.rng.NormFloat64()*2+360, 360)
		if mag == 0 {
			mag = 0.01
		}
		in.Magnetic = &fusion.MagneticSample{HeadingDeg: mag, Time: now}
	}

	w.sinceFix += time.Duration(dt * float64(time.Second))
	if w.sinceFix >= w.cfg.FixInterval {
		w.sinceFix = 0
		// Horizontal noise at roughly half the reported accuracy.
		sigmaM := w.cfg.FixAccuracyM / 2
		nLat := w.rng.NormFloat64() * sigmaM / metersPerDegLat
		nLon := w.rng.NormFloat64() * sigmaM / (metersPerDegLat * math.Cos(w.latDeg/degPerRad))
		in.Fix = &fusion.PositionFix{
			LatDeg:    w.latDeg + nLat,
			LonDeg:    w.lonDeg + nLon,
			AccuracyM: w.cfg.FixAccuracyM,
			Time:      now,
		}
	}

	return in
}

func shortestArcDeg(d float64) float64 {
	d = math.Mod(d+540, 360) - 180
	return d
}
