package fusion

import (
	"fmt"
	"sync"
	"time"
)

// Snapshot is a point-in-time view of the estimator for out-of-band
// readers (status endpoint, logs). The tick loop never reads it.
type Snapshot struct {
	PositionValid bool     `json:"position_valid"`
	LatDeg        float64  `json:"lat_deg,omitempty"`
	LonDeg        float64  `json:"lon_deg,omitempty"`
	VelLatDegSec  float64  `json:"vel_lat_deg_sec,omitempty"`
	VelLonDegSec  float64  `json:"vel_lon_deg_sec,omitempty"`
	CovLat        float64  `json:"cov_lat,omitempty"`
	CovLon        float64  `json:"cov_lon,omitempty"`
	HeadingDeg    *float64 `json:"heading_deg,omitempty"`
	Calibrated    bool     `json:"calibrated"`
	CalState      string   `json:"cal_state"`
	CalProgress   float64  `json:"cal_progress"`

	Ticks            uint64 `json:"ticks"`
	FixesAccepted    uint64 `json:"fixes_accepted"`
	FixesRejected    uint64 `json:"fixes_rejected"`
	CompassRejected  uint64 `json:"compass_rejected"`
	SingularInverses uint64 `json:"singular_inverses"`
	Calibrations     uint64 `json:"calibrations"`

	UpdatedAtUTC string `json:"updated_at_utc,omitempty"`
}

// Estimator owns one position filter and one heading estimator and runs
// them in lockstep, one Tick per host frame.
//
// Tick calls must be strictly sequential; all estimator state is mutated
// only inside Tick. The snapshot and broadcaster are safe for concurrent
// readers on other goroutines.
type Estimator struct {
	cfg  Config
	pos  *PositionEstimator
	head *HeadingEstimator

	ticks           uint64
	fixesAccepted   uint64
	fixesRejected   uint64
	compassRejected uint64

	b *EstimateBroadcaster

	mu   sync.RWMutex
	snap Snapshot
}

func New(cfg Config) *Estimator {
	return &Estimator{
		cfg:  cfg,
		pos:  NewPositionEstimator(cfg),
		head: NewHeadingEstimator(cfg),
		b:    NewEstimateBroadcaster(),
	}
}

// Broadcaster returns the estimate fanout for this estimator.
func (e *Estimator) Broadcaster() *EstimateBroadcaster { return e.b }

// Position returns the position sub-estimator.
func (e *Estimator) Position() *PositionEstimator { return e.pos }

// Heading returns the heading sub-estimator.
func (e *Estimator) Heading() *HeadingEstimator { return e.head }

func (e *Estimator) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// CalibrateManually aligns the heading to the given (or last known)
// compass reading in a single step. Must be called from the tick
// goroutine, like Tick.
func (e *Estimator) CalibrateManually(magnetic *MagneticSample) bool {
	ok := e.head.CalibrateManually(magnetic)
	e.publishSnapshot(time.Now().UTC())
	return ok
}

// SetDirection forces the heading output to an absolute direction.
func (e *Estimator) SetDirection(deg float64) {
	e.head.SetDirection(deg)
	e.publishSnapshot(time.Now().UTC())
}

// Tick advances both estimators by dt and delivers the resulting estimate
// to all subscribers exactly once. Invalid samples are dropped here so the
// sub-estimators only ever see usable input; a missing sensor never fails
// the tick.
func (e *Estimator) Tick(in TickInput) (Estimate, error) {
	if in.DT <= 0 {
		return Estimate{}, fmt.Errorf("fusion: dt must be > 0, got %v", in.DT)
	}
	e.ticks++

	fix := in.Fix
	if fix != nil {
		if fix.Valid() {
			e.fixesAccepted++
		} else {
			e.fixesRejected++
			fix = nil
		}
	}
	magnetic := in.Magnetic
	if magnetic != nil && !magnetic.Valid() {
		e.compassRejected++
		magnetic = nil
	}

	pos, posOK := e.pos.Tick(in.DT, fix, in.Inertial)
	head := e.head.Tick(in.DT, in.Angular, in.Inertial, magnetic)

	now := time.Now().UTC()
	est := Estimate{
		Position:    pos,
		PositionOK:  posOK,
		Heading:     head,
		HeadingOK:   true,
		Calibrated:  e.head.Calibrated(),
		TickedAtUTC: now.Format(time.RFC3339Nano),
	}
	e.publishSnapshot(now)
	e.b.Publish(est)
	return est, nil
}

func (e *Estimator) publishSnapshot(now time.Time) {
	velLat, velLon := e.pos.Velocity()
	covLat, covLon := e.pos.Covariance()
	h := e.head.Heading().Deg
	cur, curOK := e.pos.Current()

	snap := Snapshot{
		PositionValid:    curOK,
		VelLatDegSec:     velLat,
		VelLonDegSec:     velLon,
		CovLat:           covLat,
		CovLon:           covLon,
		HeadingDeg:       &h,
		Calibrated:       e.head.Calibrated(),
		CalState:         e.head.Calibration().State().String(),
		CalProgress:      e.head.Calibration().Progress(),
		Ticks:            e.ticks,
		FixesAccepted:    e.fixesAccepted,
		FixesRejected:    e.fixesRejected,
		CompassRejected:  e.compassRejected,
		SingularInverses: e.pos.SingularInversions(),
		Calibrations:     e.head.Calibration().Corrections(),
		UpdatedAtUTC:     now.Format(time.RFC3339Nano),
	}
	if curOK {
		snap.LatDeg = cur.LatDeg
		snap.LonDeg = cur.LonDeg
	}

	e.mu.Lock()
	e.snap = snap
	e.mu.Unlock()
}
