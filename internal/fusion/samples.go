package fusion

import "time"

// PositionFix is one absolute position measurement from the location source.
type PositionFix struct {
	LatDeg    float64   `json:"lat_deg"`
	LonDeg    float64   `json:"lon_deg"`
	AccuracyM float64   `json:"accuracy_m"`
	Time      time.Time `json:"time,omitempty"`
}

// Valid reports whether the fix is usable. A non-positive reported accuracy
// means the source had no quality estimate; such fixes are dropped.
func (f PositionFix) Valid() bool {
	return f.AccuracyM > 0
}

// InertialSample is one accelerometer reading in g-units, device frame.
type InertialSample struct {
	Ax   float64   `json:"ax"`
	Ay   float64   `json:"ay"`
	Az   float64   `json:"az"`
	Time time.Time `json:"time,omitempty"`
}

// Magnitude returns the total acceleration in g. Near 1.0 when the device
// is held still (gravity only).
func (s InertialSample) Magnitude() float64 {
	return vecLen3(s.Ax, s.Ay, s.Az)
}

// AngularSample is one gyroscope reading: signed rotation rate about the
// vertical axis, radians per second.
type AngularSample struct {
	RateRad float64   `json:"rate_rad"`
	Time    time.Time `json:"time,omitempty"`
}

// MagneticSample is one compass reading, true heading in degrees [0,360).
//
// A reading of exactly 0 is the source's "no reading" sentinel and is never
// treated as a valid north heading. This conflates an invalid signal with a
// legitimate true-north reading; the ambiguity comes from the upstream
// sensor contract and is preserved here deliberately.
type MagneticSample struct {
	HeadingDeg float64   `json:"heading_deg"`
	Time       time.Time `json:"time,omitempty"`
}

func (s MagneticSample) Valid() bool {
	return s.HeadingDeg != 0
}

// TickInput carries everything the host hands the estimator for one tick.
// DT is required; every sample is optional.
type TickInput struct {
	DT       float64         `json:"dt"`
	Fix      *PositionFix    `json:"fix,omitempty"`
	Inertial *InertialSample `json:"inertial,omitempty"`
	Angular  *AngularSample  `json:"angular,omitempty"`
	Magnetic *MagneticSample `json:"magnetic,omitempty"`
}

// PositionEstimate is the fused position emitted once per tick.
type PositionEstimate struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
}

// HeadingEstimate is the stabilized heading emitted once per tick.
type HeadingEstimate struct {
	Deg float64 `json:"deg"`
}

// Estimate is the per-tick output pair delivered to subscribers.
type Estimate struct {
	Position    PositionEstimate `json:"position"`
	PositionOK  bool             `json:"position_ok"`
	Heading     HeadingEstimate  `json:"heading"`
	HeadingOK   bool             `json:"heading_ok"`
	Calibrated  bool             `json:"calibrated"`
	TickedAtUTC string           `json:"ticked_at_utc,omitempty"`
}
