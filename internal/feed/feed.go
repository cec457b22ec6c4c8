// Package feed ingests sensor samples streamed off the handheld device.
//
// Samples arrive as small JSON envelopes over MQTT or WebSocket. Each
// carrier decodes into the same Sample type and delivers into a Mailbox;
// the tick loop drains the newest sample of each kind once per frame.
package feed

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/KarunTCD/loga-botb/internal/fusion"
)

// Sample kinds accepted on the wire.
const (
	KindAccel   = "accel"
	KindGyro    = "gyro"
	KindCompass = "compass"
	KindFix     = "fix"
)

// Sample is the wire envelope for one sensor reading. Only the fields for
// the given Type are meaningful; the rest stay zero.
type Sample struct {
	Type string `json:"type"`

	// accel, in g.
	Ax float64 `json:"ax,omitempty"`
	Ay float64 `json:"ay,omitempty"`
	Az float64 `json:"az,omitempty"`

	// gyro yaw rate, rad/s, positive counterclockwise.
	RateRad float64 `json:"rate_rad,omitempty"`

	// compass magnetic heading, degrees. 0 means "no reading".
	HeadingDeg float64 `json:"heading_deg,omitempty"`

	// fix
	LatDeg    float64 `json:"lat_deg,omitempty"`
	LonDeg    float64 `json:"lon_deg,omitempty"`
	AccuracyM float64 `json:"accuracy_m,omitempty"`

	// Device timestamp, milliseconds since the Unix epoch. Optional; the
	// receive time is used when absent.
	TimestampMS int64 `json:"timestamp_ms,omitempty"`
}

func (s Sample) time(received time.Time) time.Time {
	if s.TimestampMS > 0 {
		return time.UnixMilli(s.TimestampMS).UTC()
	}
	return received
}

// DecodeSample parses one JSON envelope.
func DecodeSample(data []byte) (Sample, error) {
	var s Sample
	if err := json.Unmarshal(data, &s); err != nil {
		return Sample{}, fmt.Errorf("feed: decode sample: %w", err)
	}
	switch s.Type {
	case KindAccel, KindGyro, KindCompass, KindFix:
		return s, nil
	case "":
		return Sample{}, fmt.Errorf("feed: sample missing type")
	default:
		return Sample{}, fmt.Errorf("feed: unknown sample type %q", s.Type)
	}
}

// Batch is one frame's worth of drained samples. Absent kinds are nil.
type Batch struct {
	Fix      *fusion.PositionFix
	Inertial *fusion.InertialSample
	Angular  *fusion.AngularSample
	Magnetic *fusion.MagneticSample
}

// Mailbox keeps the newest sample of each kind. Carriers write at device
// rate; the tick loop drains once per frame, so only the latest reading
// of each kind matters.
type Mailbox struct {
	mu       sync.Mutex
	fix      *fusion.PositionFix
	inertial *fusion.InertialSample
	angular  *fusion.AngularSample
	magnetic *fusion.MagneticSample

	received uint64
	dropped  uint64
}

func NewMailbox() *Mailbox { return &Mailbox{} }

// Offer stores one sample, replacing any unconsumed sample of the same kind.
func (m *Mailbox) Offer(received time.Time, s Sample) error {
	if m == nil {
		return fmt.Errorf("feed: mailbox is nil")
	}
	ts := s.time(received)

	m.mu.Lock()
	defer m.mu.Unlock()
	switch s.Type {
	case KindAccel:
		if m.inertial != nil {
			m.dropped++
		}
		m.inertial = &fusion.InertialSample{Ax: s.Ax, Ay: s.Ay, Az: s.Az, Time: ts}
	case KindGyro:
		if m.angular != nil {
			m.dropped++
		}
		m.angular = &fusion.AngularSample{RateRad: s.RateRad, Time: ts}
	case KindCompass:
		if m.magnetic != nil {
			m.dropped++
		}
		m.magnetic = &fusion.MagneticSample{HeadingDeg: s.HeadingDeg, Time: ts}
	case KindFix:
		if m.fix != nil {
			m.dropped++
		}
		m.fix = &fusion.PositionFix{LatDeg: s.LatDeg, LonDeg: s.LonDeg, AccuracyM: s.AccuracyM, Time: ts}
	default:
		return fmt.Errorf("feed: unknown sample type %q", s.Type)
	}
	m.received++
	return nil
}

// Drain returns all pending samples and clears the mailbox.
func (m *Mailbox) Drain() Batch {
	if m == nil {
		return Batch{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := Batch{Fix: m.fix, Inertial: m.inertial, Angular: m.angular, Magnetic: m.magnetic}
	m.fix, m.inertial, m.angular, m.magnetic = nil, nil, nil, nil
	return b
}

// Stats reports lifetime counters for the status endpoint.
func (m *Mailbox) Stats() (received, dropped uint64) {
	if m == nil {
		return 0, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received, m.dropped
}
