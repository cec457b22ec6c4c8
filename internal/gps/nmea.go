package gps

import (
	"fmt"
	"time"

	"github.com/adrianmo/go-nmea"

	"github.com/KarunTCD/loga-botb/internal/fusion"
)

// hdopUEREMeters converts HDOP to an approximate horizontal accuracy.
// 5 m is the conventional user-equivalent range error for consumer GNSS.
const hdopUEREMeters = 5.0

// defaultHDOP is assumed until a GGA sentence reports one.
const defaultHDOP = 1.5

type nmeaState struct {
	device string
	baud   int

	latDeg float64
	lonDeg float64
	posOK  bool

	sats   int
	satsOK bool
	hdop   float64
	hdopOK bool

	lastFix time.Time
	valid   bool

	lastErr string
}

func newNMEAState(device string, baud int) *nmeaState {
	return &nmeaState{device: device, baud: baud}
}

// apply parses one NMEA line. It returns a fix when an RMC sentence with a
// valid status updates the position, and updated when the snapshot changed.
func (s *nmeaState) apply(now time.Time, line string) (*fusion.PositionFix, bool, error) {
	sent, err := nmea.Parse(line)
	if err != nil {
		return nil, false, fmt.Errorf("nmea parse: %w", err)
	}

	switch sent.DataType() {
	case nmea.TypeRMC:
		rmc := sent.(nmea.RMC)
		if rmc.Validity != "A" {
			if s.valid {
				s.valid = false
				return nil, true, nil
			}
			return nil, false, nil
		}
		s.latDeg = rmc.Latitude
		s.lonDeg = rmc.Longitude
		s.posOK = true
		s.lastFix = now
		s.valid = true
		fix := &fusion.PositionFix{
			LatDeg:    s.latDeg,
			LonDeg:    s.lonDeg,
			AccuracyM: s.accuracyM(),
			Time:      now,
		}
		return fix, true, nil

	case nmea.TypeGGA:
		gga := sent.(nmea.GGA)
		s.sats = int(gga.NumSatellites)
		s.satsOK = true
		if gga.HDOP > 0 {
			s.hdop = gga.HDOP
			s.hdopOK = true
		}
		return nil, true, nil

	default:
		return nil, false, nil
	}
}

func (s *nmeaState) accuracyM() float64 {
	hdop := defaultHDOP
	if s.hdopOK {
		hdop = s.hdop
	}
	return hdop * hdopUEREMeters
}

func (s *nmeaState) snapshot() Snapshot {
	out := Snapshot{
		Enabled: true,
		Valid:   s.valid,
		Source:  "nmea",
		Device:  s.device,
		Baud:    s.baud,
	}
	if s.posOK {
		out.LatDeg = s.latDeg
		out.LonDeg = s.lonDeg
		out.AccuracyM = s.accuracyM()
	}
	if s.satsOK {
		sats := s.sats
		out.Satellites = &sats
	}
	if s.hdopOK {
		h := s.hdop
		out.HDOP = &h
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.UTC().Format(time.RFC3339)
		age := time.Since(s.lastFix).Seconds()
		if age >= 0 {
			out.FixAgeSec = age
		}
		out.FixStale = time.Since(s.lastFix) > fixStaleAfter
	}
	out.LastError = s.lastErr
	return out
}
