package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/KarunTCD/loga-botb/internal/fusion"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

// dialGPSD connects to gpsd over TCP.
func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	if ctx == nil {
		return d.Dial("tcp", addr)
	}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON streaming reports.
func gpsdWatch(conn net.Conn) error {
	// scaled=true yields SI units (meters) and degrees.
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdMsgBase struct {
	Class string `json:"class"`
}

type gpsdTPV struct {
	Class string `json:"class"`
	Mode  *int   `json:"mode"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	// Estimated position errors (meters) when available.
	Epx *float64 `json:"epx"`
	Epy *float64 `json:"epy"`
	Eph *float64 `json:"eph"`
}

type gpsdSat struct {
	Used bool `json:"used"`
}

type gpsdSKY struct {
	Class      string    `json:"class"`
	HDOP       *float64  `json:"hdop"`
	Satellites []gpsdSat `json:"satellites"`
}

type gpsdState struct {
	addr string

	latDeg float64
	lonDeg float64
	posOK  bool

	satsUsed int
	satsOK   bool
	hdop     float64
	hdopOK   bool

	hAccM  float64
	hAccOK bool

	lastFix time.Time
	valid   bool
}

func newGPSDState(addr string) *gpsdState {
	return &gpsdState{addr: addr}
}

// applyLine consumes one gpsd JSON report. It returns a fix when a TPV
// report carries a usable 2D-or-better position.
func (s *gpsdState) applyLine(now time.Time, line string) (*fusion.PositionFix, bool, error) {
	var base gpsdMsgBase
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return nil, false, fmt.Errorf("gpsd json parse failed: %v", err)
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return nil, false, fmt.Errorf("gpsd tpv parse failed: %v", err)
		}
		return s.applyTPV(now, tpv)
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return nil, false, fmt.Errorf("gpsd sky parse failed: %v", err)
		}
		return nil, s.applySKY(sky), nil
	default:
		// Ignore other gpsd messages (e.g. VERSION/DEVICES/WATCH).
		return nil, false, nil
	}
}

func (s *gpsdState) applyTPV(now time.Time, tpv gpsdTPV) (*fusion.PositionFix, bool, error) {
	// Mode 2 is a 2D fix, 3 is 3D; anything less has no usable position.
	if tpv.Mode == nil || *tpv.Mode < 2 || tpv.Lat == nil || tpv.Lon == nil {
		if s.valid {
			s.valid = false
			return nil, true, nil
		}
		return nil, false, nil
	}

	s.latDeg = *tpv.Lat
	s.lonDeg = *tpv.Lon
	s.posOK = true
	s.lastFix = now
	s.valid = true

	switch {
	case tpv.Eph != nil && *tpv.Eph > 0:
		s.hAccM = *tpv.Eph
		s.hAccOK = true
	case tpv.Epx != nil && tpv.Epy != nil && *tpv.Epx > 0 && *tpv.Epy > 0:
		s.hAccM = math.Max(*tpv.Epx, *tpv.Epy)
		s.hAccOK = true
	}

	fix := &fusion.PositionFix{
		LatDeg:    s.latDeg,
		LonDeg:    s.lonDeg,
		AccuracyM: s.accuracyM(),
		Time:      now,
	}
	return fix, true, nil
}

func (s *gpsdState) applySKY(sky gpsdSKY) bool {
	updated := false
	if sky.HDOP != nil && *sky.HDOP > 0 {
		s.hdop = *sky.HDOP
		s.hdopOK = true
		updated = true
	}
	if len(sky.Satellites) > 0 {
		used := 0
		for _, sat := range sky.Satellites {
			if sat.Used {
				used++
			}
		}
		s.satsUsed = used
		s.satsOK = true
		updated = true
	}
	return updated
}

func (s *gpsdState) accuracyM() float64 {
	if s.hAccOK {
		return s.hAccM
	}
	hdop := defaultHDOP
	if s.hdopOK {
		hdop = s.hdop
	}
	return hdop * hdopUEREMeters
}

func (s *gpsdState) snapshot() Snapshot {
	out := Snapshot{
		Enabled:  true,
		Valid:    s.valid,
		Source:   "gpsd",
		Device:   "gpsd",
		GPSDAddr: strings.TrimSpace(s.addr),
	}
	if s.posOK {
		out.LatDeg = s.latDeg
		out.LonDeg = s.lonDeg
		out.AccuracyM = s.accuracyM()
	}
	if s.satsOK {
		v := s.satsUsed
		out.Satellites = &v
	}
	if s.hdopOK {
		v := s.hdop
		out.HDOP = &v
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.UTC().Format(time.RFC3339Nano)
		out.FixAgeSec = time.Since(s.lastFix).Seconds()
		out.FixStale = time.Since(s.lastFix) > fixStaleAfter
	}
	return out
}
