package gps

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

func TestNMEAApply_RMCEmitsFix(t *testing.T) {
	st := newNMEAState("/dev/ttyACM0", 9600)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	line := nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	fix, updated, err := st.apply(now, line)
	if err != nil {
		t.Fatalf("apply err: %v", err)
	}
	if !updated {
		t.Fatalf("expected updated")
	}
	if fix == nil {
		t.Fatalf("expected a fix")
	}
	// 4807.038 N is 48 deg + 7.038 min.
	if math.Abs(fix.LatDeg-48.1173) > 1e-3 {
		t.Fatalf("lat=%v", fix.LatDeg)
	}
	if math.Abs(fix.LonDeg-11.5167) > 1e-3 {
		t.Fatalf("lon=%v", fix.LonDeg)
	}
	// No HDOP seen yet, so the default applies.
	if math.Abs(fix.AccuracyM-defaultHDOP*hdopUEREMeters) > 1e-9 {
		t.Fatalf("accuracy=%v", fix.AccuracyM)
	}
	if !fix.Time.Equal(now) {
		t.Fatalf("time=%v", fix.Time)
	}

	snap := st.snapshot()
	if !snap.Valid {
		t.Fatalf("expected valid snapshot")
	}
	if snap.LatDeg == 0 || snap.LonDeg == 0 {
		t.Fatalf("expected non-zero lat/lon")
	}
}

func TestNMEAApply_GGASetsHDOPAndSatellites(t *testing.T) {
	st := newNMEAState("/dev/ttyACM0", 9600)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	gga := nmeaLine("GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
	fix, updated, err := st.apply(now, gga)
	if err != nil {
		t.Fatalf("apply gga err: %v", err)
	}
	if fix != nil {
		t.Fatalf("gga must not emit a fix")
	}
	if !updated {
		t.Fatalf("expected updated")
	}

	rmc := nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	fix, _, err = st.apply(now, rmc)
	if err != nil {
		t.Fatalf("apply rmc err: %v", err)
	}
	if fix == nil {
		t.Fatalf("expected a fix")
	}
	if math.Abs(fix.AccuracyM-0.9*hdopUEREMeters) > 1e-9 {
		t.Fatalf("accuracy=%v", fix.AccuracyM)
	}

	snap := st.snapshot()
	if snap.Satellites == nil || *snap.Satellites != 8 {
		t.Fatalf("satellites=%v", snap.Satellites)
	}
	if snap.HDOP == nil || math.Abs(*snap.HDOP-0.9) > 1e-9 {
		t.Fatalf("hdop=%v", snap.HDOP)
	}
}

func TestNMEAApply_VoidRMCInvalidates(t *testing.T) {
	st := newNMEAState("/dev/ttyACM0", 9600)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	good := nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	if _, _, err := st.apply(now, good); err != nil {
		t.Fatalf("apply err: %v", err)
	}

	void := nmeaLine("GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	fix, updated, err := st.apply(now.Add(time.Second), void)
	if err != nil {
		t.Fatalf("apply void err: %v", err)
	}
	if fix != nil {
		t.Fatalf("void sentence must not emit a fix")
	}
	if !updated {
		t.Fatalf("expected updated on loss of validity")
	}
	if st.snapshot().Valid {
		t.Fatalf("expected invalid snapshot")
	}
}

func TestNMEAApply_BadChecksum(t *testing.T) {
	st := newNMEAState("/dev/ttyACM0", 9600)
	good := nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	bad := good[:len(good)-2] + "00"
	if _, _, err := st.apply(time.Now(), bad); err == nil {
		t.Fatalf("expected error")
	}
}
