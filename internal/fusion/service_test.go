package fusion

import (
	"math"
	"testing"
)

func TestServiceRejectsBadDT(t *testing.T) {
	e := New(DefaultConfig())
	if _, err := e.Tick(TickInput{DT: 0}); err == nil {
		t.Fatalf("expected error for dt=0")
	}
	if _, err := e.Tick(TickInput{DT: -1}); err == nil {
		t.Fatalf("expected error for dt<0")
	}
}

func TestServiceCountsInvalidSamples(t *testing.T) {
	e := New(DefaultConfig())
	in := TickInput{
		DT:       0.02,
		Fix:      &PositionFix{LatDeg: 53, LonDeg: -6, AccuracyM: 0},
		Magnetic: &MagneticSample{HeadingDeg: 0},
	}
	if _, err := e.Tick(in); err != nil {
		t.Fatalf("tick: %v", err)
	}
	snap := e.Snapshot()
	if snap.FixesRejected != 1 {
		t.Fatalf("FixesRejected=%d want 1", snap.FixesRejected)
	}
	if snap.CompassRejected != 1 {
		t.Fatalf("CompassRejected=%d want 1", snap.CompassRejected)
	}
	if snap.PositionValid {
		t.Fatalf("invalid fix must not initialize the filter")
	}
}

func TestServiceEndToEnd(t *testing.T) {
	e := New(DefaultConfig())
	est, err := e.Tick(TickInput{
		DT:       1,
		Fix:      &PositionFix{LatDeg: 53.349, LonDeg: -6.26, AccuracyM: 3},
		Inertial: &InertialSample{Az: 1},
		Angular:  &AngularSample{RateRad: 0},
		Magnetic: &MagneticSample{HeadingDeg: 45},
	})
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !est.PositionOK {
		t.Fatalf("expected position after first fix")
	}
	if !est.Calibrated {
		t.Fatalf("expected calibrated after first compass reading")
	}
	if math.Abs(est.Heading.Deg-45) > 1 {
		t.Fatalf("heading=%v want 45", est.Heading.Deg)
	}
	snap := e.Snapshot()
	if snap.Ticks != 1 || snap.FixesAccepted != 1 {
		t.Fatalf("snap=%+v want 1 tick, 1 accepted fix", snap)
	}
	if snap.LatDeg != 53.349 {
		t.Fatalf("snap.LatDeg=%v want 53.349", snap.LatDeg)
	}
}

func TestServiceBroadcastPerTick(t *testing.T) {
	e := New(DefaultConfig())
	id, ch := e.Broadcaster().Subscribe(4)
	defer e.Broadcaster().Unsubscribe(id)

	for i := 0; i < 3; i++ {
		if _, err := e.Tick(TickInput{DT: 0.02}); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case est, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed early")
			}
			if !est.HeadingOK {
				t.Fatalf("estimate %d missing heading", i)
			}
		default:
			t.Fatalf("expected %d buffered estimates, got %d", 3, i)
		}
	}
	select {
	case <-ch:
		t.Fatalf("more than one estimate per tick delivered")
	default:
	}
}

func TestServiceLateSubscriberGetsLastEstimate(t *testing.T) {
	e := New(DefaultConfig())
	if _, err := e.Tick(TickInput{DT: 0.02}); err != nil {
		t.Fatalf("tick: %v", err)
	}
	id, ch := e.Broadcaster().Subscribe(1)
	defer e.Broadcaster().Unsubscribe(id)
	select {
	case <-ch:
	default:
		t.Fatalf("late subscriber should receive the last estimate immediately")
	}
}

func TestServiceManualCalibration(t *testing.T) {
	e := New(DefaultConfig())
	if e.CalibrateManually(nil) {
		t.Fatalf("no compass yet: manual calibration must fail")
	}
	if !e.CalibrateManually(&MagneticSample{HeadingDeg: 200}) {
		t.Fatalf("manual calibration with reading must succeed")
	}
	snap := e.Snapshot()
	if !snap.Calibrated || snap.CalProgress != 1 {
		t.Fatalf("snap=%+v want calibrated with progress 1", snap)
	}
	e.SetDirection(10)
	if got := e.Heading().Heading().Deg; math.Abs(got-10) > 1e-9 {
		t.Fatalf("heading=%v want 10", got)
	}
}

func TestServiceMissingSensorsNeverFail(t *testing.T) {
	e := New(DefaultConfig())
	// Hundreds of ticks with no sensors at all must be harmless.
	for i := 0; i < 500; i++ {
		if _, err := e.Tick(TickInput{DT: 0.02}); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	snap := e.Snapshot()
	if snap.Ticks != 500 {
		t.Fatalf("ticks=%d want 500", snap.Ticks)
	}
}
