package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KarunTCD/loga-botb/internal/fusion"
)

type fakeCalibrator struct {
	calibrates int
	headings   []float64
}

func (c *fakeCalibrator) RequestCalibrate()          { c.calibrates++ }
func (c *fakeCalibrator) RequestHeading(deg float64) { c.headings = append(c.headings, deg) }

func TestStatusEndpoint(t *testing.T) {
	status := NewStatus()
	status.SetStatic("sim", "20ms")
	status.MarkTick(time.Now().UTC())
	status.SetEstimator(fusion.Snapshot{Calibrated: true, CalState: "calibrated", Ticks: 42})

	srv := httptest.NewServer(Handler(status, nil, nil, SettingsStore{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	var snap StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Service != "loga-botb" || snap.Mode != "sim" || snap.TicksTotal != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if !snap.Estimator.Calibrated || snap.Estimator.Ticks != 42 {
		t.Fatalf("estimator=%+v", snap.Estimator)
	}
}

func TestStatusEndpoint_MethodNotAllowed(t *testing.T) {
	srv := httptest.NewServer(Handler(NewStatus(), nil, nil, SettingsStore{}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/status", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestCalibrateEndpoints(t *testing.T) {
	cal := &fakeCalibrator{}
	srv := httptest.NewServer(Handler(NewStatus(), nil, cal, SettingsStore{}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/calibrate", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("calibrate status=%d", resp.StatusCode)
	}
	if cal.calibrates != 1 {
		t.Fatalf("calibrates=%d", cal.calibrates)
	}

	resp, err = http.Post(srv.URL+"/api/calibrate/direction", "application/json", strings.NewReader(`{"deg":271.5}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("direction status=%d", resp.StatusCode)
	}
	if len(cal.headings) != 1 || cal.headings[0] != 271.5 {
		t.Fatalf("headings=%v", cal.headings)
	}
}

func TestCalibrateDirection_Validation(t *testing.T) {
	cal := &fakeCalibrator{}
	srv := httptest.NewServer(Handler(NewStatus(), nil, cal, SettingsStore{}))
	defer srv.Close()

	for _, body := range []string{`{}`, `{"deg":-1}`, `{"deg":360}`, `not json`} {
		resp, err := http.Post(srv.URL+"/api/calibrate/direction", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post %q: %v", body, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status=%d", body, resp.StatusCode)
		}
	}
	if cal.calibrates != 0 || len(cal.headings) != 0 {
		t.Fatalf("invalid requests must not reach the calibrator")
	}
}

func TestCalibrate_UnavailableWithoutController(t *testing.T) {
	srv := httptest.NewServer(Handler(NewStatus(), nil, nil, SettingsStore{}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/calibrate", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestEstimatesSSE(t *testing.T) {
	b := fusion.NewEstimateBroadcaster()
	b.Publish(fusion.Estimate{
		Position:   fusion.PositionEstimate{LatDeg: 53.3490, LonDeg: -6.2600},
		PositionOK: true,
		Heading:    fusion.HeadingEstimate{Deg: 12.5},
		HeadingOK:  true,
	})

	srv := httptest.NewServer(Handler(NewStatus(), b, nil, SettingsStore{}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/estimates", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}

	// The broadcaster replays the last value, so one event arrives without
	// further publishes.
	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if data == "" {
		t.Fatalf("no SSE event received: %v", scanner.Err())
	}

	var est fusion.Estimate
	if err := json.Unmarshal([]byte(data), &est); err != nil {
		t.Fatalf("event is not valid JSON: %v", err)
	}
	if !est.PositionOK || est.Heading.Deg != 12.5 {
		t.Fatalf("estimate=%+v", est)
	}
}
