package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KarunTCD/loga-botb/internal/config"
)

func writeSettingsConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := strings.Join([]string{
		"source: sim",
		"estimator:",
		"  magnetic_declination_deg: -3.5",
		"  calibration_threshold_deg: 15",
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestSettings_Get(t *testing.T) {
	store := SettingsStore{ConfigPath: writeSettingsConfig(t)}
	srv := httptest.NewServer(store.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/settings")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	var got SettingsPayload
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MagneticDeclinationDeg != -3.5 {
		t.Fatalf("declination=%v", got.MagneticDeclinationDeg)
	}
	if !got.UseEKF || !got.EnableSensorFusion || !got.EnablePeriodicCalibration {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestSettings_PostRoundtrip(t *testing.T) {
	path := writeSettingsConfig(t)
	store := SettingsStore{ConfigPath: path}
	srv := httptest.NewServer(store.Handler())
	defer srv.Close()

	body := `{"magnetic_declination_deg":2.25,"use_ekf":false,"enable_sensor_fusion":true,"enable_periodic_calibration":false,"calibration_threshold_deg":20}`
	resp, err := http.Post(srv.URL+"/api/settings", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	f := cfg.Estimator.Fusion()
	if f.MagneticDeclination != 2.25 || f.UseEKF || f.EnablePeriodicCalibration || f.CalibrationThreshold != 20 {
		t.Fatalf("persisted=%+v", f)
	}
}

func TestSettings_PostRejectsBadPayload(t *testing.T) {
	store := SettingsStore{ConfigPath: writeSettingsConfig(t)}
	srv := httptest.NewServer(store.Handler())
	defer srv.Close()

	cases := []string{
		`{}`,
		`{"magnetic_declination_deg":999,"use_ekf":true,"enable_sensor_fusion":true,"enable_periodic_calibration":true,"calibration_threshold_deg":15}`,
		`{"magnetic_declination_deg":0,"use_ekf":true,"enable_sensor_fusion":true,"enable_periodic_calibration":true,"calibration_threshold_deg":200}`,
		`{"unknown_key":1}`,
	}
	for _, body := range cases {
		resp, err := http.Post(srv.URL+"/api/settings", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post %q: %v", body, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status=%d", body, resp.StatusCode)
		}
	}
}

func TestSettings_UnavailableWithoutPath(t *testing.T) {
	srv := httptest.NewServer(SettingsStore{}.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/settings")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}
