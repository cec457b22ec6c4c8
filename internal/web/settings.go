package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/KarunTCD/loga-botb/internal/config"
)

// SettingsPayload is the tuning surface exposed to the session operator.
// The full config stays file-only; these are the knobs worth changing in
// the field. Changes take effect on restart.
type SettingsPayload struct {
	MagneticDeclinationDeg    float64 `json:"magnetic_declination_deg"`
	UseEKF                    bool    `json:"use_ekf"`
	EnableSensorFusion        bool    `json:"enable_sensor_fusion"`
	EnablePeriodicCalibration bool    `json:"enable_periodic_calibration"`
	CalibrationThresholdDeg   float64 `json:"calibration_threshold_deg"`
}

// SettingsPayloadIn is the strict POST schema.
//
// All fields are required (no partial updates) to avoid hidden defaults and
// prevent accidental schema drift.
type SettingsPayloadIn struct {
	MagneticDeclinationDeg    *float64 `json:"magnetic_declination_deg"`
	UseEKF                    *bool    `json:"use_ekf"`
	EnableSensorFusion        *bool    `json:"enable_sensor_fusion"`
	EnablePeriodicCalibration *bool    `json:"enable_periodic_calibration"`
	CalibrationThresholdDeg   *float64 `json:"calibration_threshold_deg"`
}

func decodeSettingsPayloadIn(r io.Reader) (SettingsPayloadIn, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var out SettingsPayloadIn
	if err := dec.Decode(&out); err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return SettingsPayloadIn{}, errors.New("invalid json: trailing data")
	}
	return out, nil
}

func validateSettingsPayloadIn(p SettingsPayloadIn) error {
	if p.MagneticDeclinationDeg == nil {
		return errors.New("magnetic_declination_deg is required")
	}
	if *p.MagneticDeclinationDeg < -180 || *p.MagneticDeclinationDeg > 180 {
		return errors.New("magnetic_declination_deg must be in [-180, 180]")
	}
	if p.UseEKF == nil {
		return errors.New("use_ekf is required")
	}
	if p.EnableSensorFusion == nil {
		return errors.New("enable_sensor_fusion is required")
	}
	if p.EnablePeriodicCalibration == nil {
		return errors.New("enable_periodic_calibration is required")
	}
	if p.CalibrationThresholdDeg == nil {
		return errors.New("calibration_threshold_deg is required")
	}
	if *p.CalibrationThresholdDeg <= 0 || *p.CalibrationThresholdDeg >= 180 {
		return errors.New("calibration_threshold_deg must be in (0, 180)")
	}
	return nil
}

func configToSettingsPayload(cfg config.Config) SettingsPayload {
	f := cfg.Estimator.Fusion()
	return SettingsPayload{
		MagneticDeclinationDeg:    f.MagneticDeclination,
		UseEKF:                    f.UseEKF,
		EnableSensorFusion:        f.EnableSensorFusion,
		EnablePeriodicCalibration: f.EnablePeriodicCalibration,
		CalibrationThresholdDeg:   f.CalibrationThreshold,
	}
}

func applySettingsPayload(cfg *config.Config, p SettingsPayloadIn) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validateSettingsPayloadIn(p); err != nil {
		return err
	}
	cfg.Estimator.MagneticDeclination = *p.MagneticDeclinationDeg
	cfg.Estimator.UseEKF = p.UseEKF
	cfg.Estimator.EnableSensorFusion = p.EnableSensorFusion
	cfg.Estimator.EnablePeriodicCalibration = p.EnablePeriodicCalibration
	cfg.Estimator.CalibrationThreshold = *p.CalibrationThresholdDeg
	return nil
}

type SettingsStore struct {
	ConfigPath string
}

func (s SettingsStore) load() (config.Config, error) {
	return config.Load(s.ConfigPath)
}

func (s SettingsStore) save(cfg config.Config) error {
	if err := config.DefaultAndValidate(&cfg); err != nil {
		return err
	}
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	// Write atomically to avoid corrupting config on crash/power loss.
	// Use a temp file in the same directory so os.Rename is atomic.
	dir := filepath.Dir(s.ConfigPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.ConfigPath)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.ConfigPath)
}

func (s SettingsStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(s.ConfigPath) == "" {
			http.Error(w, "settings not available (no config path)", http.StatusNotImplemented)
			return
		}

		switch r.Method {
		case http.MethodGet:
			cfg, err := s.load()
			if err != nil {
				http.Error(w, fmt.Sprintf("load failed: %v", err), http.StatusInternalServerError)
				return
			}
			payload := configToSettingsPayload(cfg)
			b, err := json.MarshalIndent(payload, "", "  ")
			if err != nil {
				http.Error(w, "marshal failed", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(b)
			_, _ = w.Write([]byte("\n"))

		case http.MethodPost:
			in, err := decodeSettingsPayloadIn(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			cfg, err := s.load()
			if err != nil {
				http.Error(w, fmt.Sprintf("load failed: %v", err), http.StatusInternalServerError)
				return
			}
			if err := applySettingsPayload(&cfg, in); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := s.save(cfg); err != nil {
				http.Error(w, fmt.Sprintf("save failed: %v", err), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("{\"ok\":true,\"restart_required\":true}\n"))

		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
