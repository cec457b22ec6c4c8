package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/KarunTCD/loga-botb/internal/fusion"
)

type Config struct {
	// Source selects where sensor samples come from: "sim", "replay" or
	// "live" (serial/gpsd location source plus the network sensor feed).
	Source string `yaml:"source"`

	// TickInterval is the estimator frame period.
	TickInterval time.Duration `yaml:"tick_interval"`

	// InitTimeout bounds the live-mode wait for a first usable fix.
	// Zero disables the wait.
	InitTimeout time.Duration `yaml:"init_timeout"`

	Estimator EstimatorConfig `yaml:"estimator"`
	GPS       GPSConfig       `yaml:"gps"`
	Feed      FeedConfig      `yaml:"feed"`
	Sim       SimConfig       `yaml:"sim"`
	Replay    ReplayConfig    `yaml:"replay"`
	Outputs   OutputsConfig   `yaml:"outputs"`
	Button    ButtonConfig    `yaml:"button"`
}

// EstimatorConfig mirrors fusion.Config one to one. Omitted numeric fields
// fall back to the fusion defaults; the booleans defaulting to true use
// pointers so that "absent" and "false" stay distinguishable.
type EstimatorConfig struct {
	UseEKF                    *bool   `yaml:"use_ekf"`
	ProcessNoisePosition      float64 `yaml:"process_noise_position"`
	ProcessNoiseVelocity      float64 `yaml:"process_noise_velocity"`
	MeasurementNoiseGPS       float64 `yaml:"measurement_noise_gps"`
	MeasurementNoiseAccel     float64 `yaml:"measurement_noise_accel"`
	AccelThreshold            float64 `yaml:"accel_threshold"`
	AccelScaleFactor          float64 `yaml:"accel_scale_factor"`
	GPSAccuracyTrustThreshold float64 `yaml:"gps_accuracy_trust_threshold_m"`
	GPSAccuracyPoorThreshold  float64 `yaml:"gps_accuracy_poor_threshold_m"`

	MagneticDeclination      float64 `yaml:"magnetic_declination_deg"`
	MinSmoothingFactor       float64 `yaml:"min_smoothing_factor"`
	MaxSmoothingFactor       float64 `yaml:"max_smoothing_factor"`
	HeadingNoiseThreshold    float64 `yaml:"heading_noise_threshold"`
	StationaryNoiseThreshold float64 `yaml:"stationary_noise_threshold"`
	RotationThreshold        float64 `yaml:"rotation_threshold_deg_sec"`
	EnableSensorFusion       *bool   `yaml:"enable_sensor_fusion"`

	CalibrationThreshold      float64 `yaml:"calibration_threshold_deg"`
	CalibrationCheckInterval  int     `yaml:"calibration_check_interval_ticks"`
	CalibrationLerpSpeed      float64 `yaml:"calibration_lerp_speed"`
	EnablePeriodicCalibration *bool   `yaml:"enable_periodic_calibration"`
}

type GPSConfig struct {
	Enable bool `yaml:"enable"`

	// Source is "nmea" (direct serial) or "gpsd". Defaults to "nmea".
	Source   string `yaml:"source"`
	GPSDAddr string `yaml:"gpsd_addr"`
	Device   string `yaml:"device"`
	Baud     int    `yaml:"baud"`
}

type FeedConfig struct {
	MQTT MQTTFeedConfig `yaml:"mqtt"`
	WS   WSFeedConfig   `yaml:"ws"`
}

type MQTTFeedConfig struct {
	Enable      bool   `yaml:"enable"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type WSFeedConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

type SimConfig struct {
	StartLatDeg   float64 `yaml:"start_lat_deg"`
	StartLonDeg   float64 `yaml:"start_lon_deg"`
	WalkSpeedMS   float64 `yaml:"walk_speed_ms"`
	TurnPeriodSec float64 `yaml:"turn_period_sec"`
	FixAccuracyM  float64 `yaml:"fix_accuracy_m"`
	FixIntervalMS int     `yaml:"fix_interval_ms"`
	Seed          int64   `yaml:"seed"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type OutputsConfig struct {
	UDP  UDPOutputConfig `yaml:"udp"`
	Web  WebOutputConfig `yaml:"web"`
	MQTT MQTTFeedConfig  `yaml:"mqtt"`
	Log  RecordingConfig `yaml:"record"`
}

type UDPOutputConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

type WebOutputConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

// RecordingConfig writes every TickInput to a JSONL log for later replay.
type RecordingConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type ButtonConfig struct {
	Enable bool   `yaml:"enable"`
	Chip   string `yaml:"chip"`
	Line   int    `yaml:"line"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills defaults in place and rejects inconsistent
// combinations. Safe to call more than once.
func DefaultAndValidate(cfg *Config) error {
	if cfg.Source == "" {
		cfg.Source = "sim"
	}
	switch cfg.Source {
	case "sim", "replay", "live":
	default:
		return fmt.Errorf("source must be sim, replay or live, got %q", cfg.Source)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 20 * time.Millisecond
	}
	if cfg.InitTimeout < 0 {
		return fmt.Errorf("init_timeout must be >= 0")
	}

	if cfg.Source == "replay" {
		if cfg.Replay.Path == "" {
			return fmt.Errorf("replay.path is required when source is replay")
		}
		if cfg.Replay.Speed == 0 {
			cfg.Replay.Speed = 1
		}
		if cfg.Replay.Speed < 0 {
			return fmt.Errorf("replay.speed must be > 0")
		}
	}
	if cfg.Source == "live" && !cfg.GPS.Enable && !cfg.Feed.MQTT.Enable && !cfg.Feed.WS.Enable {
		return fmt.Errorf("source=live needs gps, feed.mqtt or feed.ws enabled")
	}

	if cfg.GPS.Enable {
		if cfg.GPS.Source == "" {
			cfg.GPS.Source = "nmea"
		}
		switch cfg.GPS.Source {
		case "nmea":
			if cfg.GPS.Baud <= 0 {
				cfg.GPS.Baud = 9600
			}
		case "gpsd":
			if cfg.GPS.GPSDAddr == "" {
				cfg.GPS.GPSDAddr = "127.0.0.1:2947"
			}
		default:
			return fmt.Errorf("gps.source must be nmea or gpsd, got %q", cfg.GPS.Source)
		}
	}

	if cfg.Feed.MQTT.Enable {
		if cfg.Feed.MQTT.Broker == "" {
			return fmt.Errorf("feed.mqtt.broker is required when feed.mqtt.enable is true")
		}
		if cfg.Feed.MQTT.ClientID == "" {
			cfg.Feed.MQTT.ClientID = "loga-botb-feed"
		}
		if cfg.Feed.MQTT.TopicPrefix == "" {
			cfg.Feed.MQTT.TopicPrefix = "loga"
		}
	}
	if cfg.Feed.WS.Enable {
		if cfg.Feed.WS.Listen == "" {
			cfg.Feed.WS.Listen = ":8793"
		}
		if cfg.Feed.WS.Path == "" {
			cfg.Feed.WS.Path = "/v1/samples"
		}
	}

	if cfg.Sim.WalkSpeedMS <= 0 {
		cfg.Sim.WalkSpeedMS = 1.4
	}
	if cfg.Sim.TurnPeriodSec <= 0 {
		cfg.Sim.TurnPeriodSec = 45
	}
	if cfg.Sim.FixAccuracyM <= 0 {
		cfg.Sim.FixAccuracyM = 3
	}
	if cfg.Sim.FixIntervalMS <= 0 {
		cfg.Sim.FixIntervalMS = 1000
	}
	if cfg.Sim.StartLatDeg == 0 && cfg.Sim.StartLonDeg == 0 {
		// City-centre default used by the field builds.
		cfg.Sim.StartLatDeg = 53.3490
		cfg.Sim.StartLonDeg = -6.2600
	}

	if cfg.Outputs.UDP.Enable && cfg.Outputs.UDP.Dest == "" {
		return fmt.Errorf("outputs.udp.dest is required when outputs.udp.enable is true")
	}
	if cfg.Outputs.Web.Enable && cfg.Outputs.Web.Listen == "" {
		cfg.Outputs.Web.Listen = ":8794"
	}
	if cfg.Outputs.MQTT.Enable {
		if cfg.Outputs.MQTT.Broker == "" {
			return fmt.Errorf("outputs.mqtt.broker is required when outputs.mqtt.enable is true")
		}
		if cfg.Outputs.MQTT.ClientID == "" {
			cfg.Outputs.MQTT.ClientID = "loga-botb-estimates"
		}
		if cfg.Outputs.MQTT.TopicPrefix == "" {
			cfg.Outputs.MQTT.TopicPrefix = "loga"
		}
	}
	if cfg.Outputs.Log.Enable && cfg.Outputs.Log.Path == "" {
		return fmt.Errorf("outputs.record.path is required when outputs.record.enable is true")
	}
	if cfg.Source == "replay" && cfg.Outputs.Log.Enable {
		return fmt.Errorf("outputs.record cannot be enabled while replaying")
	}

	if cfg.Button.Enable {
		if cfg.Button.Chip == "" {
			cfg.Button.Chip = "/dev/gpiochip0"
		}
		if cfg.Button.Line < 0 {
			return fmt.Errorf("button.line must be >= 0")
		}
	}

	return validateEstimator(&cfg.Estimator)
}

func validateEstimator(e *EstimatorConfig) error {
	d := fusion.DefaultConfig()
	if e.ProcessNoisePosition < 0 || e.ProcessNoiseVelocity < 0 {
		return fmt.Errorf("estimator process noise must be >= 0")
	}
	if e.MeasurementNoiseGPS < 0 || e.MeasurementNoiseAccel < 0 {
		return fmt.Errorf("estimator measurement noise must be >= 0")
	}
	if e.GPSAccuracyTrustThreshold == 0 {
		e.GPSAccuracyTrustThreshold = d.GPSAccuracyTrustThreshold
	}
	if e.GPSAccuracyPoorThreshold == 0 {
		e.GPSAccuracyPoorThreshold = d.GPSAccuracyPoorThreshold
	}
	if e.GPSAccuracyPoorThreshold < e.GPSAccuracyTrustThreshold {
		return fmt.Errorf("gps_accuracy_poor_threshold_m must be >= gps_accuracy_trust_threshold_m")
	}
	if e.MinSmoothingFactor != 0 && e.MaxSmoothingFactor != 0 &&
		e.MinSmoothingFactor > e.MaxSmoothingFactor {
		return fmt.Errorf("min_smoothing_factor must be <= max_smoothing_factor")
	}
	if e.CalibrationCheckInterval < 0 {
		return fmt.Errorf("calibration_check_interval_ticks must be >= 0")
	}
	if e.CalibrationLerpSpeed < 0 || e.CalibrationLerpSpeed > 1 {
		return fmt.Errorf("calibration_lerp_speed must be in [0,1]")
	}
	return nil
}

// Fusion converts the YAML estimator section into a fusion.Config,
// filling every omitted value with the fusion default.
func (e EstimatorConfig) Fusion() fusion.Config {
	cfg := fusion.DefaultConfig()
	if e.UseEKF != nil {
		cfg.UseEKF = *e.UseEKF
	}
	if e.ProcessNoisePosition > 0 {
		cfg.ProcessNoisePosition = e.ProcessNoisePosition
	}
	if e.ProcessNoiseVelocity > 0 {
		cfg.ProcessNoiseVelocity = e.ProcessNoiseVelocity
	}
	if e.MeasurementNoiseGPS > 0 {
		cfg.MeasurementNoiseGPS = e.MeasurementNoiseGPS
	}
	if e.MeasurementNoiseAccel > 0 {
		cfg.MeasurementNoiseAccel = e.MeasurementNoiseAccel
	}
	if e.AccelThreshold > 0 {
		cfg.AccelThreshold = e.AccelThreshold
	}
	if e.AccelScaleFactor > 0 {
		cfg.AccelScaleFactor = e.AccelScaleFactor
	}
	if e.GPSAccuracyTrustThreshold > 0 {
		cfg.GPSAccuracyTrustThreshold = e.GPSAccuracyTrustThreshold
	}
	if e.GPSAccuracyPoorThreshold > 0 {
		cfg.GPSAccuracyPoorThreshold = e.GPSAccuracyPoorThreshold
	}
	cfg.MagneticDeclination = e.MagneticDeclination
	if e.MinSmoothingFactor > 0 {
		cfg.MinSmoothingFactor = e.MinSmoothingFactor
	}
	if e.MaxSmoothingFactor > 0 {
		cfg.MaxSmoothingFactor = e.MaxSmoothingFactor
	}
	if e.HeadingNoiseThreshold > 0 {
		cfg.HeadingNoiseThreshold = e.HeadingNoiseThreshold
	}
	if e.StationaryNoiseThreshold > 0 {
		cfg.StationaryNoiseThreshold = e.StationaryNoiseThreshold
	}
	if e.RotationThreshold > 0 {
		cfg.RotationThreshold = e.RotationThreshold
	}
	if e.EnableSensorFusion != nil {
		cfg.EnableSensorFusion = *e.EnableSensorFusion
	}
	if e.CalibrationThreshold > 0 {
		cfg.CalibrationThreshold = e.CalibrationThreshold
	}
	if e.CalibrationCheckInterval > 0 {
		cfg.CalibrationCheckInterval = e.CalibrationCheckInterval
	}
	if e.CalibrationLerpSpeed > 0 {
		cfg.CalibrationLerpSpeed = e.CalibrationLerpSpeed
	}
	if e.EnablePeriodicCalibration != nil {
		cfg.EnablePeriodicCalibration = *e.EnablePeriodicCalibration
	}
	return cfg
}
