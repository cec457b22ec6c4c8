package fusion

// Config carries every estimator tuning knob. All values are constant for
// the lifetime of an Estimator instance; construct a new one to retune.
type Config struct {
	// Position filter.
	UseEKF                    bool
	ProcessNoisePosition      float64
	ProcessNoiseVelocity      float64
	MeasurementNoiseGPS       float64
	MeasurementNoiseAccel     float64
	AccelThreshold            float64 // g, gate for the velocity observation
	AccelScaleFactor          float64 // g -> deg/s empirical mapping
	GPSAccuracyTrustThreshold float64 // m
	GPSAccuracyPoorThreshold  float64 // m

	// Heading.
	MagneticDeclination      float64 // deg, added to compass headings
	MinSmoothingFactor       float64 // s, settle time under fast rotation
	MaxSmoothingFactor       float64 // s, settle time when still
	HeadingNoiseThreshold    float64 // rad/s gate while moving
	StationaryNoiseThreshold float64 // rad/s gate while stationary
	RotationThreshold        float64 // deg/s at which smoothing bottoms out
	EnableSensorFusion       bool    // blend compass into the gyro angle

	// Calibration.
	CalibrationThreshold      float64 // deg of drift that starts a correction
	CalibrationCheckInterval  int     // ticks between periodic drift checks
	CalibrationLerpSpeed      float64 // blend progress per tick
	EnablePeriodicCalibration bool
}

// DefaultConfig returns the tuning used on the handheld build.
func DefaultConfig() Config {
	return Config{
		UseEKF:                    true,
		ProcessNoisePosition:      1e-4,
		ProcessNoiseVelocity:      1e-5,
		MeasurementNoiseGPS:       1.0,
		MeasurementNoiseAccel:     10.0,
		AccelThreshold:            0.1,
		AccelScaleFactor:          1e-5,
		GPSAccuracyTrustThreshold: 5,
		GPSAccuracyPoorThreshold:  15,

		MagneticDeclination:      0,
		MinSmoothingFactor:       0.05,
		MaxSmoothingFactor:       0.5,
		HeadingNoiseThreshold:    0.01,
		StationaryNoiseThreshold: 0.05,
		RotationThreshold:        90,
		EnableSensorFusion:       true,

		CalibrationThreshold:      15,
		CalibrationCheckInterval:  900,
		CalibrationLerpSpeed:      0.05,
		EnablePeriodicCalibration: true,
	}
}
