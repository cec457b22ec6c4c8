package fusion

import "math"

const radToDeg = 180 / math.Pi

// normalizeDeg wraps an angle into [0,360).
func normalizeDeg(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	return a
}

// angleDiffDeg returns the signed shortest arc from a to b in (-180,180].
func angleDiffDeg(a, b float64) float64 {
	d := math.Mod(b-a, 360)
	if d > 180 {
		d -= 360
	}
	if d <= -180 {
		d += 360
	}
	return d
}

// circularMeanDeg blends two headings through unit vectors so that 359°
// blended with 1° lands near 0°, never near 180°. w is the weight on b.
func circularMeanDeg(a, b, w float64) float64 {
	ar := a / radToDeg
	br := b / radToDeg
	x := (1-w)*math.Cos(ar) + w*math.Cos(br)
	y := (1-w)*math.Sin(ar) + w*math.Sin(br)
	if x == 0 && y == 0 {
		// Opposite headings with equal weight; keep a.
		return normalizeDeg(a)
	}
	return normalizeDeg(math.Atan2(y, x) * radToDeg)
}

// lerpAngleDeg interpolates from a toward b along the shortest arc.
func lerpAngleDeg(a, b, t float64) float64 {
	if t <= 0 {
		return normalizeDeg(a)
	}
	if t >= 1 {
		return normalizeDeg(b)
	}
	return normalizeDeg(a + angleDiffDeg(a, b)*t)
}

// smoothDampAngleDeg moves current toward target along the shortest arc
// using a critically damped spring, carrying velocity between calls.
// smoothTime is the approximate settle time in seconds; larger is heavier
// smoothing. The velocity accumulator keeps the step overshoot-free, which
// a plain lerp is not.
func smoothDampAngleDeg(current, target float64, velocity *float64, smoothTime, dt float64) float64 {
	if smoothTime < 1e-4 {
		smoothTime = 1e-4
	}
	target = current + angleDiffDeg(current, target)

	omega := 2 / smoothTime
	x := omega * dt
	exp := 1 / (1 + x + 0.48*x*x + 0.235*x*x*x)
	change := current - target
	temp := (*velocity + omega*change) * dt
	*velocity = (*velocity - omega*temp) * exp
	return normalizeDeg(target + (change+temp)*exp)
}

func vecLen3(x, y, z float64) float64 {
	return math.Sqrt(x*x + y*y + z*z)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
