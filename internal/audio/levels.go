package audio

import "math"

// SilenceThreshold is the normalized RMS below which a reference sample is
// treated as near silent.
const SilenceThreshold = 0.005

// NormalizedRMS calculates the root mean square of integer PCM samples,
// scaled by the full-scale amplitude of bitDepth so the result is in [0, 1].
func NormalizedRMS(samples []int, bitDepth int) float64 {
	if len(samples) == 0 || bitDepth <= 0 {
		return 0.0
	}

	fullScale := math.Exp2(float64(bitDepth - 1))

	sum := 0.0
	for _, sample := range samples {
		v := float64(sample) / fullScale
		sum += v * v
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// IsNearSilent reports whether a probe found a level below SilenceThreshold.
func IsNearSilent(info Info) bool {
	return info.HasRMS && info.RMS < SilenceThreshold
}
