package audio

import "math"

// Metrics summarizes signal level over a decoded clip.
type Metrics struct {
	RMSdBFS  float64
	PeakdBFS float64
	Samples  int
}

// Levels computes RMS and peak level in dBFS. An empty or all-zero clip
// reports -Inf for both.
func Levels(samples []float32) Metrics {
	if len(samples) == 0 {
		return Metrics{RMSdBFS: math.Inf(-1), PeakdBFS: math.Inf(-1)}
	}

	var sumSquares float64
	var peak float64
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
		if abs := math.Abs(v); abs > peak {
			peak = abs
		}
	}

	rms := math.Sqrt(sumSquares / float64(len(samples)))
	return Metrics{
		RMSdBFS:  toDBFS(rms),
		PeakdBFS: toDBFS(peak),
		Samples:  len(samples),
	}
}

// NearSilent reports whether a clip is quiet enough that transcription is
// unlikely to find speech. The peak gate sits 6dB above the RMS threshold
// so a single click does not defeat the check.
func NearSilent(m Metrics, thresholdDBFS float64) bool {
	if m.Samples == 0 {
		return true
	}
	if math.IsInf(m.RMSdBFS, -1) && math.IsInf(m.PeakdBFS, -1) {
		return true
	}
	return m.RMSdBFS <= thresholdDBFS && m.PeakdBFS <= thresholdDBFS+6
}

func toDBFS(value float64) float64 {
	if value <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(value)
}
