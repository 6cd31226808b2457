package audio

import "math"

type Levels struct {
	RMSdBFS  float64
	PeakdBFS float64
	Samples  int
}

func Measure(wave Waveform) Levels {
	if len(wave.Samples) == 0 {
		return Levels{RMSdBFS: math.Inf(-1), PeakdBFS: math.Inf(-1)}
	}

	var peak, sumSquares float64
	for _, s := range wave.Samples {
		v := float64(s)
		if abs := math.Abs(v); abs > peak {
			peak = abs
		}
		sumSquares += v * v
	}

	return Levels{
		RMSdBFS:  amplitudeToDBFS(math.Sqrt(sumSquares / float64(len(wave.Samples)))),
		PeakdBFS: amplitudeToDBFS(peak),
		Samples:  len(wave.Samples),
	}
}

// IsSilent reports whether the levels stay below thresholdDBFS, allowing
// isolated peaks up to 6 dB above it.
func (l Levels) IsSilent(thresholdDBFS float64) bool {
	if l.Samples == 0 {
		return true
	}
	if math.IsInf(l.RMSdBFS, -1) && math.IsInf(l.PeakdBFS, -1) {
		return true
	}
	return l.RMSdBFS <= thresholdDBFS && l.PeakdBFS <= thresholdDBFS+6
}

func amplitudeToDBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20.0 * math.Log10(amplitude)
}
