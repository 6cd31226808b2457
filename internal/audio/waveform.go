package audio

import (
	"errors"
	"math"
	"time"
)

const DefaultSampleRate = 16000

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrEmptyAudio        = errors.New("audio contains no samples")
)

// Waveform is mono float audio at a fixed sample rate. Samples lie in [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
}

func (w Waveform) Len() int {
	return len(w.Samples)
}

func (w Waveform) Seconds() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

func (w Waveform) Duration() time.Duration {
	return time.Duration(w.Seconds() * float64(time.Second))
}

// Split cuts the waveform into consecutive pieces of at most maxSeconds each.
// The pieces share the underlying sample slice.
func (w Waveform) Split(maxSeconds float64) []Waveform {
	if maxSeconds <= 0 || w.SampleRate <= 0 {
		return []Waveform{w}
	}

	size := int(maxSeconds * float64(w.SampleRate))
	if size <= 0 || len(w.Samples) <= size {
		return []Waveform{w}
	}

	pieces := make([]Waveform, 0, len(w.Samples)/size+1)
	for start := 0; start < len(w.Samples); start += size {
		end := min(start+size, len(w.Samples))
		pieces = append(pieces, Waveform{Samples: w.Samples[start:end], SampleRate: w.SampleRate})
	}
	return pieces
}

// PeakNormalize scales samples so the loudest one has magnitude 1.
// Silent input is left untouched.
func PeakNormalize(samples []float32) {
	var peak float64
	for _, s := range samples {
		if abs := math.Abs(float64(s)); abs > peak {
			peak = abs
		}
	}
	if peak == 0 || peak == 1 {
		return
	}

	gain := float32(1 / peak)
	for i := range samples {
		samples[i] *= gain
	}
}

// Downmix averages interleaved channels into one.
func Downmix(interleaved []float64, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		for i, v := range interleaved {
			out[i] = float32(v)
		}
		return out
	}

	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += interleaved[f*channels+c]
		}
		out[f] = float32(sum / float64(channels))
	}
	return out
}

// Resample converts samples from one rate to another with linear interpolation.
func Resample(samples []float32, from, to int) []float32 {
	if from <= 0 || to <= 0 || from == to || len(samples) == 0 {
		return samples
	}

	outLen := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	if outLen <= 0 {
		return nil
	}

	out := make([]float32, outLen)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + (samples[idx+1]-samples[idx])*frac
	}
	return out
}
