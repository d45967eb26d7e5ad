package audio

import "math"

// firTaps is a linear-phase (symmetric) low-pass FIR, windowed-sinc,
// band-limited to 3.4 kHz — the voice-band cutoff §4.1 specifies for
// downsampling to 8 kHz. It is computed once for the 16kHz->8kHz direction
// and reused (by reflection of the index) for 8kHz->16kHz anti-imaging.
var firTaps = designLowPassFIR(3400, 16000, 31)

// designLowPassFIR builds a windowed-sinc low-pass filter with the given
// cutoff (Hz), design sample rate, and odd tap count (Hamming window).
func designLowPassFIR(cutoffHz float64, sampleRate float64, numTaps int) []float64 {
	taps := make([]float64, numTaps)
	fc := cutoffHz / sampleRate // normalized cutoff (0, 0.5)
	m := numTaps - 1
	var sum float64
	for n := 0; n < numTaps; n++ {
		k := float64(n) - float64(m)/2
		var sinc float64
		if k == 0 {
			sinc = 2 * fc
		} else {
			sinc = math.Sin(2*math.Pi*fc*k) / (math.Pi * k)
		}
		window := 0.54 - 0.46*math.Cos(2*math.Pi*float64(n)/float64(m))
		taps[n] = sinc * window
		sum += taps[n]
	}
	// normalize for unity DC gain
	for n := range taps {
		taps[n] /= sum
	}
	return taps
}

func filterFIR(samples []float64, taps []float64) []float64 {
	out := make([]float64, len(samples))
	half := len(taps) / 2
	for i := range samples {
		var acc float64
		for k, t := range taps {
			idx := i + k - half
			if idx < 0 || idx >= len(samples) {
				continue
			}
			acc += samples[idx] * t
		}
		out[i] = acc
	}
	return out
}

// Resample converts 16-bit little-endian mono PCM from srcRate to dstRate.
// Downsampling applies the band-limited FIR before decimation to avoid
// aliasing; upsampling zero-stuffs then applies the same FIR as an
// anti-imaging (reconstruction) filter.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || len(pcm) < 2 {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out
	}

	samples := pcmBytesToFloat(pcm)

	if dstRate < srcRate {
		ratio := srcRate / dstRate
		filtered := filterFIR(samples, firTaps)
		decimated := make([]float64, 0, len(filtered)/ratio+1)
		for i := 0; i < len(filtered); i += ratio {
			decimated = append(decimated, filtered[i])
		}
		return floatToPCMBytes(decimated)
	}

	ratio := dstRate / srcRate
	upsampled := make([]float64, len(samples)*ratio)
	for i, s := range samples {
		upsampled[i*ratio] = s * float64(ratio)
	}
	filtered := filterFIR(upsampled, firTaps)
	return floatToPCMBytes(filtered)
}

func pcmBytesToFloat(pcm []byte) []float64 {
	n := len(pcm) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		out[i] = float64(s)
	}
	return out
}

func floatToPCMBytes(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		if f > 32767 {
			f = 32767
		} else if f < -32768 {
			f = -32768
		}
		s := int16(f)
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
