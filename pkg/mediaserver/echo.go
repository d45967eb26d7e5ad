package mediaserver

import (
	"bytes"
	"math"
	"sync"
	"time"
)

// EchoSuppressor detects caller microphone input that is actually the
// agent's own playback leaking back in (acoustic echo with no proper
// AEC hardware loop), using cross-correlation and envelope-correlation
// against a rolling buffer of recently-played audio.
type EchoSuppressor struct {
	mu             sync.Mutex
	playedAudioBuf *bytes.Buffer
	maxBufSize     int
	echoThreshold  float64
	echoSilence    time.Duration
	lastPlayedAt   time.Time
	enabled        bool
}

const agentSampleRateHz = 16000

// NewEchoSuppressor returns a suppressor sized for 2s of rolling history
// at the agent's 16kHz mono PCM rate.
func NewEchoSuppressor() *EchoSuppressor {
	return &EchoSuppressor{
		playedAudioBuf: new(bytes.Buffer),
		maxBufSize:     agentSampleRateHz * 2 * 2, // 2s, 16-bit mono
		echoThreshold:  0.55,
		echoSilence:    1200 * time.Millisecond,
		enabled:        true,
	}
}

// RecordPlayedAudio records audio just handed to the transport/speaker so
// later capture frames can be checked against it.
func (es *EchoSuppressor) RecordPlayedAudio(chunk []byte) {
	if !es.enabled || len(chunk) == 0 {
		return
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	es.playedAudioBuf.Write(chunk)
	es.lastPlayedAt = time.Now()
	if es.playedAudioBuf.Len() > es.maxBufSize {
		data := es.playedAudioBuf.Bytes()
		trim := data[len(data)-es.maxBufSize:]
		es.playedAudioBuf.Reset()
		es.playedAudioBuf.Write(trim)
	}
}

// IsEcho reports whether inputChunk correlates strongly enough with
// recently-played audio to be the agent hearing itself.
func (es *EchoSuppressor) IsEcho(inputChunk []byte) bool {
	if !es.enabled || len(inputChunk) == 0 {
		return false
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	if time.Since(es.lastPlayedAt) > es.echoSilence {
		return false
	}
	played := es.playedAudioBuf.Bytes()
	if len(played) == 0 {
		return false
	}

	if es.correlate(inputChunk, played) > es.echoThreshold {
		return true
	}
	envCorr := maxEnvelopeCorrelation(bytesToSamples(inputChunk), bytesToSamples(played), 8)
	return envCorr > es.echoThreshold+0.05
}

// correlate computes normalized cross-correlation between input and the
// tail of reference (the part closest in time to now, accounting for
// playback-to-mic latency).
func (es *EchoSuppressor) correlate(input, reference []byte) float64 {
	inSamples := bytesToSamples(input)
	refSamples := bytesToSamples(reference)
	if len(inSamples) == 0 || len(refSamples) == 0 {
		return 0
	}

	compareLen := len(inSamples)
	if compareLen > len(refSamples) {
		compareLen = len(refSamples)
	}
	refCompare := refSamples[len(refSamples)-compareLen:]

	inEnergy := energy(inSamples)
	refEnergy := energy(refCompare)
	if inEnergy == 0 || refEnergy == 0 {
		return 0
	}

	var dot float64
	for i := 0; i < compareLen; i++ {
		dot += inSamples[i] * refCompare[i]
	}
	norm := dot / math.Sqrt(inEnergy*refEnergy)
	return clamp01(norm)
}

// ClearBuffer drops the played-audio history; call on interrupt/barge-in
// so stale playback doesn't mask newly detected speech.
func (es *EchoSuppressor) ClearBuffer() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.playedAudioBuf.Reset()
}

func (es *EchoSuppressor) SetThreshold(t float64) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if t >= 0 && t <= 1 {
		es.echoThreshold = t
	}
}

func (es *EchoSuppressor) SetEnabled(enabled bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.enabled = enabled
}

func bytesToSamples(data []byte) []float64 {
	samples := make([]float64, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		s := int16(data[i]) | int16(data[i+1])<<8
		samples = append(samples, float64(s)/32768.0)
	}
	return samples
}

func energy(samples []float64) float64 {
	var e float64
	for _, s := range samples {
		e += s * s
	}
	return e
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

// maxEnvelopeCorrelation compares decimated absolute-value envelopes,
// which survives phase shifts that break direct sample correlation
// (sibilants and other high-frequency content).
func maxEnvelopeCorrelation(inSamples, refSamples []float64, decimation int) float64 {
	if len(inSamples) == 0 || len(refSamples) == 0 {
		return 0
	}
	inEnv := envelope(inSamples, decimation)
	refEnv := envelope(refSamples, decimation)

	compareLen := len(inEnv)
	if compareLen > len(refEnv) {
		compareLen = len(refEnv)
	}
	if compareLen == 0 {
		return 0
	}

	inMean := mean(inEnv[:compareLen])
	centered := make([]float64, compareLen)
	var inVar float64
	for i := 0; i < compareLen; i++ {
		centered[i] = inEnv[i] - inMean
		inVar += centered[i] * centered[i]
	}
	if inVar <= 0 {
		return 0
	}

	stride := compareLen / 4
	if stride < 2 {
		stride = 2
	}

	var maxCorr float64
	searchRange := len(refEnv) - compareLen + 1
	for pos := 0; pos < searchRange; pos += stride {
		refMean := mean(refEnv[pos : pos+compareLen])
		var dot, refVar float64
		for i := 0; i < compareLen; i++ {
			r := refEnv[pos+i] - refMean
			dot += centered[i] * r
			refVar += r * r
		}
		if refVar > 0 {
			if corr := dot / math.Sqrt(inVar*refVar); corr > maxCorr {
				maxCorr = corr
			}
		}
	}
	return maxCorr
}

func envelope(samples []float64, decimation int) []float64 {
	n := len(samples) / decimation
	env := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < decimation; j++ {
			sum += math.Abs(samples[i*decimation+j])
		}
		env[i] = sum
	}
	return env
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
