//go:build onnx

package vad

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// NeuralClassifier runs a small pretrained speech/non-speech network (a
// Silero-style VAD) via ONNX Runtime. It is the "neural" variant of §4.2's
// VoiceClassifier capability, grounded on
// nupi-ai-plugin-vad-local-silero's internal/engine.SileroEngine: same
// windowing (512 samples / 32ms at 16kHz), same hidden-state tensor
// carried between calls, same shared-library resolution strategy.
type NeuralClassifier struct {
	session *ort.AdvancedSession

	inputTensor  *ort.Tensor[float32]
	stateTensor  *ort.Tensor[float32]
	srTensor     *ort.Tensor[int64]
	outputTensor *ort.Tensor[float32]
	stateNTensor *ort.Tensor[float32]

	pcmBuf    []float32
	threshold float64
	lastProb  float32
}

const (
	neuralWindowSize = 512
	neuralStateSize  = 128
	neuralSampleRate = 16000
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// NewNeuralClassifier loads modelData (an embedded or on-disk ONNX model)
// and allocates the fixed-shape tensors the network expects.
func NewNeuralClassifier(modelData []byte, threshold float64) (*NeuralClassifier, error) {
	if len(modelData) == 0 {
		return nil, fmt.Errorf("vad: neural classifier requires non-empty model data")
	}

	ortInitOnce.Do(func() {
		libPath, err := resolveORTLibPath()
		if err != nil {
			ortInitErr = fmt.Errorf("resolve onnxruntime library: %w", err)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("vad: %w", ortInitErr)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, neuralWindowSize))
	if err != nil {
		return nil, fmt.Errorf("vad: create input tensor: %w", err)
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, neuralStateSize))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("vad: create state tensor: %w", err)
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{neuralSampleRate})
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return nil, fmt.Errorf("vad: create sample-rate tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		return nil, fmt.Errorf("vad: create output tensor: %w", err)
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, neuralStateSize))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("vad: create next-state tensor: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(
		modelData,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateNTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		stateNTensor.Destroy()
		return nil, fmt.Errorf("vad: create session: %w", err)
	}

	return &NeuralClassifier{
		session:      session,
		inputTensor:  inputTensor,
		stateTensor:  stateTensor,
		srTensor:     srTensor,
		outputTensor: outputTensor,
		stateNTensor: stateNTensor,
		pcmBuf:       make([]float32, 0, neuralWindowSize*2),
		threshold:    threshold,
	}, nil
}

func (c *NeuralClassifier) Name() string { return "neural" }

// Classify buffers the frame and runs inference once enough samples have
// accumulated for a full 512-sample window; frames shorter than a window
// (the usual case at 20ms/16kHz = 320 samples) are classified using the
// most recent completed window's probability, matching how the ASP loop
// above consumes events at 20ms cadence while Silero itself runs at 32ms.
func (c *NeuralClassifier) Classify(frame []byte) (Classification, error) {
	samples := pcmToFloat32(frame)
	c.pcmBuf = append(c.pcmBuf, samples...)

	for len(c.pcmBuf) >= neuralWindowSize {
		prob, err := c.infer(c.pcmBuf[:neuralWindowSize])
		if err != nil {
			return NonSpeech, err
		}
		c.pcmBuf = c.pcmBuf[neuralWindowSize:]
		c.lastProb = prob
	}

	if float64(c.lastProb) >= c.threshold {
		return Speech, nil
	}
	return NonSpeech, nil
}

func (c *NeuralClassifier) infer(window []float32) (float32, error) {
	copy(c.inputTensor.GetData(), window)
	if err := c.session.Run(); err != nil {
		return 0, fmt.Errorf("vad: neural inference: %w", err)
	}
	prob := c.outputTensor.GetData()[0]
	copy(c.stateTensor.GetData(), c.stateNTensor.GetData())
	return prob, nil
}

func (c *NeuralClassifier) Reset() {
	clearFloat32Slice(c.stateTensor.GetData())
	c.pcmBuf = c.pcmBuf[:0]
	c.lastProb = 0
}

// Close releases the ONNX Runtime session and tensors. Safe to call once.
func (c *NeuralClassifier) Close() error {
	c.session.Destroy()
	c.inputTensor.Destroy()
	c.stateTensor.Destroy()
	c.srTensor.Destroy()
	c.outputTensor.Destroy()
	c.stateNTensor.Destroy()
	return nil
}

func pcmToFloat32(buf []byte) []float32 {
	n := len(buf) / 2
	if n == 0 {
		return nil
	}
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		u := uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
		samples[i] = float32(int16(u)) / 32768.0
	}
	return samples
}

func clearFloat32Slice(s []float32) {
	for i := range s {
		s[i] = 0
	}
}

// resolveORTLibPath finds the onnxruntime shared library, preferring an
// explicit override so deployments can pin an exact build.
func resolveORTLibPath() (string, error) {
	if p := os.Getenv("ASP_ORT_LIB_PATH"); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("ASP_ORT_LIB_PATH=%q does not exist", p)
		}
		return p, nil
	}
	switch runtime.GOOS {
	case "darwin":
		return "/usr/local/lib/libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "/usr/lib/libonnxruntime.so", nil
	}
}
