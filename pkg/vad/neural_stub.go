//go:build !onnx

package vad

import "errors"

// ErrNeuralClassifierUnavailable is returned when the module is built
// without the "onnx" build tag (the default). Ground truth: the ONNX
// runtime is a cgo shared-library dependency, so it is opt-in at build
// time exactly as nupi-ai-plugin-vad-local-silero gates its own
// SileroEngine behind a "silero" build tag.
var ErrNeuralClassifierUnavailable = errors.New("vad: neural classifier requires building with -tags onnx")

// NeuralClassifier is an unusable placeholder in non-onnx builds so
// vad.classifier=neural fails fast with a clear message instead of a link
// error.
type NeuralClassifier struct{}

func NewNeuralClassifier(_ []byte, _ float64) (*NeuralClassifier, error) {
	return nil, ErrNeuralClassifierUnavailable
}

func (c *NeuralClassifier) Name() string                               { return "neural" }
func (c *NeuralClassifier) Classify([]byte) (Classification, error)    { return NonSpeech, ErrNeuralClassifierUnavailable }
func (c *NeuralClassifier) Reset()                                     {}
func (c *NeuralClassifier) Close() error                               { return nil }
