package pipeline

import "errors"

// Sentinel errors a provider adapter returns to signal the taxonomy in
// §7; the pipeline maps these onto Response-level outcomes rather than
// tearing down the Session.
var (
	ErrProviderUnavailable = errors.New("pipeline: provider unavailable")
	ErrProviderTimeout     = errors.New("pipeline: provider timeout")
	ErrUnsupportedLanguage = errors.New("pipeline: unsupported language")
	ErrEmptyUtterance      = errors.New("pipeline: empty utterance")
)
