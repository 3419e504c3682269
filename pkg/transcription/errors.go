package transcription

import "errors"

var (
	// ErrNotLoaded reports that no model is loaded. Engine.Transcribe does
	// not return it: an Unloaded engine loads the backend on demand.
	ErrNotLoaded = errors.New("transcription: model not loaded")

	// ErrLoadFailed wraps a backend construction failure.
	ErrLoadFailed = errors.New("transcription: model load failed")

	// ErrAlreadyLoading is returned by InitiateLoad if a load is already
	// in progress. Load does not return it; it waits for that load.
	ErrAlreadyLoading = errors.New("transcription: load already in progress")

	// ErrEngineClosed is returned once Shutdown has been called.
	ErrEngineClosed = errors.New("transcription: engine is shut down")
)
