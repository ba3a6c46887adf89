package core

import (
	"context"
	"errors"
)

// Failure kinds. Only ErrConfig is fatal to the process; every other kind is
// contained in the job that produced it.
var (
	// ErrConfig indicates missing or invalid required settings.
	ErrConfig = errors.New("configuration error")
	// ErrChunking indicates a malformed or unreadable input file.
	ErrChunking = errors.New("chunking error")
	// ErrTranscriptionFailed indicates the speech API could not convert a chunk.
	ErrTranscriptionFailed = errors.New("transcription failed")
	// ErrAssembly indicates the audio segments could not be joined.
	ErrAssembly = errors.New("assembly error")
	// ErrIO indicates a filesystem move or rename failure.
	ErrIO = errors.New("io error")
)

// Kind names the failure kind of err for log lines.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrConfig):
		return "ConfigError"
	case errors.Is(err, ErrChunking):
		return "ChunkingError"
	case errors.Is(err, ErrTranscriptionFailed):
		return "TranscriptionFailed"
	case errors.Is(err, ErrAssembly):
		return "AssemblyError"
	case errors.Is(err, ErrIO):
		return "IOError"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Cancelled"
	default:
		return "Unknown"
	}
}
