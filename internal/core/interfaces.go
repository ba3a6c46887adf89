// Package core defines the shared types, error taxonomy and interfaces of the
// batch text-to-speech converter.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	UploadFile(ctx context.Context, key, path string) error
}

// SpeechSynthesizer converts one chunk of text into one audio segment.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, chunk string) ([]byte, error)
}

// Concatenator joins ordered audio files into a single output file.
type Concatenator interface {
	Concatenate(ctx context.Context, files []string, outputFile string) error
}

// Notifier is told about every file that reached the Done state.
type Notifier interface {
	Notify(ctx context.Context, result ProcessedFile) error
}
