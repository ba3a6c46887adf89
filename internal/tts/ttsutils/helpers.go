// Package ttsutils provides file and path utility functions for the converter.
//
// It names the files a job produces, recognises eligible inputs, and formats
// sizes and durations for log lines.
package ttsutils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Common path constants.
const (
	defaultDirPermissions = 0o750
	// ProcessedMarker is appended to a source file name after successful conversion.
	ProcessedMarker = ".processed"
	// TextExtension is the extension of eligible input files.
	TextExtension = ".txt"
	// AudioExtension is the extension of produced audio files.
	AudioExtension = ".mp3"
)

// Data size constants.
const (
	byteUnit = 1
	kilobyte = byteUnit * 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

// Error message format string constants.
const (
	errFmtFailedToCreateDir = "failed to create directory %s: %w"
	errFmtFailedToMove      = "failed to move %s to %s: %w"
)

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		mkdirErr := os.MkdirAll(path, defaultDirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
		}
	}

	return nil
}

// IsTextInput reports whether filename is an eligible input: a .txt file that
// does not carry the processed marker.
func IsTextInput(filename string) bool {
	base := filepath.Base(filename)
	if strings.HasPrefix(base, ".") || IsProcessed(base) {
		return false
	}

	return strings.EqualFold(filepath.Ext(base), TextExtension)
}

// IsProcessed reports whether filename carries the processed marker.
func IsProcessed(filename string) bool {
	return strings.HasSuffix(filename, ProcessedMarker)
}

// Stem returns the base name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)

	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ProcessedPath returns where a converted source file is moved to.
func ProcessedPath(outputDir, sourcePath string) string {
	return filepath.Join(outputDir, filepath.Base(sourcePath)+ProcessedMarker)
}

// AudioPath returns the audio file produced for the source file named stem.
func AudioPath(outputDir, stem string) string {
	return filepath.Join(outputDir, stem+AudioExtension)
}

// SegmentName returns the scratch file name for the chunk at index.
func SegmentName(stem string, index int) string {
	return fmt.Sprintf("%s_part_%04d%s", stem, index+1, AudioExtension)
}

// MoveFile renames src to dst, copying across filesystems when a plain rename
// is not possible.
func MoveFile(src, dst string) error {
	renameErr := os.Rename(src, dst)
	if renameErr == nil {
		return nil
	}

	if !errors.Is(renameErr, syscall.EXDEV) {
		return fmt.Errorf(errFmtFailedToMove, src, dst, renameErr)
	}

	copyErr := copyThenRename(src, dst)
	if copyErr != nil {
		return fmt.Errorf(errFmtFailedToMove, src, dst, copyErr)
	}

	return os.Remove(src)
}

func copyThenRename(src, dst string) error {
	in, openErr := os.Open(src)
	if openErr != nil {
		return openErr
	}
	defer in.Close()

	out, createErr := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*")
	if createErr != nil {
		return createErr
	}

	tempPath := out.Name()

	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()

	if copyErr == nil {
		copyErr = closeErr
	}

	if copyErr == nil {
		copyErr = os.Rename(tempPath, dst)
	}

	if copyErr != nil {
		_ = os.Remove(tempPath)
	}

	return copyErr
}

// FormatDuration formats a duration in a human-readable string (e.g., "1h 15m", "5m
// 30.5s", "45.2s").
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a file size in a human-readable string (e.g., "1.2 GB", "500.5
// MB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}
