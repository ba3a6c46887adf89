// Package audio joins the per-chunk MP3 segments of a job into the final
// audio file.
package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/book-expert/text-to-speech/internal/core"
)

const (
	ffmpegBinary     = "ffmpeg"
	concatListName   = "concat.txt"
	concatListPerms  = 0o600
	outputFilePerms  = 0o644
	errFmtConcatList = "failed to write concat list: %w"
	errFmtFFmpeg     = "ffmpeg concat failed: %w: %s"
	errFmtNoInputs   = "nothing to concatenate into %s"
)

// CommandRunner runs an external program and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- arguments are built internally from paths we created
	cmd := exec.CommandContext(ctx, name, args...)

	return cmd.CombinedOutput()
}

// FFmpegConcatenator joins MP3 files with the ffmpeg concat demuxer, copying
// the streams without re-encoding.
type FFmpegConcatenator struct {
	runner CommandRunner
}

// NewFFmpegConcatenator creates an FFmpegConcatenator. A nil runner selects ExecRunner.
func NewFFmpegConcatenator(runner CommandRunner) *FFmpegConcatenator {
	if runner == nil {
		runner = ExecRunner{}
	}

	return &FFmpegConcatenator{runner: runner}
}

// Concatenate writes files, in order, into outputFile.
func (f *FFmpegConcatenator) Concatenate(ctx context.Context, files []string, outputFile string) error {
	if len(files) == 0 {
		return fmt.Errorf(errFmtNoInputs, outputFile)
	}

	listFile := filepath.Join(filepath.Dir(files[0]), concatListName)

	var content strings.Builder
	for _, file := range files {
		absolute, absErr := filepath.Abs(file)
		if absErr != nil {
			return fmt.Errorf(errFmtConcatList, absErr)
		}

		// the concat format quotes with single quotes; escape embedded ones
		safeFile := strings.ReplaceAll(absolute, "'", `'\''`)
		content.WriteString("file '" + safeFile + "'\n")
	}

	writeErr := os.WriteFile(listFile, []byte(content.String()), concatListPerms)
	if writeErr != nil {
		return fmt.Errorf(errFmtConcatList, writeErr)
	}

	defer func() { _ = os.Remove(listFile) }()

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		"-f", "mp3",
		outputFile,
	}

	output, runErr := f.runner.Run(ctx, ffmpegBinary, args...)
	if runErr != nil {
		return fmt.Errorf(errFmtFFmpeg, runErr, strings.TrimSpace(string(output)))
	}

	return nil
}

// ByteConcatenator appends the files byte for byte. MP3 frames are self
// delimiting, so players accept the result; ID3 tags of later segments stay
// embedded mid-stream.
type ByteConcatenator struct{}

// Concatenate writes files, in order, into outputFile.
func (ByteConcatenator) Concatenate(ctx context.Context, files []string, outputFile string) error {
	if len(files) == 0 {
		return fmt.Errorf(errFmtNoInputs, outputFile)
	}

	out, createErr := os.OpenFile(outputFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, outputFilePerms)
	if createErr != nil {
		return fmt.Errorf("failed to create %s: %w", outputFile, createErr)
	}

	for _, file := range files {
		if ctx.Err() != nil {
			_ = out.Close()

			return ctx.Err()
		}

		appendErr := appendFile(out, file)
		if appendErr != nil {
			_ = out.Close()

			return appendErr
		}
	}

	closeErr := out.Close()
	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", outputFile, closeErr)
	}

	return nil
}

func appendFile(out io.Writer, path string) error {
	in, openErr := os.Open(path)
	if openErr != nil {
		return fmt.Errorf("failed to open segment %s: %w", path, openErr)
	}
	defer in.Close()

	_, copyErr := io.Copy(out, in)
	if copyErr != nil {
		return fmt.Errorf("failed to copy segment %s: %w", path, copyErr)
	}

	return nil
}

// DetectConcatenator prefers ffmpeg when it is on PATH.
func DetectConcatenator() core.Concatenator {
	_, lookErr := exec.LookPath(ffmpegBinary)
	if lookErr != nil {
		return ByteConcatenator{}
	}

	return NewFFmpegConcatenator(ExecRunner{})
}
