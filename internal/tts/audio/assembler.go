package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/book-expert/logger"
	"github.com/book-expert/text-to-speech/internal/core"
	"github.com/book-expert/text-to-speech/internal/tts/ttsutils"
	"github.com/google/uuid"
)

const (
	segmentFilePerms = 0o600
	jobDirPerms      = 0o750
	tempOutputFmt    = ".%s-*%s.tmp"
)

// Error message format string constants.
const (
	errFmtNoSegments    = "%w: no segments for %s"
	errFmtSegmentGap    = "%w: %s is missing chunk %d"
	errFmtEmptySegment  = "%w: chunk %d of %s has no audio"
	errFmtDuplicate     = "%w: chunk %d of %s appears twice"
	errFmtWriteSegments = "%w: failed to write segments for %s: %w"
	errFmtConcatenate   = "%w: failed to join segments for %s: %w"
	errFmtEmptyOutput   = "%w: joined audio for %s is empty"
	errFmtPublish       = "%w: failed to move audio into place: %w"
	logFmtAssembled     = "Assembled %d segments into %s (%s)"
)

// Assembler writes a job's segments to scratch space, joins them and moves the
// result into the output folder in one rename.
type Assembler struct {
	concatenator core.Concatenator
	tempDir      string
	outputDir    string
	log          *logger.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(concatenator core.Concatenator, tempDir, outputDir string, log *logger.Logger) *Assembler {
	return &Assembler{
		concatenator: concatenator,
		tempDir:      tempDir,
		outputDir:    outputDir,
		log:          log,
	}
}

// Assemble joins segments, which must cover chunk indices 0..n-1 exactly,
// into <output>/<stem>.mp3 and returns that path. On failure nothing is left
// in the output folder or the temp folder.
func (a *Assembler) Assemble(ctx context.Context, stem string, segments []core.AudioSegment) (string, error) {
	ordered, validateErr := orderSegments(stem, segments)
	if validateErr != nil {
		return "", validateErr
	}

	jobDir := filepath.Join(a.tempDir, uuid.NewString())

	mkdirErr := os.MkdirAll(jobDir, jobDirPerms)
	if mkdirErr != nil {
		return "", fmt.Errorf(errFmtWriteSegments, core.ErrAssembly, stem, mkdirErr)
	}

	defer func() { _ = os.RemoveAll(jobDir) }()

	files, writeErr := writeSegments(jobDir, stem, ordered)
	if writeErr != nil {
		return "", fmt.Errorf(errFmtWriteSegments, core.ErrAssembly, stem, writeErr)
	}

	tempOutput, tempErr := os.CreateTemp(a.outputDir, fmt.Sprintf(tempOutputFmt, stem, ttsutils.AudioExtension))
	if tempErr != nil {
		return "", fmt.Errorf(errFmtConcatenate, core.ErrAssembly, stem, tempErr)
	}

	tempPath := tempOutput.Name()
	_ = tempOutput.Close()

	published := false

	defer func() {
		if !published {
			_ = os.Remove(tempPath)
		}
	}()

	concatErr := a.concatenator.Concatenate(ctx, files, tempPath)
	if concatErr != nil {
		return "", fmt.Errorf(errFmtConcatenate, core.ErrAssembly, stem, concatErr)
	}

	info, statErr := os.Stat(tempPath)
	if statErr != nil || info.Size() == 0 {
		return "", fmt.Errorf(errFmtEmptyOutput, core.ErrAssembly, stem)
	}

	chmodErr := os.Chmod(tempPath, outputFilePerms)
	if chmodErr != nil {
		return "", fmt.Errorf(errFmtPublish, core.ErrIO, chmodErr)
	}

	finalPath := ttsutils.AudioPath(a.outputDir, stem)

	renameErr := os.Rename(tempPath, finalPath)
	if renameErr != nil {
		return "", fmt.Errorf(errFmtPublish, core.ErrIO, renameErr)
	}

	published = true

	a.log.Info(logFmtAssembled, len(files), finalPath, ttsutils.FormatFileSize(info.Size()))

	return finalPath, nil
}

// orderSegments sorts segments by index and rejects gaps, duplicates and
// empty audio.
func orderSegments(stem string, segments []core.AudioSegment) ([]core.AudioSegment, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf(errFmtNoSegments, core.ErrAssembly, stem)
	}

	ordered := slices.Clone(segments)
	slices.SortFunc(ordered, func(left, right core.AudioSegment) int {
		return left.Index - right.Index
	})

	for position, segment := range ordered {
		switch {
		case segment.Index < position:
			return nil, fmt.Errorf(errFmtDuplicate, core.ErrAssembly, segment.Index, stem)
		case segment.Index > position:
			return nil, fmt.Errorf(errFmtSegmentGap, core.ErrAssembly, stem, position)
		case len(segment.Data) == 0:
			return nil, fmt.Errorf(errFmtEmptySegment, core.ErrAssembly, segment.Index, stem)
		}
	}

	return ordered, nil
}

func writeSegments(dir, stem string, segments []core.AudioSegment) ([]string, error) {
	files := make([]string, 0, len(segments))

	for _, segment := range segments {
		path := filepath.Join(dir, ttsutils.SegmentName(stem, segment.Index))

		writeErr := os.WriteFile(path, segment.Data, segmentFilePerms)
		if writeErr != nil {
			return nil, writeErr
		}

		files = append(files, path)
	}

	return files, nil
}
