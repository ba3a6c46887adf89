// Package worker runs a batch: it discovers input files and converts each one
// end to end on a fixed pool of workers.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/text-to-speech/internal/core"
	"github.com/book-expert/text-to-speech/internal/metrics"
	"github.com/book-expert/text-to-speech/internal/tts/text"
	"github.com/book-expert/text-to-speech/internal/tts/ttsutils"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Log format strings.
const (
	logFmtBatchStart    = "Batch %s: %d file(s) to convert with %d worker(s)"
	logFmtBatchDone     = "Batch %s finished in %s: %d done, %d failed, %d skipped, %d not started"
	logFmtFileStart     = "Converting %s (%d chunk(s))"
	logFmtFileDone      = "Converted %s -> %s"
	logFmtFileEmpty     = "Skipping %s: no text to convert"
	logFmtFileFailed    = "Failed to convert %s [%s]: %v"
	logFmtFileAbandoned = "Abandoned %s on shutdown; it stays in the input folder"
	logFmtChunkDone     = "%s: chunk %d/%d (%d chars) -> %d bytes in %s"
	logFmtState         = "%s: %s"
	logFmtNotifyFailed  = "Failed to announce %s: %v"
	logFmtRemoveAudio   = "Failed to remove audio %s after a failed move: %v"
)

// Error message format string constants.
const (
	errFmtListInput = "%w: failed to list input folder %s: %w"
	errFmtRead      = "%w: failed to read %s: %w"
	errFmtSplit     = "failed to split %s: %w"
	errFmtChunk     = "chunk %d of %s: %w"
	errFmtMove      = "%w: %w"
)

// Assembler joins the segments of one file into its final audio file.
type Assembler interface {
	Assemble(ctx context.Context, stem string, segments []core.AudioSegment) (string, error)
}

// Options holds the batch settings.
type Options struct {
	InputDir     string
	OutputDir    string
	MaxWorkers   int
	ChunkWorkers int
	MaxChunkSize int
	Debug        bool
}

// Summary reports the outcome of a batch run.
type Summary struct {
	RunID      string
	Discovered int
	Done       int
	Failed     int
	Skipped    int
	NotStarted int
	Results    []core.ProcessedFile
}

// Batch converts every eligible file of the input folder.
type Batch struct {
	opts        Options
	synthesizer core.SpeechSynthesizer
	assembler   Assembler
	notifier    core.Notifier
	metrics     *metrics.Metrics
	log         *logger.Logger
	runID       string
}

// New creates a Batch. notifier and m may be nil.
func New(
	opts Options,
	synthesizer core.SpeechSynthesizer,
	assembler Assembler,
	notifier core.Notifier,
	m *metrics.Metrics,
	log *logger.Logger,
) *Batch {
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 1
	}

	if opts.ChunkWorkers < 1 {
		opts.ChunkWorkers = opts.MaxWorkers
	}

	return &Batch{
		opts:        opts,
		synthesizer: synthesizer,
		assembler:   assembler,
		notifier:    notifier,
		metrics:     m,
		log:         log,
		runID:       uuid.NewString(),
	}
}

// WithRunID sets the id reported in logs and the summary.
func (b *Batch) WithRunID(runID string) *Batch {
	b.runID = runID

	return b
}

// Discover lists the eligible input files sorted by name. Files already
// carrying the processed marker and files whose processed copy exists in the
// output folder are left out.
func (b *Batch) Discover() ([]string, error) {
	entries, readErr := os.ReadDir(b.opts.InputDir)
	if readErr != nil {
		return nil, fmt.Errorf(errFmtListInput, core.ErrIO, b.opts.InputDir, readErr)
	}

	files := make([]string, 0, len(entries))

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !ttsutils.IsTextInput(entry.Name()) {
			continue
		}

		path := filepath.Join(b.opts.InputDir, entry.Name())

		_, statErr := os.Stat(ttsutils.ProcessedPath(b.opts.OutputDir, path))
		if statErr == nil {
			continue
		}

		files = append(files, path)
	}

	return files, nil
}

// Run converts every discovered file. Cancelling ctx stops the dispatch of new
// files; files already being converted finish or are abandoned cleanly. The
// returned error is non-nil only when the input folder cannot be listed.
func (b *Batch) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: b.runID}

	files, discoverErr := b.Discover()
	if discoverErr != nil {
		return summary, discoverErr
	}

	summary.Discovered = len(files)
	b.log.Info(logFmtBatchStart, b.runID, len(files), b.opts.MaxWorkers)

	jobs := make(chan string, b.opts.MaxWorkers)

	go dispatch(ctx, files, jobs)

	var (
		mutex     sync.Mutex
		waitGroup sync.WaitGroup
	)

	for range b.opts.MaxWorkers {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			for path := range jobs {
				if ctx.Err() != nil {
					continue
				}

				result := b.ProcessFile(ctx, path)

				mutex.Lock()
				summary.Results = append(summary.Results, result)
				mutex.Unlock()
			}
		}()
	}

	waitGroup.Wait()

	for _, result := range summary.Results {
		switch result.State {
		case core.StateDone:
			summary.Done++
		case core.StateSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}

	summary.NotStarted = summary.Discovered - len(summary.Results)

	elapsed := time.Since(start)
	b.metrics.ObserveBatch(elapsed)
	b.log.Info(logFmtBatchDone, b.runID, ttsutils.FormatDuration(elapsed.Seconds()),
		summary.Done, summary.Failed, summary.Skipped, summary.NotStarted)

	return summary, nil
}

// dispatch feeds files to the workers until they run out or ctx is done.
func dispatch(ctx context.Context, files []string, jobs chan<- string) {
	defer close(jobs)

	for _, path := range files {
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case jobs <- path:
		}
	}
}

// ProcessFile converts one file: read, chunk, convert, assemble, then move the
// source next to its audio. A failure at any step leaves the source in place.
func (b *Batch) ProcessFile(ctx context.Context, path string) core.ProcessedFile {
	job := &core.TextJob{Path: path, State: core.StateDiscovered}
	result := core.ProcessedFile{SourcePath: path}

	audioPath, err := b.convert(ctx, job)

	switch {
	case err != nil && ctx.Err() != nil:
		job.State = core.StateFailed
		b.log.Warn(logFmtFileAbandoned, path)
	case err != nil:
		job.State = core.StateFailed
		b.log.Error(logFmtFileFailed, path, core.Kind(err), err)
	case job.State == core.StateSkipped:
		b.log.Warn(logFmtFileEmpty, path)
	default:
		job.State = core.StateDone
		result.AudioPath = audioPath
		result.ProcessedPath = ttsutils.ProcessedPath(b.opts.OutputDir, path)
		b.log.Info(logFmtFileDone, path, audioPath)
	}

	result.State = job.State
	result.Err = err
	b.metrics.ObserveFile(job.State)

	if result.State == core.StateDone && b.notifier != nil {
		notifyErr := b.notifier.Notify(context.WithoutCancel(ctx), result)
		if notifyErr != nil {
			b.log.Warn(logFmtNotifyFailed, path, notifyErr)
		}
	}

	return result
}

func (b *Batch) convert(ctx context.Context, job *core.TextJob) (string, error) {
	b.setState(job, core.StateChunking)

	content, readErr := os.ReadFile(job.Path)
	if readErr != nil {
		return "", fmt.Errorf(errFmtRead, core.ErrChunking, job.Path, readErr)
	}

	job.Content = string(content)

	chunks, splitErr := text.Split(job.Content, b.opts.MaxChunkSize)
	if splitErr != nil {
		return "", fmt.Errorf(errFmtSplit, job.Path, splitErr)
	}

	job.Chunks = chunks

	if len(chunks) == 0 {
		job.State = core.StateSkipped

		return "", nil
	}

	b.setState(job, core.StateConverting)
	b.log.Info(logFmtFileStart, job.Path, len(chunks))

	segments, convertErr := b.convertChunks(ctx, job)
	if convertErr != nil {
		return "", convertErr
	}

	// Every chunk is converted; finish the file even if shutdown began.
	finishCtx := context.WithoutCancel(ctx)

	b.setState(job, core.StateAssembling)

	audioPath, assembleErr := b.assembler.Assemble(finishCtx, ttsutils.Stem(job.Path), segments)
	if assembleErr != nil {
		return "", assembleErr
	}

	b.setState(job, core.StateFinalizing)

	moveErr := ttsutils.MoveFile(job.Path, ttsutils.ProcessedPath(b.opts.OutputDir, job.Path))
	if moveErr != nil {
		removeErr := os.Remove(audioPath)
		if removeErr != nil {
			b.log.Error(logFmtRemoveAudio, audioPath, removeErr)
		}

		return "", fmt.Errorf(errFmtMove, core.ErrIO, moveErr)
	}

	if info, statErr := os.Stat(audioPath); statErr == nil {
		b.metrics.ObserveAudio(info.Size())
	}

	return audioPath, nil
}

// convertChunks converts the chunks of job concurrently. The first failure,
// or cancellation of ctx, stops chunks that have not started yet.
func (b *Batch) convertChunks(ctx context.Context, job *core.TextJob) ([]core.AudioSegment, error) {
	segments := make([]core.AudioSegment, len(job.Chunks))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(b.opts.ChunkWorkers)

	for index, chunk := range job.Chunks {
		group.Go(func() error {
			if groupCtx.Err() != nil {
				return groupCtx.Err()
			}

			start := time.Now()

			data, synthErr := b.synthesizer.Synthesize(groupCtx, chunk)
			if synthErr != nil {
				return fmt.Errorf(errFmtChunk, index+1, job.Path, synthErr)
			}

			segments[index] = core.AudioSegment{Index: index, Data: data}
			b.metrics.ObserveChunk()

			if b.opts.Debug {
				b.log.Info(logFmtChunkDone, filepath.Base(job.Path), index+1, len(job.Chunks),
					len([]rune(chunk)), len(data), time.Since(start).Round(time.Millisecond))
			}

			return nil
		})
	}

	waitErr := group.Wait()
	if waitErr != nil {
		return nil, waitErr
	}

	return segments, nil
}

func (b *Batch) setState(job *core.TextJob, state core.JobState) {
	job.State = state

	if b.opts.Debug {
		b.log.Info(logFmtState, filepath.Base(job.Path), state)
	}
}
