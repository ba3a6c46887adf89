// Package worker_test tests the batch orchestrator.
package worker_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/text-to-speech/internal/core"
	"github.com/book-expert/text-to-speech/internal/metrics"
	"github.com/book-expert/text-to-speech/internal/tts/audio"
	"github.com/book-expert/text-to-speech/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockSynthesize = errors.New("mock synthesize error")

// mockSynthesizer wraps every chunk in brackets so the joined audio shows the
// chunk order.
type mockSynthesizer struct {
	mutex   sync.Mutex
	calls   []string
	failOn  string
	onCall  func(chunk string)
	delay   time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (m *mockSynthesizer) Synthesize(_ context.Context, chunk string) ([]byte, error) {
	current := m.active.Add(1)
	defer m.active.Add(-1)

	for {
		seen := m.maxSeen.Load()
		if current <= seen || m.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}

	m.mutex.Lock()
	m.calls = append(m.calls, chunk)
	m.mutex.Unlock()

	if m.onCall != nil {
		m.onCall(chunk)
	}

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	if m.failOn != "" && strings.Contains(chunk, m.failOn) {
		return nil, fmt.Errorf("%w: %w", core.ErrTranscriptionFailed, errMockSynthesize)
	}

	return []byte("[" + chunk + "]"), nil
}

func (m *mockSynthesizer) callCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return len(m.calls)
}

// mockNotifier records announced files.
type mockNotifier struct {
	mutex   sync.Mutex
	results []core.ProcessedFile
	err     error
}

func (m *mockNotifier) Notify(_ context.Context, result core.ProcessedFile) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.results = append(m.results, result)

	return m.err
}

type batchFixture struct {
	inputDir  string
	outputDir string
	tempDir   string
	log       *logger.Logger
}

func newFixture(t *testing.T) batchFixture {
	t.Helper()

	root := t.TempDir()
	fixture := batchFixture{
		inputDir:  filepath.Join(root, "input"),
		outputDir: filepath.Join(root, "output"),
		tempDir:   filepath.Join(root, "temp"),
	}

	for _, dir := range []string{fixture.inputDir, fixture.outputDir, fixture.tempDir} {
		require.NoError(t, os.MkdirAll(dir, 0o750))
	}

	log, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	fixture.log = log

	return fixture
}

func (f batchFixture) writeInput(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(f.inputDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func (f batchFixture) newBatch(
	synthesizer core.SpeechSynthesizer,
	notifier core.Notifier,
	workers, chunkWorkers, chunkSize int,
) *worker.Batch {
	assembler := audio.NewAssembler(audio.ByteConcatenator{}, f.tempDir, f.outputDir, f.log)

	return worker.New(worker.Options{
		InputDir:     f.inputDir,
		OutputDir:    f.outputDir,
		MaxWorkers:   workers,
		ChunkWorkers: chunkWorkers,
		MaxChunkSize: chunkSize,
		Debug:        true,
	}, synthesizer, assembler, notifier, metrics.New(), f.log)
}

func assertMissing(t *testing.T, path string) {
	t.Helper()

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "%s should not exist", path)
}

func assertContent(t *testing.T, path, expected string) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, expected, string(data))
}

func TestBatch_Run_ConvertsAndMovesSource(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	content := "Hello world. Second sentence here."
	fixture.writeInput(t, "a.txt", content)

	notifier := &mockNotifier{}
	batch := fixture.newBatch(&mockSynthesizer{}, notifier, 2, 3, 15)

	summary, err := batch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Discovered)
	assert.Equal(t, 1, summary.Done)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.NotStarted)

	assertContent(t, filepath.Join(fixture.outputDir, "a.mp3"), "[Hello world.][Second sentence][here.]")
	assertContent(t, filepath.Join(fixture.outputDir, "a.txt.processed"), content)
	assertMissing(t, filepath.Join(fixture.inputDir, "a.txt"))

	entries, readErr := os.ReadDir(fixture.tempDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)

	require.Len(t, notifier.results, 1)
	assert.Equal(t, filepath.Join(fixture.outputDir, "a.mp3"), notifier.results[0].AudioPath)
	assert.Equal(t, core.StateDone, notifier.results[0].State)
}

func TestBatch_Run_FailureIsContained(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	fixture.writeInput(t, "b.txt", "This one is fine. But this part is POISON to the API.")
	fixture.writeInput(t, "c.txt", "Another file converts normally.")

	notifier := &mockNotifier{}
	batch := fixture.newBatch(&mockSynthesizer{failOn: "POISON"}, notifier, 2, 2, 20)

	summary, err := batch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Discovered)
	assert.Equal(t, 1, summary.Done)
	assert.Equal(t, 1, summary.Failed)

	assertContent(t, filepath.Join(fixture.inputDir, "b.txt"),
		"This one is fine. But this part is POISON to the API.")
	assertMissing(t, filepath.Join(fixture.outputDir, "b.mp3"))
	assertMissing(t, filepath.Join(fixture.outputDir, "b.txt.processed"))

	assertMissing(t, filepath.Join(fixture.inputDir, "c.txt"))
	assertContent(t, filepath.Join(fixture.outputDir, "c.mp3"), "[Another file][converts normally.]")

	for _, result := range summary.Results {
		if result.State == core.StateFailed {
			require.ErrorIs(t, result.Err, core.ErrTranscriptionFailed)
			assert.Equal(t, "TranscriptionFailed", core.Kind(result.Err))
		}
	}

	require.Len(t, notifier.results, 1, "only finished files are announced")
}

func TestBatch_Run_EmptyFileIsSkipped(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	fixture.writeInput(t, "empty.txt", "  \n\t\n")

	synthesizer := &mockSynthesizer{}
	batch := fixture.newBatch(synthesizer, nil, 1, 1, 100)

	summary, err := batch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, synthesizer.callCount())
	assertContent(t, filepath.Join(fixture.inputDir, "empty.txt"), "  \n\t\n")
	assertMissing(t, filepath.Join(fixture.outputDir, "empty.mp3"))
}

func TestBatch_Run_InvalidUTF8Fails(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	fixture.writeInput(t, "binary.txt", "bad \xff\xfe bytes")

	summary, err := fixture.newBatch(&mockSynthesizer{}, nil, 1, 1, 100).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, core.StateFailed, summary.Results[0].State)
	assert.Equal(t, "ChunkingError", core.Kind(summary.Results[0].Err))
	assertContent(t, filepath.Join(fixture.inputDir, "binary.txt"), "bad \xff\xfe bytes")
}

func TestBatch_Discover(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	fixture.writeInput(t, "b.txt", "b")
	fixture.writeInput(t, "a.txt", "a")
	fixture.writeInput(t, "done.txt", "already converted")
	fixture.writeInput(t, "old.txt.processed", "marker")
	fixture.writeInput(t, "notes.md", "markdown")
	fixture.writeInput(t, ".hidden.txt", "hidden")
	require.NoError(t, os.Mkdir(filepath.Join(fixture.inputDir, "dir.txt"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(fixture.outputDir, "done.txt.processed"), []byte("x"), 0o600))

	files, err := fixture.newBatch(&mockSynthesizer{}, nil, 1, 1, 100).Discover()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(fixture.inputDir, "a.txt"),
		filepath.Join(fixture.inputDir, "b.txt"),
	}, files)
}

func TestBatch_Run_MissingInputFolder(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	require.NoError(t, os.RemoveAll(fixture.inputDir))

	_, err := fixture.newBatch(&mockSynthesizer{}, nil, 1, 1, 100).Run(context.Background())
	require.ErrorIs(t, err, core.ErrIO)
}

func TestBatch_ProcessFile_MoveFailureRemovesAudio(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	path := fixture.writeInput(t, "a.txt", "Some text.")

	blocker := filepath.Join(fixture.outputDir, "a.txt.processed")
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "occupied"), 0o750))

	result := fixture.newBatch(&mockSynthesizer{}, nil, 1, 1, 100).ProcessFile(context.Background(), path)

	assert.Equal(t, core.StateFailed, result.State)
	assert.Equal(t, "IOError", core.Kind(result.Err))
	assertContent(t, path, "Some text.")
	assertMissing(t, filepath.Join(fixture.outputDir, "a.mp3"))
}

func TestBatch_Run_BoundsChunkConcurrency(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	fixture.writeInput(t, "long.txt", strings.Repeat("word ", 60))

	synthesizer := &mockSynthesizer{delay: 5 * time.Millisecond}
	summary, err := fixture.newBatch(synthesizer, nil, 1, 2, 10).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Done)
	assert.Greater(t, synthesizer.callCount(), 2)
	assert.LessOrEqual(t, synthesizer.maxSeen.Load(), int32(2))
}

func TestBatch_Run_ShutdownStopsDispatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		firstText   string
		expectDone  bool
		expectState core.JobState
	}{
		{
			name:        "current file finishes",
			firstText:   "Only one chunk.",
			expectDone:  true,
			expectState: core.StateDone,
		},
		{
			name:        "current file is abandoned",
			firstText:   "First chunk here. Second chunk here.",
			expectDone:  false,
			expectState: core.StateFailed,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			fixture := newFixture(t)
			first := fixture.writeInput(t, "a.txt", testCase.firstText)
			second := fixture.writeInput(t, "b.txt", "Never started.")

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			synthesizer := &mockSynthesizer{onCall: func(string) { cancel() }}
			batch := fixture.newBatch(synthesizer, nil, 1, 1, 20)

			summary, err := batch.Run(ctx)
			require.NoError(t, err)

			assert.Equal(t, 2, summary.Discovered)
			assert.Equal(t, 1, summary.NotStarted)
			require.Len(t, summary.Results, 1)
			assert.Equal(t, first, summary.Results[0].SourcePath)
			assert.Equal(t, testCase.expectState, summary.Results[0].State)
			assert.Equal(t, 1, synthesizer.callCount(), "no chunk starts after shutdown")

			assertContent(t, second, "Never started.")
			assertMissing(t, filepath.Join(fixture.outputDir, "b.mp3"))

			if testCase.expectDone {
				assertMissing(t, first)
				assertContent(t, filepath.Join(fixture.outputDir, "a.mp3"), "[Only one chunk.]")
			} else {
				assertContent(t, first, testCase.firstText)
				assertMissing(t, filepath.Join(fixture.outputDir, "a.mp3"))
			}

			entries, readErr := os.ReadDir(fixture.tempDir)
			require.NoError(t, readErr)
			assert.Empty(t, entries)
		})
	}
}

func TestBatch_Run_NotifierFailureDoesNotFailFile(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t)
	fixture.writeInput(t, "a.txt", "Announce me.")

	notifier := &mockNotifier{err: errors.New("nats down")}
	summary, err := fixture.newBatch(&mockSynthesizer{}, notifier, 1, 1, 100).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Done)
	require.Len(t, notifier.results, 1)
}
