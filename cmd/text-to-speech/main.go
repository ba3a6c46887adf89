// main package for the text-to-speech batch converter
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/text-to-speech/internal/config"
	"github.com/book-expert/text-to-speech/internal/core"
	"github.com/book-expert/text-to-speech/internal/metrics"
	"github.com/book-expert/text-to-speech/internal/notifier"
	"github.com/book-expert/text-to-speech/internal/shutdown"
	"github.com/book-expert/text-to-speech/internal/tts"
	"github.com/book-expert/text-to-speech/internal/tts/audio"
	"github.com/book-expert/text-to-speech/internal/tts/ttsutils"
	"github.com/book-expert/text-to-speech/internal/worker"
	"github.com/google/uuid"
)

const (
	bootstrapLogFile = "text-to-speech-bootstrap.log"
	logFile          = "text-to-speech.log"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	dirErr := ttsutils.EnsureDir(logPath)
	if dirErr != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", dirErr)
	}

	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Bootstrap logger until the configuration names the log directory
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() {
		_ = bootstrapLog.Close()
	}()

	// 2. Configuration: defaults, optional TOML file, .env and environment
	cfg, err := config.Load()
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Final logger
	log, err := setupLogger(cfg.Paths.LogDir, logFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	dirErr := cfg.EnsureDirectories()
	if dirErr != nil {
		log.Error("Failed to prepare folders: %v", dirErr)

		return dirErr
	}

	log.System("Text-to-speech converter starting: %s", cfg.String())

	ctx, stop := shutdown.WithSignals(context.Background(), log)
	defer stop()

	summary, runErr := convert(ctx, cfg, log)

	removeErr := os.RemoveAll(cfg.Paths.TempFolder)
	if removeErr != nil {
		log.Warn("Failed to remove temp folder %s: %v", cfg.Paths.TempFolder, removeErr)
	}

	if runErr != nil {
		log.Error("Batch aborted: %v", runErr)

		return runErr
	}

	log.System("Text-to-speech converter finished: %d done, %d failed, %d skipped, %d not started",
		summary.Done, summary.Failed, summary.Skipped, summary.NotStarted)

	return nil
}

// convert wires the components and runs one batch.
func convert(ctx context.Context, cfg *config.Config, log *logger.Logger) (worker.Summary, error) {
	runID := uuid.NewString()
	batchMetrics := metrics.New()

	client := tts.NewClient(tts.ClientConfig{
		APIKey:            cfg.OpenAI.APIKey,
		BaseURL:           cfg.OpenAI.BaseURL,
		Model:             cfg.OpenAI.TTSModel,
		Voice:             cfg.OpenAI.VoiceModel,
		RequestTimeout:    time.Duration(cfg.OpenAI.RequestTimeoutSeconds) * time.Second,
		RequestsPerMinute: cfg.OpenAI.RequestsPerMinute,
		MaxAttempts:       0,
		RetryBase:         0,
		Debug:             cfg.Processing.Debug,
	}, batchMetrics, log)

	assembler := audio.NewAssembler(audio.DetectConcatenator(), cfg.Paths.TempFolder, cfg.Paths.OutputFolder, log)

	var audioNotifier core.Notifier

	if cfg.NATS.URL != "" {
		natsNotifier, closeNotifier, dialErr := notifier.Dial(
			cfg.NATS.URL, cfg.NATS.AudioBucket, cfg.NATS.AudioReadySubject, runID, log)
		if dialErr != nil {
			log.Warn("Audio notifications disabled: %v", dialErr)
		} else {
			defer closeNotifier()

			audioNotifier = natsNotifier
		}
	}

	batch := worker.New(worker.Options{
		InputDir:     cfg.Paths.InputFolder,
		OutputDir:    cfg.Paths.OutputFolder,
		MaxWorkers:   cfg.Processing.MaxWorkers,
		ChunkWorkers: cfg.Processing.ChunkWorkers,
		MaxChunkSize: cfg.Processing.MaxChunkSize,
		Debug:        cfg.Processing.Debug,
	}, client, assembler, audioNotifier, batchMetrics, log).WithRunID(runID)

	summary, runErr := batch.Run(ctx)

	metricsErr := batchMetrics.WriteToTextfile(cfg.Paths.MetricsFile)
	if metricsErr != nil {
		log.Warn("%v", metricsErr)
	}

	return summary, runErr
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "text-to-speech exited with error: %v\n", err)
		os.Exit(1)
	}
}
