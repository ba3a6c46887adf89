// Package tts provides the speech API client used to turn text chunks into
// MP3 audio.
//
// Every chunk is sent through the OpenAI /audio/speech endpoint. Transient
// failures are retried with exponential backoff, a shared token bucket keeps
// the whole batch under the configured request rate, and each attempt runs
// under its own timeout.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/text-to-speech/internal/core"
	"github.com/book-expert/text-to-speech/internal/metrics"
	"github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// Default values.
const (
	defaultRequestTimeout = 2 * time.Minute
	defaultMaxAttempts    = 3
	defaultRetryBase      = time.Second
	secondsPerMinute      = 60
)

// Error messages.
const (
	errFmtAttemptsExhausted = "%w: giving up after %d attempts: %w"
	errFmtFatalResponse     = "%w: %w"
	errFmtRateLimiterWait   = "rate limiter wait: %w"
	errFmtReadAudio         = "failed to read audio data: %w"
	logFmtRetrying          = "Speech request failed (attempt %d/%d), retrying: %v"
	logFmtAttemptDone       = "Speech request attempt %d returned %d bytes in %s"
)

// ErrEmptyAudio indicates the API answered with no audio data.
var ErrEmptyAudio = errors.New("received empty audio data")

// ClientConfig carries the settings of a Client.
type ClientConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Voice             string
	RequestTimeout    time.Duration
	RequestsPerMinute int
	// MaxAttempts counts the first try. Zero selects the default of three.
	MaxAttempts int
	// RetryBase is the first backoff delay; it doubles after every retry.
	RetryBase time.Duration
	Debug     bool
}

// Client converts text chunks to MP3 audio through the OpenAI speech API.
// It is safe for concurrent use.
type Client struct {
	api         *openai.Client
	limiter     *rate.Limiter
	model       openai.SpeechModel
	voice       openai.SpeechVoice
	timeout     time.Duration
	maxAttempts int
	retryBase   time.Duration
	debug       bool
	metrics     *metrics.Metrics
	log         *logger.Logger
}

// NewClient creates a speech client. A nil metrics value disables metrics.
func NewClient(cfg ClientConfig, m *metrics.Metrics, log *logger.Logger) *Client {
	apiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiConfig.BaseURL = cfg.BaseURL
	}

	apiConfig.HTTPClient = &http.Client{}

	client := &Client{
		api:         openai.NewClientWithConfig(apiConfig),
		limiter:     newLimiter(cfg.RequestsPerMinute),
		model:       openai.SpeechModel(cfg.Model),
		voice:       openai.SpeechVoice(cfg.Voice),
		timeout:     cfg.RequestTimeout,
		maxAttempts: cfg.MaxAttempts,
		retryBase:   cfg.RetryBase,
		debug:       cfg.Debug,
		metrics:     m,
		log:         log,
	}

	if client.timeout <= 0 {
		client.timeout = defaultRequestTimeout
	}

	if client.maxAttempts <= 0 {
		client.maxAttempts = defaultMaxAttempts
	}

	if client.retryBase <= 0 {
		client.retryBase = defaultRetryBase
	}

	return client
}

// newLimiter returns nil for an unlimited rate.
func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}

	every := time.Minute / time.Duration(requestsPerMinute)

	return rate.NewLimiter(rate.Every(every), max(1, requestsPerMinute/secondsPerMinute))
}

// Synthesize returns the MP3 audio for chunk.
//
// Cancelling ctx stops further attempts but never interrupts an attempt that
// is already in flight; that attempt ends on its own timeout. Every error
// returned wraps core.ErrTranscriptionFailed.
func (c *Client) Synthesize(ctx context.Context, chunk string) ([]byte, error) {
	var (
		audio     []byte
		attempts  int
		exhausted bool
	)

	backoff := retry.WithMaxRetries(uint64(c.maxAttempts-1), retry.NewExponential(c.retryBase))

	doErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++

		data, attemptErr := c.attempt(ctx, chunk, attempts)
		if attemptErr == nil {
			audio = data

			return nil
		}

		if !isRetryable(ctx, attemptErr) {
			return attemptErr
		}

		exhausted = attempts >= c.maxAttempts
		if !exhausted {
			c.log.Warn(logFmtRetrying, attempts, c.maxAttempts, attemptErr)
		}

		return retry.RetryableError(attemptErr)
	})
	if doErr == nil {
		return audio, nil
	}

	if exhausted {
		return nil, fmt.Errorf(errFmtAttemptsExhausted, core.ErrTranscriptionFailed, attempts, doErr)
	}

	return nil, fmt.Errorf(errFmtFatalResponse, core.ErrTranscriptionFailed, doErr)
}

// attempt performs one request. The request runs detached from ctx so that a
// shutdown lets it finish; only the per-attempt timeout bounds it.
func (c *Client) attempt(ctx context.Context, chunk string, number int) ([]byte, error) {
	if c.limiter != nil {
		waitErr := c.limiter.Wait(ctx)
		if waitErr != nil {
			return nil, fmt.Errorf(errFmtRateLimiterWait, waitErr)
		}
	}

	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	start := time.Now()
	data, requestErr := c.request(attemptCtx, chunk)
	elapsed := time.Since(start)

	switch {
	case requestErr == nil:
		c.metrics.ObserveRequest(metrics.OutcomeSuccess, elapsed)
	case isRetryable(ctx, requestErr):
		c.metrics.ObserveRequest(metrics.OutcomeRetry, elapsed)
	default:
		c.metrics.ObserveRequest(metrics.OutcomeFailed, elapsed)
	}

	if c.debug && requestErr == nil {
		c.log.Info(logFmtAttemptDone, number, len(data), elapsed.Round(time.Millisecond))
	}

	return data, requestErr
}

func (c *Client) request(ctx context.Context, chunk string) ([]byte, error) {
	response, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          c.model,
		Input:          chunk,
		Voice:          c.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, err
	}
	defer response.Close()

	data, readErr := io.ReadAll(response)
	if readErr != nil {
		return nil, fmt.Errorf(errFmtReadAudio, readErr)
	}

	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	return data, nil
}

// isRetryable classifies an attempt error. ctx is the caller's context: once
// it is done nothing is retried.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	if status, ok := statusCode(err); ok {
		return retryableStatus(status)
	}

	// Transport failures, attempt timeouts and empty bodies.
	return true
}

func statusCode(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode, true
	}

	var requestErr *openai.RequestError
	if errors.As(err, &requestErr) && requestErr.HTTPStatusCode != 0 {
		return requestErr.HTTPStatusCode, true
	}

	return 0, false
}

func retryableStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusConflict,
		status == http.StatusTooManyRequests:
		return true
	case status >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}
