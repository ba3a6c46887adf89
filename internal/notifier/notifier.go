// Package notifier announces finished audio files over NATS: the audio is
// uploaded to a JetStream object store and an AudioChunkCreatedEvent naming
// its key is published.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/text-to-speech/internal/core"
	"github.com/book-expert/text-to-speech/internal/objectstore"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	connectionName   = "text-to-speech"
	singlePage       = 1
	flushTimeout     = 10 * time.Second
	logFmtPublished  = "Published audio %s as %s on %s"
	errFmtUpload     = "failed to upload audio for %s: %w"
	errFmtMarshal    = "failed to marshal audio event: %w"
	errFmtPublish    = "failed to publish audio event on %s: %w"
	errFmtFlush      = "failed to flush audio event: %w"
	errFmtConnect    = "failed to connect to NATS at %s: %w"
	errFmtJetStream  = "failed to get JetStream context: %w"
	errFmtAudioStore = "failed to open audio store: %w"
)

// ErrNoAudio indicates a result without an audio file was passed to Notify.
var ErrNoAudio = errors.New("processed file has no audio path")

// Publisher is the part of a NATS connection the notifier uses.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// NATSNotifier implements core.Notifier.
type NATSNotifier struct {
	publisher Publisher
	store     core.ObjectStore
	subject   string
	runID     string
	log       *logger.Logger
}

// New creates a notifier. runID becomes the workflow id of every event and
// the key prefix of every uploaded file.
func New(publisher Publisher, store core.ObjectStore, subject, runID string, log *logger.Logger) *NATSNotifier {
	return &NATSNotifier{
		publisher: publisher,
		store:     store,
		subject:   subject,
		runID:     runID,
		log:       log,
	}
}

// Dial connects to url, opens the audio bucket and returns a notifier with a
// function that closes the connection.
func Dial(url, bucket, subject, runID string, log *logger.Logger) (*NATSNotifier, func(), error) {
	natsConnection, err := nats.Connect(url, nats.Name(connectionName))
	if err != nil {
		return nil, nil, fmt.Errorf(errFmtConnect, url, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf(errFmtJetStream, err)
	}

	store, err := objectstore.New(jetstreamContext, bucket)
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf(errFmtAudioStore, err)
	}

	closeFn := func() {
		drainErr := natsConnection.Drain()
		if drainErr != nil {
			natsConnection.Close()
		}
	}

	return New(natsConnection, store, subject, runID, log), closeFn, nil
}

// AudioKey returns the object key for an audio file.
func (n *NATSNotifier) AudioKey(audioPath string) string {
	return n.runID + "/" + filepath.Base(audioPath)
}

// Notify uploads the audio of result and publishes the event.
func (n *NATSNotifier) Notify(ctx context.Context, result core.ProcessedFile) error {
	if result.AudioPath == "" {
		return ErrNoAudio
	}

	key := n.AudioKey(result.AudioPath)

	uploadErr := n.store.UploadFile(ctx, key, result.AudioPath)
	if uploadErr != nil {
		return fmt.Errorf(errFmtUpload, result.SourcePath, uploadErr)
	}

	event := events.AudioChunkCreatedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: n.runID,
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		AudioKey:   key,
		PageNumber: singlePage,
		TotalPages: singlePage,
	}

	data, marshalErr := json.Marshal(&event)
	if marshalErr != nil {
		return fmt.Errorf(errFmtMarshal, marshalErr)
	}

	publishErr := n.publisher.Publish(n.subject, data)
	if publishErr != nil {
		return fmt.Errorf(errFmtPublish, n.subject, publishErr)
	}

	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	flushErr := n.publisher.FlushWithContext(flushCtx)
	if flushErr != nil {
		return fmt.Errorf(errFmtFlush, flushErr)
	}

	n.log.Info(logFmtPublished, result.AudioPath, key, n.subject)

	return nil
}
