// Package config provides the configuration structure for the text-to-speech batch converter.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/text-to-speech/internal/core"
	"github.com/book-expert/text-to-speech/internal/tts/ttsutils"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Limits enforced by validation.
const (
	// MaxAPIChunkSize is the largest input the speech endpoint accepts.
	MaxAPIChunkSize = 4096
)

// Built-in defaults, overridden by the TOML file and then by the environment.
const (
	defaultInputFolder    = "input"
	defaultOutputFolder   = "output"
	defaultTempFolder     = "temp"
	defaultVoiceModel     = "alloy"
	defaultTTSModel       = "tts-1"
	defaultBaseURL        = "https://api.openai.com/v1"
	defaultMaxWorkers     = 4
	defaultMaxChunkSize   = 4096
	defaultTimeoutSeconds = 120
	defaultLogDir         = "logs"
	defaultAudioBucket    = "TTS_AUDIO"
	defaultAudioSubject   = "tts.audio.created"
	envConfigFile         = "CONFIG_FILE"
	redactedSecret        = "[REDACTED]"
)

// Validation errors.
var (
	ErrAPIKeyMissing       = errors.New("OPENAI_API_KEY is required")
	ErrFolderEmpty         = errors.New("folder path cannot be empty")
	ErrModelEmpty          = errors.New("model identifier cannot be empty")
	ErrMaxWorkers          = errors.New("MAX_WORKERS must be a positive integer")
	ErrMaxChunkSize        = fmt.Errorf("MAX_CHUNK_SIZE must be between 1 and %d", MaxAPIChunkSize)
	ErrChunkWorkers        = errors.New("CHUNK_WORKERS must not be negative")
	ErrRequestsPerMinute   = errors.New("REQUESTS_PER_MINUTE must not be negative")
	ErrRequestTimeout      = errors.New("REQUEST_TIMEOUT_SECONDS must be a positive integer")
	ErrNATSBucketOrSubject = errors.New("NATS bucket and subject are required when NATS_URL is set")
	ErrFolderOverlap       = errors.New("input, output and temp folders must not be the same or nested")
)

// OpenAIConfig holds the speech API settings.
type OpenAIConfig struct {
	APIKey                string `toml:"-"                       env:"OPENAI_API_KEY"`
	BaseURL               string `toml:"base_url"                env:"OPENAI_BASE_URL"`
	VoiceModel            string `toml:"voice_model"             env:"VOICE_MODEL"`
	TTSModel              string `toml:"text_to_speech_model"    env:"TEXT_TO_SPEECH_MODEL"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds" env:"REQUEST_TIMEOUT_SECONDS"`
	RequestsPerMinute     int    `toml:"requests_per_minute"     env:"REQUESTS_PER_MINUTE"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	InputFolder  string `toml:"input_folder"  env:"INPUT_FOLDER"`
	OutputFolder string `toml:"output_folder" env:"OUTPUT_FOLDER"`
	TempFolder   string `toml:"temp_folder"   env:"TEMP_FOLDER"`
	LogDir       string `toml:"log_dir"       env:"LOG_DIR"`
	MetricsFile  string `toml:"metrics_file"  env:"METRICS_FILE"`
}

// ProcessingConfig holds the concurrency and chunking limits.
type ProcessingConfig struct {
	MaxWorkers   int  `toml:"max_workers"    env:"MAX_WORKERS"`
	ChunkWorkers int  `toml:"chunk_workers"  env:"CHUNK_WORKERS"`
	MaxChunkSize int  `toml:"max_chunk_size" env:"MAX_CHUNK_SIZE"`
	Debug        bool `toml:"debug"          env:"DEBUG"`
}

// NATSConfig holds the optional completion notification settings.
type NATSConfig struct {
	URL               string `toml:"url"                 env:"NATS_URL"`
	AudioBucket       string `toml:"audio_bucket"        env:"NATS_AUDIO_BUCKET"`
	AudioReadySubject string `toml:"audio_ready_subject" env:"NATS_AUDIO_SUBJECT"`
}

// Config is the root configuration structure. It is immutable once loaded.
type Config struct {
	OpenAI     OpenAIConfig     `toml:"openai"`
	Paths      PathsConfig      `toml:"paths"`
	Processing ProcessingConfig `toml:"processing"`
	NATS       NATSConfig       `toml:"nats"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		OpenAI: OpenAIConfig{
			APIKey:                "",
			BaseURL:               defaultBaseURL,
			VoiceModel:            defaultVoiceModel,
			TTSModel:              defaultTTSModel,
			RequestTimeoutSeconds: defaultTimeoutSeconds,
			RequestsPerMinute:     0,
		},
		Paths: PathsConfig{
			InputFolder:  defaultInputFolder,
			OutputFolder: defaultOutputFolder,
			TempFolder:   defaultTempFolder,
			LogDir:       defaultLogDir,
			MetricsFile:  "",
		},
		Processing: ProcessingConfig{
			MaxWorkers:   defaultMaxWorkers,
			ChunkWorkers: 0,
			MaxChunkSize: defaultMaxChunkSize,
			Debug:        false,
		},
		NATS: NATSConfig{
			URL:               "",
			AudioBucket:       defaultAudioBucket,
			AudioReadySubject: defaultAudioSubject,
		},
	}
}

// Load reads a .env file if one exists and builds the configuration from the
// process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	return LoadFromEnvironment(env.ToMap(os.Environ()))
}

// LoadFromEnvironment builds the configuration from defaults, the optional
// TOML file named by CONFIG_FILE, and the given environment, in that order.
func LoadFromEnvironment(environ map[string]string) (*Config, error) {
	cfg := Default()

	if path := environ[envConfigFile]; path != "" {
		fileErr := loadFile(path, &cfg)
		if fileErr != nil {
			return nil, fileErr
		}
	}

	parseErr := env.ParseWithOptions(&cfg, env.Options{Environment: environ})
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfig, parseErr)
	}

	if cfg.Processing.ChunkWorkers == 0 {
		cfg.Processing.ChunkWorkers = cfg.Processing.MaxWorkers
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return fmt.Errorf("%w: failed to read config file %q: %w", core.ErrConfig, path, readErr)
	}

	decodeErr := toml.Unmarshal(data, cfg)
	if decodeErr != nil {
		return fmt.Errorf("%w: failed to parse config file %q: %w", core.ErrConfig, path, decodeErr)
	}

	return nil
}

// Validate checks that every required setting is present and in range.
func (c *Config) Validate() error {
	var problem error

	switch {
	case c.OpenAI.APIKey == "":
		problem = ErrAPIKeyMissing
	case c.Paths.InputFolder == "", c.Paths.OutputFolder == "", c.Paths.TempFolder == "":
		problem = ErrFolderEmpty
	case c.OpenAI.VoiceModel == "", c.OpenAI.TTSModel == "":
		problem = ErrModelEmpty
	case c.Processing.MaxWorkers <= 0:
		problem = ErrMaxWorkers
	case c.Processing.MaxChunkSize <= 0 || c.Processing.MaxChunkSize > MaxAPIChunkSize:
		problem = ErrMaxChunkSize
	case c.Processing.ChunkWorkers < 0:
		problem = ErrChunkWorkers
	case c.OpenAI.RequestsPerMinute < 0:
		problem = ErrRequestsPerMinute
	case c.OpenAI.RequestTimeoutSeconds <= 0:
		problem = ErrRequestTimeout
	case c.NATS.URL != "" && (c.NATS.AudioBucket == "" || c.NATS.AudioReadySubject == ""):
		problem = ErrNATSBucketOrSubject
	}

	if problem != nil {
		return fmt.Errorf("%w: %w", core.ErrConfig, problem)
	}

	return c.checkFolderOverlap()
}

// checkFolderOverlap rejects folders that resolve to the same place or sit
// inside one another. The temp folder is removed after every run.
func (c *Config) checkFolderOverlap() error {
	named := []struct {
		name string
		path string
	}{
		{name: "INPUT_FOLDER", path: c.Paths.InputFolder},
		{name: "OUTPUT_FOLDER", path: c.Paths.OutputFolder},
		{name: "TEMP_FOLDER", path: c.Paths.TempFolder},
	}

	resolved := make([]string, len(named))

	for index, folder := range named {
		absPath, absErr := filepath.Abs(folder.path)
		if absErr != nil {
			return fmt.Errorf("%w: failed to resolve %s %q: %w", core.ErrConfig, folder.name, folder.path, absErr)
		}

		resolved[index] = absPath
	}

	for first := range named {
		for second := first + 1; second < len(named); second++ {
			if !nested(resolved[first], resolved[second]) && !nested(resolved[second], resolved[first]) {
				continue
			}

			return fmt.Errorf("%w: %w: %s=%s %s=%s", core.ErrConfig, ErrFolderOverlap,
				named[first].name, resolved[first], named[second].name, resolved[second])
		}
	}

	return nil
}

// nested reports whether child is parent or lies below it.
func nested(parent, child string) bool {
	rel, relErr := filepath.Rel(parent, child)
	if relErr != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// EnsureDirectories creates the input, output and temp folders.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.InputFolder, c.Paths.OutputFolder, c.Paths.TempFolder} {
		dirErr := ttsutils.EnsureDir(dir)
		if dirErr != nil {
			return fmt.Errorf("%w: %w", core.ErrConfig, dirErr)
		}
	}

	return nil
}

// String renders the configuration for logs with the API key redacted.
func (c *Config) String() string {
	key := ""
	if c.OpenAI.APIKey != "" {
		key = redactedSecret
	}

	return fmt.Sprintf(
		"api_key=%s voice=%s model=%s input=%s output=%s temp=%s workers=%d chunk_workers=%d "+
			"max_chunk=%d rpm=%d timeout=%ds debug=%t nats=%t",
		key,
		c.OpenAI.VoiceModel,
		c.OpenAI.TTSModel,
		c.Paths.InputFolder,
		c.Paths.OutputFolder,
		c.Paths.TempFolder,
		c.Processing.MaxWorkers,
		c.Processing.ChunkWorkers,
		c.Processing.MaxChunkSize,
		c.OpenAI.RequestsPerMinute,
		c.OpenAI.RequestTimeoutSeconds,
		c.Processing.Debug,
		c.NATS.URL != "",
	)
}
