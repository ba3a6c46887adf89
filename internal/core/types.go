package core

// JobState is the lifecycle stage of one input file.
type JobState string

// Job states. Done, Failed and Skipped are terminal.
const (
	StateDiscovered JobState = "discovered"
	StateChunking   JobState = "chunking"
	StateConverting JobState = "converting"
	StateAssembling JobState = "assembling"
	StateFinalizing JobState = "finalizing"
	StateDone       JobState = "done"
	StateFailed     JobState = "failed"
	StateSkipped    JobState = "skipped"
)

// IsTerminal reports whether the state ends the job.
func (s JobState) IsTerminal() bool {
	return s == StateDone || s == StateFailed || s == StateSkipped
}

// TextJob is one input file on its way to becoming an audio file.
type TextJob struct {
	Path    string
	Content string
	Chunks  []string
	State   JobState
}

// AudioSegment is the audio produced for the chunk at Index.
type AudioSegment struct {
	Index int
	Data  []byte
}

// ProcessedFile is the terminal record of a job.
type ProcessedFile struct {
	SourcePath    string
	ProcessedPath string
	AudioPath     string
	State         JobState
	Err           error
}
