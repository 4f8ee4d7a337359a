package orchestrator

// Orchestrator configuration constants
const (
	// Transcript store configuration
	TranscriptMaxEntries = 30
	EventBuffer          = 100

	// Queue defaults when the config leaves them at zero
	DefaultRecognizedQueue = 5
	DefaultTranslatedQueue = 3
)
