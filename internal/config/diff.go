package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; changes to the
// database, auth, or LLM sections require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SpeechChanged is true when any speech session parameter changed.
	// Speech config is served to clients per request, so it can be swapped
	// without restarting.
	SpeechChanged bool
	NewSpeech     SpeechConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Speech != new.Speech {
		d.SpeechChanged = true
		d.NewSpeech = new.Speech
	}

	return d
}
