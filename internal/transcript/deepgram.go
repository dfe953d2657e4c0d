package transcript

import "encoding/json"

// Metadata is the subset of a Deepgram result payload the application keeps
// alongside a stored transcript. All fields are optional; zero values mean
// the provider did not report them.
type Metadata struct {
	// Model is the STT model name that produced the transcript.
	Model string

	// Language is the detected language code, when language detection ran.
	Language string

	// Confidence is the provider's confidence for the best alternative (0–1).
	Confidence float64

	// Duration is the processed audio length in seconds.
	Duration float64
}

// deepgramResult mirrors just the parts of a Deepgram "Results" message that
// Metadata is extracted from. Everything else in the payload stays opaque.
type deepgramResult struct {
	Metadata struct {
		Duration  float64 `json:"duration"`
		ModelInfo struct {
			Name string `json:"name"`
		} `json:"model_info"`
	} `json:"metadata"`
	Channel struct {
		DetectedLanguage string `json:"detected_language"`
		Alternatives     []struct {
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// ExtractMetadata pulls [Metadata] out of a raw Deepgram JSON payload.
// Malformed or empty payloads yield a zero Metadata, never an error — the
// payload is a best-effort opaque bag, not a contract.
func ExtractMetadata(raw []byte) Metadata {
	if len(raw) == 0 {
		return Metadata{}
	}

	var result deepgramResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return Metadata{}
	}

	meta := Metadata{
		Model:    result.Metadata.ModelInfo.Name,
		Language: result.Channel.DetectedLanguage,
		Duration: result.Metadata.Duration,
	}
	if len(result.Channel.Alternatives) > 0 {
		meta.Confidence = result.Channel.Alternatives[0].Confidence
	}
	return meta
}
