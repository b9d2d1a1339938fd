package tts

// VoiceProfile selects and shapes the voice a clip is rendered in.
type VoiceProfile struct {
	ID       string // provider voice or speaker identifier
	Name     string
	Provider string

	// PitchShift is in semitones and is applied to the synthesized PCM, so
	// it works with every provider. Zero leaves pitch unchanged.
	PitchShift float64

	// SpeedFactor scales the speaking rate where the provider supports it.
	// Zero and 1.0 both mean the provider default.
	SpeedFactor float64

	// Metadata carries provider-specific attributes such as accent or the
	// coqui model type.
	Metadata map[string]string
}
