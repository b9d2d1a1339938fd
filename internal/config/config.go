// Package config provides the configuration schema, loader, provider
// registry and file watcher for voxrelay.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Platform names an audio device backend.
type Platform string

const (
	PlatformLocal   Platform = "local"
	PlatformDiscord Platform = "discord"
	PlatformWAVFile Platform = "wavfile"
)

// IsValid reports whether p is a recognised platform.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformLocal, PlatformDiscord, PlatformWAVFile:
		return true
	}
	return false
}

// Config is the root configuration. It is typically loaded from a YAML file
// using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	Discord    DiscordConfig    `yaml:"discord"`
	VAD        VADConfig        `yaml:"vad"`
	STT        STTConfig        `yaml:"stt"`
	TTS        TTSConfig        `yaml:"tts"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Journal    JournalConfig    `yaml:"journal"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds the admin HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health/admin server (e.g.
	// ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects the device backend and the frame format.
type AudioConfig struct {
	// Platform is "local" (PortAudio default devices), "discord" or
	// "wavfile".
	Platform Platform `yaml:"platform"`

	// SampleRate of the captured mono PCM in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the duration of each captured frame.
	FrameMs int `yaml:"frame_ms"`

	// InputFile is the WAV file read as the microphone by the wavfile
	// platform.
	InputFile string `yaml:"input_file"`

	// OutputDir receives played clips as WAV files on the wavfile platform.
	OutputDir string `yaml:"output_dir"`

	// Realtime paces the wavfile platform at wall-clock speed.
	Realtime bool `yaml:"realtime"`
}

// FrameDuration returns FrameMs as a duration.
func (a AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameMs) * time.Millisecond
}

// DiscordConfig configures the Discord bot and voice platform.
type DiscordConfig struct {
	// Token is the bot token. Overridden by VOXRELAY_DISCORD_TOKEN.
	Token string `yaml:"token"`

	// GuildID and ChannelID select the voice channel to join.
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`

	// SpeakerID is the user whose voice is relayed. Empty relays the first
	// user heard.
	SpeakerID string `yaml:"speaker_id"`

	// OperatorRole is the role ID allowed to use the /voice commands. Empty
	// admits members with Manage Server or Administrator.
	OperatorRole string `yaml:"operator_role"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
// Name selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider (e.g. "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// VADConfig configures voice activity detection and segmentation.
type VADConfig struct {
	ProviderEntry `yaml:",inline"`

	StartThreshold   float64 `yaml:"start_threshold"`
	EndThreshold     float64 `yaml:"end_threshold"`
	MinSpeechMs      int     `yaml:"min_speech_ms"`
	MinSilenceMs     int     `yaml:"min_silence_ms"`
	PrebufferSeconds float64 `yaml:"prebuffer_seconds"`

	// MaxSegmentMs splits long utterances. Zero disables splitting.
	MaxSegmentMs int `yaml:"max_segment_ms"`
}

// STTConfig configures speech recognition.
type STTConfig struct {
	ProviderEntry `yaml:",inline"`

	// Language is a BCP-47 hint passed to every call. Empty auto-detects.
	Language string `yaml:"language"`

	// Keywords are boosted during recognition.
	Keywords []string `yaml:"keywords"`

	// Workers is the number of concurrent recognition calls.
	Workers int `yaml:"workers"`
}

// TTSConfig configures speech synthesis.
type TTSConfig struct {
	ProviderEntry `yaml:",inline"`

	Voice VoiceConfig `yaml:"voice"`

	// Workers is the number of concurrent synthesis calls.
	Workers int `yaml:"workers"`
}

// VoiceConfig specifies the synthesis voice.
type VoiceConfig struct {
	// ID is the provider-specific voice identifier.
	ID string `yaml:"id"`

	// PitchShift in semitones, applied after synthesis. Range [-12, 12].
	PitchShift float64 `yaml:"pitch_shift"`

	// SpeedFactor in [0.5, 2.0]; 0 leaves the provider default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// PlaybackConfig configures the playback controller.
type PlaybackConfig struct {
	// VADEndTimeoutSeconds is the silence required before a clip plays.
	VADEndTimeoutSeconds float64 `yaml:"vad_end_timeout_seconds"`

	// QueueMaxItems bounds every queue between stages.
	QueueMaxItems int `yaml:"queue_max_items"`
}

// TranscriptConfig configures the transcript text file and vocabulary
// correction.
type TranscriptConfig struct {
	// File receives the text of the playing clip. Empty disables it.
	File string `yaml:"file"`

	NextTranscriptDelaySeconds float64 `yaml:"next_transcript_delay_seconds"`
	ClearDelaySeconds          float64 `yaml:"clear_delay_seconds"`

	// Vocabulary lists proper nouns that misrecognised phrases are corrected
	// to. Hot-reloadable.
	Vocabulary []string `yaml:"vocabulary"`
}

// JournalConfig configures the turn journal.
type JournalConfig struct {
	// PostgresDSN enables the PostgreSQL journal. Overridden by
	// VOXRELAY_JOURNAL_DSN.
	PostgresDSN string `yaml:"postgres_dsn"`

	// MemoryTurns is how many turns the in-memory journal retains.
	MemoryTurns int `yaml:"memory_turns"`
}

// ResilienceConfig tunes the circuit breakers around STT and TTS.
type ResilienceConfig struct {
	MaxFailures         int     `yaml:"max_failures"`
	ResetTimeoutSeconds float64 `yaml:"reset_timeout_seconds"`
}

// Seconds converts a fractional second count to a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Millis converts a millisecond count to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
