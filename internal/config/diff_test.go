package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/voxrelay/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old := mustParse(t, sampleYAML)
	new := mustParse(t, sampleYAML)

	d := config.Diff(old, new)
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelIsLive(t *testing.T) {
	t.Parallel()
	old := mustParse(t, sampleYAML)
	new := mustParse(t, sampleYAML)
	new.Server.LogLevel = config.LogWarn

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("log level change not reported: %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level must not require restart, got %v", d.RestartRequired)
	}
}

func TestDiff_VocabularyIsLive(t *testing.T) {
	t.Parallel()
	old := mustParse(t, sampleYAML)
	new := mustParse(t, sampleYAML)
	new.Transcript.Vocabulary = append(new.Transcript.Vocabulary, "Eldrinax")

	d := config.Diff(old, new)
	if !d.VocabularyChanged {
		t.Fatal("vocabulary change not reported")
	}
	if !slices.Equal(d.NewVocabulary, []string{"Grimjaw", "Eldrinax"}) {
		t.Errorf("NewVocabulary: got %v", d.NewVocabulary)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("vocabulary must not require restart, got %v", d.RestartRequired)
	}

	// The diff owns its copy.
	new.Transcript.Vocabulary[0] = "changed"
	if d.NewVocabulary[0] != "Grimjaw" {
		t.Error("NewVocabulary aliases the config slice")
	}
}

func TestDiff_RestartSections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   []string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, []string{"server"}},
		{"frame size", func(c *config.Config) { c.Audio.FrameMs = 30 }, []string{"audio"}},
		{"vad threshold", func(c *config.Config) { c.VAD.StartThreshold = 0.9 }, []string{"vad"}},
		{"stt model", func(c *config.Config) { c.STT.Model = "whisper-1" }, []string{"stt"}},
		{"voice", func(c *config.Config) { c.TTS.Voice.ID = "other" }, []string{"tts"}},
		{"queue", func(c *config.Config) { c.Playback.QueueMaxItems = 9 }, []string{"playback"}},
		{"transcript file", func(c *config.Config) { c.Transcript.File = "x.txt" }, []string{"transcript"}},
		{"journal", func(c *config.Config) { c.Journal.MemoryTurns = 5 }, []string{"journal"}},
		{
			"several",
			func(c *config.Config) {
				c.Discord.SpeakerID = "42"
				c.Resilience.MaxFailures = 2
			},
			[]string{"discord", "resilience"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := mustParse(t, sampleYAML)
			new := mustParse(t, sampleYAML)
			tt.mutate(new)

			d := config.Diff(old, new)
			if !slices.Equal(d.RestartRequired, tt.want) {
				t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, tt.want)
			}
			if d.LogLevelChanged || d.VocabularyChanged {
				t.Errorf("unexpected live change: %+v", d)
			}
		})
	}
}
