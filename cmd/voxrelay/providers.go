package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxrelay/internal/app"
	"github.com/MrWong99/voxrelay/internal/config"
	discordbot "github.com/MrWong99/voxrelay/internal/discord"
	"github.com/MrWong99/voxrelay/pkg/audio"
	discordaudio "github.com/MrWong99/voxrelay/pkg/audio/discord"
	"github.com/MrWong99/voxrelay/pkg/audio/local"
	"github.com/MrWong99/voxrelay/pkg/audio/wavfile"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/stt/deepgram"
	sttexec "github.com/MrWong99/voxrelay/pkg/provider/stt/exec"
	sttopenai "github.com/MrWong99/voxrelay/pkg/provider/stt/openai"
	"github.com/MrWong99/voxrelay/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/MrWong99/voxrelay/pkg/provider/tts/coqui"
	"github.com/MrWong99/voxrelay/pkg/provider/tts/elevenlabs"
	ttsexec "github.com/MrWong99/voxrelay/pkg/provider/tts/exec"
	ttsopenai "github.com/MrWong99/voxrelay/pkg/provider/tts/openai"
	"github.com/MrWong99/voxrelay/pkg/provider/vad"
	"github.com/MrWong99/voxrelay/pkg/provider/vad/energy"
)

// defaultExecSampleRate is assumed for exec TTS commands that do not state
// their output rate.
const defaultExecSampleRate = 22050

// registerBuiltinProviders wires all built-in factories into reg. bot is nil
// unless the discord platform is selected.
func registerBuiltinProviders(reg *config.Registry, bot *discordbot.Bot) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(c config.STTConfig) (stt.Provider, error) {
		var opts []whisper.Option
		if c.Model != "" {
			opts = append(opts, whisper.WithModel(c.Model))
		}
		if c.Language != "" {
			opts = append(opts, whisper.WithLanguage(c.Language))
		}
		if d := optSeconds(c.Options, "timeout_seconds"); d > 0 {
			opts = append(opts, whisper.WithTimeout(d))
		}
		return whisper.New(c.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(c config.STTConfig) (stt.Provider, error) {
		modelPath := c.Model
		if modelPath == "" {
			modelPath = optString(c.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if c.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(c.Language))
		}
		if n := optInt(c.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(c config.STTConfig) (stt.Provider, error) {
		var opts []sttopenai.Option
		if c.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(c.BaseURL))
		}
		if c.Language != "" {
			opts = append(opts, sttopenai.WithLanguage(c.Language))
		}
		if d := optSeconds(c.Options, "timeout_seconds"); d > 0 {
			opts = append(opts, sttopenai.WithTimeout(d))
		}
		return sttopenai.New(c.APIKey, c.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(c config.STTConfig) (stt.Provider, error) {
		var opts []deepgram.Option
		if c.Model != "" {
			opts = append(opts, deepgram.WithModel(c.Model))
		}
		if c.Language != "" {
			opts = append(opts, deepgram.WithLanguage(c.Language))
		}
		if c.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(c.BaseURL))
		}
		return deepgram.New(c.APIKey, opts...)
	})

	reg.RegisterSTT("exec", func(c config.STTConfig) (stt.Provider, error) {
		var opts []sttexec.Option
		if c.Model != "" {
			opts = append(opts, sttexec.WithModel(c.Model))
		}
		if c.Language != "" {
			opts = append(opts, sttexec.WithLanguage(c.Language))
		}
		if dir := optString(c.Options, "temp_dir"); dir != "" {
			opts = append(opts, sttexec.WithTempDir(dir))
		}
		return sttexec.New(optString(c.Options, "command"), opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(c config.TTSConfig) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if c.Model != "" {
			opts = append(opts, elevenlabs.WithModel(c.Model))
		}
		if f := optString(c.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if c.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(c.BaseURL))
		}
		return elevenlabs.New(c.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(c config.TTSConfig) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(c.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(c.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if d := optSeconds(c.Options, "timeout_seconds"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(c.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(c config.TTSConfig) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if c.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(c.BaseURL))
		}
		if s := optString(c.Options, "instructions"); s != "" {
			opts = append(opts, ttsopenai.WithInstructions(s))
		}
		if d := optSeconds(c.Options, "timeout_seconds"); d > 0 {
			opts = append(opts, ttsopenai.WithTimeout(d))
		}
		return ttsopenai.New(c.APIKey, c.Model, opts...)
	})

	reg.RegisterTTS("exec", func(c config.TTSConfig) (tts.Provider, error) {
		rate := optInt(c.Options, "sample_rate")
		if rate == 0 {
			rate = defaultExecSampleRate
		}
		return ttsexec.New(optString(c.Options, "command"), rate)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(c config.VADConfig) (vad.Engine, error) {
		var opts []energy.Option
		if v, ok := optFloat(c.Options, "margin_db"); ok {
			opts = append(opts, energy.WithMarginDB(v))
		}
		if v, ok := optFloat(c.Options, "slope_db"); ok {
			opts = append(opts, energy.WithSlopeDB(v))
		}
		if v, ok := optFloat(c.Options, "initial_floor_db"); ok {
			opts = append(opts, energy.WithInitialFloorDB(v))
		}
		if optBool(c.Options, "fixed_floor") {
			opts = append(opts, energy.WithFixedFloor())
		}
		return energy.New(opts...), nil
	})

	// ── Audio platforms ───────────────────────────────────────────────────────

	reg.RegisterAudio(config.PlatformLocal, func(cfg *config.Config) (audio.Platform, error) {
		return local.New(cfg.Audio.SampleRate, cfg.Audio.FrameDuration())
	})

	reg.RegisterAudio(config.PlatformWAVFile, func(cfg *config.Config) (audio.Platform, error) {
		var opts []wavfile.Option
		if cfg.Audio.OutputDir != "" {
			opts = append(opts, wavfile.WithOutputDir(cfg.Audio.OutputDir))
		}
		opts = append(opts, wavfile.WithRealtime(cfg.Audio.Realtime))
		return wavfile.New(cfg.Audio.InputFile, cfg.Audio.SampleRate, cfg.Audio.FrameDuration(), opts...)
	})

	if bot != nil {
		reg.RegisterAudio(config.PlatformDiscord, func(cfg *config.Config) (audio.Platform, error) {
			var opts []discordaudio.Option
			if cfg.Discord.SpeakerID != "" {
				opts = append(opts, discordaudio.WithSpeaker(cfg.Discord.SpeakerID))
			}
			return discordaudio.New(bot.Session(), cfg.Discord.GuildID, cfg.Discord.ChannelID,
				cfg.Audio.SampleRate, cfg.Audio.FrameDuration(), opts...)
		})
	}
}

// buildProviders instantiates every collaborator named in cfg. Unlike
// optional subsystems, all four are required, so a missing registration is
// an error.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	var err error

	if ps.STT, err = reg.CreateSTT(cfg.STT); err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.STT.Name)

	if ps.TTS, err = reg.CreateTTS(cfg.TTS); err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.TTS.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.TTS.Name)

	if ps.VAD, err = reg.CreateVAD(cfg.VAD); err != nil {
		return nil, fmt.Errorf("create vad engine %q: %w", cfg.VAD.Name, err)
	}
	slog.Info("provider created", "kind", "vad", "name", cfg.VAD.Name)

	if ps.Audio, err = reg.CreateAudio(cfg); err != nil {
		return nil, fmt.Errorf("create audio platform %q: %w", cfg.Audio.Platform, err)
	}
	slog.Info("provider created", "kind", "audio", "name", cfg.Audio.Platform)

	return ps, nil
}

// ── Option helpers ────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a number. YAML decodes integers as int, so both are
// accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func optInt(opts map[string]any, key string) int {
	v, _ := optFloat(opts, key)
	return int(v)
}

func optBool(opts map[string]any, key string) bool {
	b, _ := opts[key].(bool)
	return b
}

func optSeconds(opts map[string]any, key string) time.Duration {
	v, _ := optFloat(opts, key)
	return config.Seconds(v)
}
