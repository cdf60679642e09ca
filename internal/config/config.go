package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/satindergrewal/pitchcoach/internal/note"
)

// Config holds all runtime configuration, loaded from PITCHCOACH_* environment variables.
type Config struct {
	// Server
	Port int `mapstructure:"pitchcoach_port" validate:"gt=0,lte=65535"`

	// Logging
	LogLevel  string `mapstructure:"pitchcoach_log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"pitchcoach_log_format" validate:"oneof=json console"`
	LogFile   string `mapstructure:"pitchcoach_log_file"` // empty = stderr only

	// Audio devices, empty selects the system default
	InputDevice  string `mapstructure:"pitchcoach_input_device"`
	OutputDevice string `mapstructure:"pitchcoach_output_device"`

	// Capture and analysis
	SampleRate  int `mapstructure:"pitchcoach_sample_rate" validate:"gt=0"`
	WindowSize  int `mapstructure:"pitchcoach_window_size" validate:"gte=64"`
	PitchBuffer int `mapstructure:"pitchcoach_pitch_buffer" validate:"gt=0"` // pending pitch samples before drop
	ChunkBuffer int `mapstructure:"pitchcoach_chunk_buffer" validate:"gt=0"` // pending analysis chunks before drop

	// Cleaning policy
	MinPitchHz float64 `mapstructure:"pitchcoach_min_pitch_hz" validate:"gte=0"`
	MaxPitchHz float64 `mapstructure:"pitchcoach_max_pitch_hz" validate:"gtfield=MinPitchHz"`
	MinClarity float64 `mapstructure:"pitchcoach_min_clarity" validate:"gte=0,lte=1"`

	// Target and feedback
	TargetNote      string        `mapstructure:"pitchcoach_target_note"`
	TargetHz        float64       `mapstructure:"pitchcoach_target_hz" validate:"gte=0"` // overrides TargetNote when > 0
	Tolerance       float64       `mapstructure:"pitchcoach_tolerance" validate:"gte=0,lt=1"`
	PreviewInterval time.Duration `mapstructure:"pitchcoach_preview_interval" validate:"gt=0"`

	// Reference tone
	ToneVolume       float64 `mapstructure:"pitchcoach_tone_volume" validate:"gte=0,lte=1"`
	ToneHarmonics    int     `mapstructure:"pitchcoach_tone_harmonics" validate:"gte=1,lte=32"`
	HarmonicCutoffHz float64 `mapstructure:"pitchcoach_harmonic_cutoff_hz" validate:"gt=0"`
	ToneOutput       string  `mapstructure:"pitchcoach_tone_output" validate:"oneof=device none"`

	// Recording
	RecordingFormats []string `mapstructure:"pitchcoach_recording_formats" validate:"min=1,dive,required"`
	OpusBitrate      int      `mapstructure:"pitchcoach_opus_bitrate" validate:"gte=6000,lte=510000"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PITCHCOACH_PORT", 8080)

	v.SetDefault("PITCHCOACH_LOG_LEVEL", "info")
	v.SetDefault("PITCHCOACH_LOG_FORMAT", "console")
	v.SetDefault("PITCHCOACH_LOG_FILE", "")

	v.SetDefault("PITCHCOACH_INPUT_DEVICE", "")
	v.SetDefault("PITCHCOACH_OUTPUT_DEVICE", "")

	v.SetDefault("PITCHCOACH_SAMPLE_RATE", 48000)
	v.SetDefault("PITCHCOACH_WINDOW_SIZE", 2048)
	v.SetDefault("PITCHCOACH_PITCH_BUFFER", 256)
	v.SetDefault("PITCHCOACH_CHUNK_BUFFER", 64)

	v.SetDefault("PITCHCOACH_MIN_PITCH_HZ", 80.0)
	v.SetDefault("PITCHCOACH_MAX_PITCH_HZ", 1000.0)
	v.SetDefault("PITCHCOACH_MIN_CLARITY", 0.75)

	v.SetDefault("PITCHCOACH_TARGET_NOTE", "A3")
	v.SetDefault("PITCHCOACH_TARGET_HZ", 0.0)
	v.SetDefault("PITCHCOACH_TOLERANCE", 0.02)
	v.SetDefault("PITCHCOACH_PREVIEW_INTERVAL", "100ms")

	v.SetDefault("PITCHCOACH_TONE_VOLUME", 0.1)
	v.SetDefault("PITCHCOACH_TONE_HARMONICS", 1)
	v.SetDefault("PITCHCOACH_HARMONIC_CUTOFF_HZ", 10000.0)
	v.SetDefault("PITCHCOACH_TONE_OUTPUT", "device")

	v.SetDefault("PITCHCOACH_RECORDING_FORMATS", []string{"audio/ogg;codecs=opus", "audio/wav"})
	v.SetDefault("PITCHCOACH_OPUS_BITRATE", 64000)
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.RecordingFormats = trimAll(cfg.RecordingFormats)

	if err := validator.New().Struct(&cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Target resolves the target frequency: TargetHz when set, otherwise the
// frequency of TargetNote.
func (c Config) Target() (float64, error) {
	if c.TargetHz > 0 {
		return c.TargetHz, nil
	}
	hz, ok := note.NameToFreq(c.TargetNote)
	if !ok {
		return 0, fmt.Errorf("invalid target note %q", c.TargetNote)
	}
	return hz, nil
}
