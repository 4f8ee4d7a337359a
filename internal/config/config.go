// Package config handles subvoice configuration.
//
// Values start from built-in defaults, are overlaid by an optional YAML file
// (path in SUBVOICE_CONFIG) and finally by individual environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/GriffinCanCode/subvoice/internal/errors"
)

const defaultPrompt = "You are an expert translator. Translate the content into Chinese and answer with the translation only. " +
	"Keep it faithful, fluent and natural, preserve the tone and culture of the original, and keep all special symbols."

type Config struct {
	HTTPAddr      string `yaml:"http_addr"`
	InferenceAddr string `yaml:"inference_addr"`
	LogLevel      string `yaml:"log_level"`

	// Sampling
	CaptureRegion     string        `yaml:"capture_region"` // "x1,y1,x2,y2", empty until started
	CaptureInterval   time.Duration `yaml:"capture_interval"`
	MinCycleDelay     time.Duration `yaml:"min_cycle_delay"`
	FrameHashDistance int           `yaml:"frame_hash_distance"` // repeats reuse the last text; -1 disables

	// Stability
	StabilityWindow    int     `yaml:"stability_window"`
	StabilityThreshold float64 `yaml:"stability_threshold"`
	MaxTextLength      int     `yaml:"max_text_length"`

	// Relays
	OCRQueueSize       int `yaml:"ocr_queue_size"`
	TranslateQueueSize int `yaml:"translate_queue_size"`

	// OCR
	OCRBackend     string   `yaml:"ocr_backend"` // tesseract | grpc
	OCRLanguages   []string `yaml:"ocr_languages"`
	ExcludeAmount  int      `yaml:"exclude_amount"`
	ExcludeSetPath string   `yaml:"exclude_set_path"`

	// Translation
	TranslateWorkers     int           `yaml:"translate_workers"`
	TranslateTimeout     time.Duration `yaml:"translate_timeout"`
	TranslateAPIKey      string        `yaml:"-"`
	TranslateBaseURL     string        `yaml:"translate_base_url"`
	TranslateModel       string        `yaml:"translate_model"`
	TranslatePrompt      string        `yaml:"translate_prompt"`
	TranslateTemperature float64       `yaml:"translate_temperature"`
	TranslateMaxTokens   int           `yaml:"translate_max_tokens"`
	CachePath            string        `yaml:"cache_path"` // empty keeps the cache in memory

	// Speech
	SynthAddr          string        `yaml:"synth_addr"`
	VoicePromptPath    string        `yaml:"voice_prompt_path"`
	VoicePromptText    string        `yaml:"voice_prompt_text"`
	SampleRate         int           `yaml:"sample_rate"`
	AudioBufferSeconds int           `yaml:"audio_buffer_seconds"`
	AudioDevice        string        `yaml:"audio_device"` // output device name fragment
	SpeakMaxLength     int           `yaml:"speak_max_length"`
	MaxUtterance       time.Duration `yaml:"max_utterance"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:             ":8000",
		InferenceAddr:        "localhost:50051",
		LogLevel:             "debug",
		CaptureInterval:      400 * time.Millisecond,
		MinCycleDelay:        10 * time.Millisecond,
		FrameHashDistance:    0,
		StabilityWindow:      3,
		StabilityThreshold:   0.8,
		MaxTextLength:        200,
		OCRQueueSize:         5,
		TranslateQueueSize:   3,
		OCRBackend:           "tesseract",
		OCRLanguages:         []string{"eng"},
		ExcludeAmount:        3,
		ExcludeSetPath:       "exclude_set.yaml",
		TranslateWorkers:     3,
		TranslateTimeout:     20 * time.Second,
		TranslateBaseURL:     "https://api.deepseek.com",
		TranslateModel:       "deepseek-chat",
		TranslatePrompt:      defaultPrompt,
		TranslateTemperature: 1.3,
		TranslateMaxTokens:   256,
		SynthAddr:            "localhost:50052",
		SampleRate:           44100,
		AudioBufferSeconds:   5,
		SpeakMaxLength:       200,
		MaxUtterance:         30 * time.Second,
	}
}

// Load builds the configuration from defaults, the optional YAML file and the environment.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("SUBVOICE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ConfigMissing, "read config file %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apperrors.Wrapf(err, apperrors.ConfigInvalid, "parse config file %s", path)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.InferenceAddr = getEnv("INFERENCE_ADDR", c.InferenceAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.CaptureRegion = getEnv("CAPTURE_REGION", c.CaptureRegion)
	c.CaptureInterval = getEnvDuration("CAPTURE_INTERVAL_MS", c.CaptureInterval)
	c.MinCycleDelay = getEnvDuration("MIN_CYCLE_DELAY_MS", c.MinCycleDelay)
	c.FrameHashDistance = getEnvInt("FRAME_HASH_DISTANCE", c.FrameHashDistance)

	c.StabilityWindow = getEnvInt("STABILITY_WINDOW", c.StabilityWindow)
	c.StabilityThreshold = getEnvFloat("STABILITY_THRESHOLD", c.StabilityThreshold)
	c.MaxTextLength = getEnvInt("MAX_TEXT_LENGTH", c.MaxTextLength)

	c.OCRQueueSize = getEnvInt("OCR_QUEUE_SIZE", c.OCRQueueSize)
	c.TranslateQueueSize = getEnvInt("TRANSLATE_QUEUE_SIZE", c.TranslateQueueSize)

	c.OCRBackend = getEnv("OCR_BACKEND", c.OCRBackend)
	c.OCRLanguages = getEnvList("OCR_LANGUAGES", c.OCRLanguages)
	c.ExcludeAmount = getEnvInt("EXCLUDE_AMOUNT", c.ExcludeAmount)
	c.ExcludeSetPath = getEnv("EXCLUDE_SET_PATH", c.ExcludeSetPath)

	c.TranslateWorkers = getEnvInt("TRANSLATE_WORKERS", c.TranslateWorkers)
	c.TranslateTimeout = getEnvDuration("TRANSLATE_TIMEOUT_MS", c.TranslateTimeout)
	c.TranslateAPIKey = getEnv("TRANSLATE_API_KEY", getEnv("DEEPSEEK_API_KEY", c.TranslateAPIKey))
	c.TranslateBaseURL = getEnv("TRANSLATE_BASE_URL", c.TranslateBaseURL)
	c.TranslateModel = getEnv("TRANSLATE_MODEL", c.TranslateModel)
	c.TranslatePrompt = getEnv("TRANSLATE_PROMPT", c.TranslatePrompt)
	c.TranslateTemperature = getEnvFloat("TRANSLATE_TEMPERATURE", c.TranslateTemperature)
	c.TranslateMaxTokens = getEnvInt("TRANSLATE_MAX_TOKENS", c.TranslateMaxTokens)
	c.CachePath = getEnv("CACHE_PATH", c.CachePath)

	c.SynthAddr = getEnv("SYNTH_ADDR", c.SynthAddr)
	c.VoicePromptPath = getEnv("VOICE_PROMPT_PATH", c.VoicePromptPath)
	c.VoicePromptText = getEnv("VOICE_PROMPT_TEXT", c.VoicePromptText)
	c.SampleRate = getEnvInt("SAMPLE_RATE", c.SampleRate)
	c.AudioBufferSeconds = getEnvInt("AUDIO_BUFFER_SECONDS", c.AudioBufferSeconds)
	c.AudioDevice = getEnv("AUDIO_OUTPUT_DEVICE", c.AudioDevice)
	c.SpeakMaxLength = getEnvInt("SPEAK_MAX_LENGTH", c.SpeakMaxLength)
	c.MaxUtterance = getEnvDuration("MAX_UTTERANCE_MS", c.MaxUtterance)
}

// Validate reports the first invalid setting as a CONFIG_INVALID error.
func (c *Config) Validate() error {
	switch {
	case c.CaptureInterval <= 0:
		return invalid("capture_interval", c.CaptureInterval)
	case c.MinCycleDelay <= 0:
		return invalid("min_cycle_delay", c.MinCycleDelay)
	case c.FrameHashDistance < -1:
		return invalid("frame_hash_distance", c.FrameHashDistance)
	case c.StabilityWindow != 2 && c.StabilityWindow != 3:
		return invalid("stability_window", c.StabilityWindow)
	case c.StabilityThreshold <= 0 || c.StabilityThreshold > 1:
		return invalid("stability_threshold", c.StabilityThreshold)
	case c.MaxTextLength <= 0:
		return invalid("max_text_length", c.MaxTextLength)
	case c.OCRQueueSize < 0:
		return invalid("ocr_queue_size", c.OCRQueueSize)
	case c.TranslateQueueSize < 0:
		return invalid("translate_queue_size", c.TranslateQueueSize)
	case c.TranslateWorkers < 1:
		return invalid("translate_workers", c.TranslateWorkers)
	case c.OCRBackend != "tesseract" && c.OCRBackend != "grpc":
		return invalid("ocr_backend", c.OCRBackend)
	case c.ExcludeAmount < 1:
		return invalid("exclude_amount", c.ExcludeAmount)
	case c.SampleRate <= 0:
		return invalid("sample_rate", c.SampleRate)
	case c.AudioBufferSeconds <= 0:
		return invalid("audio_buffer_seconds", c.AudioBufferSeconds)
	case c.MaxUtterance <= 0:
		return invalid("max_utterance", c.MaxUtterance)
	}
	return nil
}

func invalid(key string, v any) error {
	return apperrors.Newf(apperrors.ConfigInvalid, "invalid %s", key).WithMetadata("value", fmt.Sprint(v))
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getEnvDuration reads a millisecond count.
func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
