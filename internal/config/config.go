// Package config provides the configuration schema and loader for the
// Hearken wake word server.
package config

// LogLevel controls log verbosity for the Hearken server.
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

// Config is the root configuration structure for Hearken.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Models    ModelsConfig    `yaml:"models"`
	Detection DetectionConfig `yaml:"detection"`
	VAD       VADConfig       `yaml:"vad"`
	Audio     AudioConfig     `yaml:"audio"`
}

// ServerConfig holds network and logging settings for the Hearken server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on.
	// Defaults to ":10400".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ModelsConfig describes where wake word models are found and which to load
// at startup.
type ModelsConfig struct {
	// BuiltinDir is the directory shipping the stock models.
	BuiltinDir string `yaml:"builtin_dir"`

	// CustomDir is an optional directory with user-supplied models. The
	// registry re-scans it on reload; models added while the server runs
	// become available without a restart.
	CustomDir string `yaml:"custom_dir"`

	// Preload lists model names (or aliases) to load eagerly at startup.
	// All other models load lazily on first use.
	Preload []string `yaml:"preload"`

	// PollSeconds is the interval at which the custom directory is polled
	// for new models. 0 disables polling; reload then only happens when a
	// lookup misses.
	PollSeconds int `yaml:"poll_seconds"`
}

// DetectionConfig holds the process-wide detection gating defaults.
type DetectionConfig struct {
	// Threshold is the probability at or above which a frame counts toward
	// a detection. Range [0, 1]. Defaults to 0.5.
	Threshold float64 `yaml:"threshold"`

	// TriggerLevel is the number of consecutive qualifying frames required
	// before a detection fires. Defaults to 1 (immediate trigger).
	TriggerLevel int `yaml:"trigger_level"`

	// RefractorySeconds is the window after a detection during which the
	// same model cannot trigger again. Defaults to 0.5.
	RefractorySeconds float64 `yaml:"refractory_seconds"`

	// DebugProbability logs every per-frame probability. Very noisy; only
	// useful when tuning thresholds.
	DebugProbability bool `yaml:"debug_probability"`
}

// VADConfig configures the optional voice activity gate.
type VADConfig struct {
	// Threshold enables VAD filtering when greater than 0: wake inference
	// is skipped on frames classified as silence. Range [0, 1].
	Threshold float64 `yaml:"threshold"`

	// ModelPath is the path to the Silero VAD ONNX model. Required when
	// Threshold is greater than 0.
	ModelPath string `yaml:"model_path"`
}

// AudioConfig holds the frame pipeline tunables.
type AudioConfig struct {
	// FrameSamples is the fixed inference frame length in samples at 16 kHz.
	// Defaults to 1280 (80 ms).
	FrameSamples int `yaml:"frame_samples"`

	// SilencePrefillMs is the synthetic silence seeded at every audio-start
	// so a client that sends audio immediately does not lose its first
	// frames to detector warm-up. Defaults to 500.
	SilencePrefillMs int `yaml:"silence_prefill_ms"`
}

// ApplyDefaults fills zero-valued fields with the documented defaults.
// Called by [LoadFromReader] after decoding; exported so tests and embedders
// constructing a Config literal get the same values.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":10400"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Detection.Threshold == 0 {
		c.Detection.Threshold = 0.5
	}
	if c.Detection.TriggerLevel == 0 {
		c.Detection.TriggerLevel = 1
	}
	if c.Detection.RefractorySeconds == 0 {
		c.Detection.RefractorySeconds = 0.5
	}
	if c.Audio.FrameSamples == 0 {
		c.Audio.FrameSamples = 1280
	}
	if c.Audio.SilencePrefillMs == 0 {
		c.Audio.SilencePrefillMs = 500
	}
}
