package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Models.BuiltinDir == "" && cfg.Models.CustomDir == "" {
		errs = append(errs, fmt.Errorf("at least one of models.builtin_dir and models.custom_dir is required"))
	}
	if cfg.Models.PollSeconds < 0 {
		errs = append(errs, fmt.Errorf("models.poll_seconds %d must not be negative", cfg.Models.PollSeconds))
	}

	if cfg.Detection.Threshold < 0 || cfg.Detection.Threshold > 1 {
		errs = append(errs, fmt.Errorf("detection.threshold %.2f is out of range [0, 1]", cfg.Detection.Threshold))
	}
	if cfg.Detection.TriggerLevel < 1 {
		errs = append(errs, fmt.Errorf("detection.trigger_level %d must be at least 1", cfg.Detection.TriggerLevel))
	}
	if cfg.Detection.RefractorySeconds < 0 {
		errs = append(errs, fmt.Errorf("detection.refractory_seconds %.2f must not be negative", cfg.Detection.RefractorySeconds))
	}

	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f is out of range [0, 1]", cfg.VAD.Threshold))
	}
	if cfg.VAD.Threshold > 0 && cfg.VAD.ModelPath == "" {
		errs = append(errs, fmt.Errorf("vad.model_path is required when vad.threshold is greater than 0"))
	}

	if cfg.Audio.FrameSamples <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d must be positive", cfg.Audio.FrameSamples))
	}
	if cfg.Audio.SilencePrefillMs < 0 {
		errs = append(errs, fmt.Errorf("audio.silence_prefill_ms %d must not be negative", cfg.Audio.SilencePrefillMs))
	}

	return errors.Join(errs...)
}
