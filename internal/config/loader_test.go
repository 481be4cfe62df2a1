package config_test

import (
	"strings"
	"testing"

	"github.com/hearken-audio/hearken/internal/config"
)

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(`
models:
  builtin_dir: /usr/share/hearken/models
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":10400" {
		t.Errorf("ListenAddr: want :10400, got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("LogLevel: want info, got %q", cfg.Server.LogLevel)
	}
	if cfg.Detection.Threshold != 0.5 {
		t.Errorf("Detection.Threshold: want 0.5, got %v", cfg.Detection.Threshold)
	}
	if cfg.Detection.TriggerLevel != 1 {
		t.Errorf("Detection.TriggerLevel: want 1, got %d", cfg.Detection.TriggerLevel)
	}
	if cfg.Detection.RefractorySeconds != 0.5 {
		t.Errorf("Detection.RefractorySeconds: want 0.5, got %v", cfg.Detection.RefractorySeconds)
	}
	if cfg.Audio.FrameSamples != 1280 {
		t.Errorf("Audio.FrameSamples: want 1280, got %d", cfg.Audio.FrameSamples)
	}
	if cfg.Audio.SilencePrefillMs != 500 {
		t.Errorf("Audio.SilencePrefillMs: want 500, got %d", cfg.Audio.SilencePrefillMs)
	}
	if cfg.VAD.Threshold != 0 {
		t.Errorf("VAD.Threshold: want 0 (disabled), got %v", cfg.VAD.Threshold)
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(`
server:
  listen_addr: ":9000"
  log_level: debug
models:
  builtin_dir: /models
  custom_dir: /custom
  preload: [okay_nabu, hey_jarvis]
  poll_seconds: 10
detection:
  threshold: 0.7
  trigger_level: 3
  refractory_seconds: 2
vad:
  threshold: 0.4
  model_path: /models/silero_vad.onnx
audio:
  frame_samples: 512
  silence_prefill_ms: 200
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("ListenAddr: got %q", cfg.Server.ListenAddr)
	}
	if len(cfg.Models.Preload) != 2 || cfg.Models.Preload[0] != "okay_nabu" {
		t.Errorf("Preload: got %v", cfg.Models.Preload)
	}
	if cfg.Detection.TriggerLevel != 3 {
		t.Errorf("TriggerLevel: got %d", cfg.Detection.TriggerLevel)
	}
	if cfg.VAD.Threshold != 0.4 {
		t.Errorf("VAD.Threshold: got %v", cfg.VAD.Threshold)
	}
	if cfg.Audio.FrameSamples != 512 {
		t.Errorf("FrameSamples: got %d", cfg.Audio.FrameSamples)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(`
models:
  builtin_dir: /models
  bogus_knob: true
`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no model dirs",
			yaml: `detection: {threshold: 0.5}`,
			want: "builtin_dir",
		},
		{
			name: "bad log level",
			yaml: "server: {log_level: loud}\nmodels: {builtin_dir: /m}",
			want: "log_level",
		},
		{
			name: "threshold out of range",
			yaml: "models: {builtin_dir: /m}\ndetection: {threshold: 1.5}",
			want: "threshold",
		},
		{
			name: "vad threshold without model path",
			yaml: "models: {builtin_dir: /m}\nvad: {threshold: 0.5}",
			want: "vad.model_path",
		},
		{
			name: "negative trigger level",
			yaml: "models: {builtin_dir: /m}\ndetection: {trigger_level: -2}",
			want: "trigger_level",
		},
		{
			name: "tls missing key",
			yaml: "server: {tls: {cert_file: /c.pem}}\nmodels: {builtin_dir: /m}",
			want: "tls",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
