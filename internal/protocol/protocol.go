// Package protocol defines the logical messages exchanged over a session
// channel. Control messages travel as a JSON envelope {"type": ..., "data":
// ...}; audio chunks travel out-of-band as binary frames, so PCM never pays
// the JSON tax. The package is transport-agnostic; the WebSocket binding
// lives in internal/server.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound message types.
const (
	TypeDescribe   = "describe"
	TypeDetect     = "detect"
	TypeAudioStart = "audio-start"
	TypeAudioStop  = "audio-stop"
)

// Outbound message types.
const (
	TypeInfo        = "info"
	TypeDetection   = "detection"
	TypeNotDetected = "not-detected"
	TypeError       = "error"
)

// Error kinds carried by [ServerError]. All of these are diagnostics;
// only transport failures end a session.
const (
	ErrKindUnknownModel = "unknown-model"
	ErrKindFraming      = "framing"
	ErrKindModelLoad    = "model-load"
	ErrKindBadRequest   = "bad-request"
)

// Envelope is the wire form of every control message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Detect selects the models active for subsequent utterances. An empty or
// absent name list means "all currently loaded models".
type Detect struct {
	Names []string `json:"names,omitempty"`
}

// AudioStart announces the start of an utterance and declares the client's
// PCM format.
type AudioStart struct {
	Rate     int `json:"rate"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

// Detection reports a triggered wake word. Timestamp is the offset in
// milliseconds from the start of the utterance's real audio.
type Detection struct {
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}

// ServerError is a structured, non-fatal diagnostic.
type ServerError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// WakeModel describes one available model in an [Info] message.
type WakeModel struct {
	Name     string   `json:"name"`
	Phrase   string   `json:"phrase"`
	Language string   `json:"language,omitempty"`
	Aliases  []string `json:"aliases,omitempty"`
}

// AudioFormat is the PCM format the pipeline runs at.
type AudioFormat struct {
	Rate     int `json:"rate"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

// Info is the capability advertisement answering a describe request.
type Info struct {
	Version    string      `json:"version"`
	WakeModels []WakeModel `json:"wake_models"`
	Audio      AudioFormat `json:"audio"`
}

// Encode marshals a control message into its envelope wire form.
// data may be nil for payload-less messages such as audio-stop.
func Encode(typ string, data any) ([]byte, error) {
	env := Envelope{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s payload: %w", typ, err)
		}
		env.Data = raw
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s envelope: %w", typ, err)
	}
	return b, nil
}

// DecodeEnvelope parses an envelope from wire bytes.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("protocol: envelope has no type")
	}
	return env, nil
}

// DecodeData parses an envelope payload into dst.
func DecodeData(env Envelope, dst any) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("protocol: decode %s payload: %w", env.Type, err)
	}
	return nil
}
