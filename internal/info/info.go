// Package info answers describe requests with the server's current
// capabilities.
package info

import (
	"github.com/hearken-audio/hearken/internal/protocol"
	"github.com/hearken-audio/hearken/internal/registry"
	"github.com/hearken-audio/hearken/pkg/audio"
)

// Publisher builds capability advertisements. The model list is re-read from
// the registry on every call so drop-in models show up without a restart.
type Publisher struct {
	reg     *registry.Registry
	version string
}

func NewPublisher(reg *registry.Registry, version string) *Publisher {
	return &Publisher{reg: reg, version: version}
}

// Describe returns the current capability snapshot.
func (p *Publisher) Describe() protocol.Info {
	entries := p.reg.List()
	models := make([]protocol.WakeModel, 0, len(entries))
	for _, e := range entries {
		models = append(models, protocol.WakeModel{
			Name:     e.Key,
			Phrase:   e.Phrase,
			Language: e.Language,
			Aliases:  e.Aliases,
		})
	}
	return protocol.Info{
		Version:    p.version,
		WakeModels: models,
		Audio: protocol.AudioFormat{
			Rate:     audio.SampleRate,
			Width:    audio.SampleWidth,
			Channels: audio.Channels,
		},
	}
}
