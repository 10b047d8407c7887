// Package dpconfig loads the channel manifest a daemon pre-creates at
// startup: the list of named channels and their sizing parameters. This
// is the one piece of ambient configuration that does not follow the
// bespoke Junos-style config DSL used elsewhere in the channel's lineage
// — a handful of sizing fields is better served by a small YAML file.
package dpconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/psaab/dpchan/pkg/layout"
)

// ChannelSpec is one entry in a manifest: a channel name plus the
// parameters layout.Compute needs to size it.
type ChannelSpec struct {
	Name       string `yaml:"name"`
	Ne         uint64 `yaml:"ne"`
	Na         uint64 `yaml:"na"`
	Nb         uint64 `yaml:"nb"`
	BufferSize uint64 `yaml:"buffer_size"`
	HugePage   bool   `yaml:"huge_page"`
}

// Manifest is the top-level document: every channel a daemon should
// create at startup.
type Manifest struct {
	Channels []ChannelSpec `yaml:"channels"`
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dpconfig: read %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("dpconfig: parse %s: %w", path, err)
	}
	for i, c := range m.Channels {
		if c.Name == "" {
			return nil, fmt.Errorf("dpconfig: channel at index %d has no name", i)
		}
	}
	return &m, nil
}

// Params converts a manifest entry into layout.Params, ready for
// layout.Compute or channel.Create.
func (c ChannelSpec) Params() layout.Params {
	return layout.Params{
		Ne:         c.Ne,
		Na:         c.Na,
		Nb:         c.Nb,
		BufferSize: c.BufferSize,
		HugePage:   c.HugePage,
	}
}
