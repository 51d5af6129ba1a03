package cue

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// TableVersion is the version of the embedded default table.
const TableVersion = 1

// Entry is the YAML form of a single [Cue].
type Entry struct {
	Text       string `yaml:"text"`
	AudioPath  string `yaml:"audio_path"`
	DurationMS int    `yaml:"duration_ms"`
}

// Cue converts e to a [Cue].
func (e Entry) Cue() Cue {
	return Cue{
		Text:      e.Text,
		AudioPath: e.AudioPath,
		Duration:  time.Duration(e.DurationMS) * time.Millisecond,
	}
}

type tableFile struct {
	Version int                `yaml:"version"`
	Cues    map[string][]Entry `yaml:"cues"`
}

var loadDefaults = sync.OnceValue(func() Table {
	t, err := DecodeTable(bytes.NewReader(defaultsYAML))
	if err != nil {
		panic("cue: embedded default table: " + err.Error())
	}
	return t
})

// DefaultTable returns a copy of the built-in cue table.
func DefaultTable() Table {
	return loadDefaults().clone()
}

// DecodeTable reads a versioned YAML cue table from r. Unknown categories,
// empty texts and negative durations are rejected.
func DecodeTable(r io.Reader) (Table, error) {
	var f tableFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("cue: decode table: %w", err)
	}
	if f.Version != TableVersion {
		return nil, fmt.Errorf("cue: table version %d unsupported, want %d", f.Version, TableVersion)
	}
	return TableFromEntries(f.Cues)
}

// TableFromEntries validates raw category-keyed entries (as found in config
// files) and converts them to a [Table].
func TableFromEntries(raw map[string][]Entry) (Table, error) {
	t := make(Table, len(raw))
	for name, entries := range raw {
		c, ok := ParseCategory(name)
		if !ok {
			return nil, fmt.Errorf("cue: unknown category %q", name)
		}
		list := make([]Cue, 0, len(entries))
		for i, e := range entries {
			if e.Text == "" {
				return nil, fmt.Errorf("cue: %s[%d]: text is required", c, i)
			}
			if e.DurationMS < 0 {
				return nil, fmt.Errorf("cue: %s[%d]: duration_ms %d is negative", c, i, e.DurationMS)
			}
			list = append(list, e.Cue())
		}
		t[c] = list
	}
	return t, nil
}
