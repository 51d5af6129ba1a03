// Package cue serves instant cues ("barks"): short pre-authored lines an NPC
// plays the moment an action is chosen, masking the latency of generating the
// real response.
//
// A [Registry] holds per-NPC cue tables on top of the built-in default table
// and hands out cues round-robin per (NPC, category) key. Resolution never
// fails: when no list is configured the [Silent] cue is returned.
//
// Registry is safe for concurrent use.
package cue

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// Cue is an immutable pre-authored line.
type Cue struct {
	// Text is the line shown (and spoken) to the player.
	Text string

	// AudioPath optionally references a pre-rendered audio clip for Text.
	// Empty when the client must synthesise or skip audio.
	AudioPath string

	// Duration is the expected playback length.
	Duration time.Duration
}

// DurationMS returns the playback length in whole milliseconds.
func (c Cue) DurationMS() int64 {
	return c.Duration.Milliseconds()
}

// Silent is returned when neither an NPC table nor the defaults hold a cue
// for the requested category.
var Silent = Cue{Text: "...", Duration: 100 * time.Millisecond}

// Table maps a category to its ordered cue variants.
type Table map[Category][]Cue

// clone returns a deep copy of t so callers cannot mutate registry state.
func (t Table) clone() Table {
	out := make(Table, len(t))
	for c, list := range t {
		out[c] = slices.Clone(list)
	}
	return out
}

type cursorKey struct {
	npc      string
	category Category
}

// Registry resolves cues for NPCs. Construct one with [New] at startup and
// share it; the rotation cursors live as long as the Registry does.
type Registry struct {
	defaults Table
	npcs     map[string]Table

	mu      sync.Mutex
	cursors map[cursorKey]int
}

// Option configures a [Registry].
type Option func(*Registry)

// WithDefaults replaces the built-in default table.
func WithDefaults(t Table) Option {
	return func(r *Registry) {
		r.defaults = t.clone()
	}
}

// WithNPCTable installs an NPC-specific table. Categories missing from t, or
// mapped to an empty list, fall back to the default table.
func WithNPCTable(npcID string, t Table) Option {
	return func(r *Registry) {
		r.npcs[npcID] = t.clone()
	}
}

// New creates a Registry seeded with [DefaultTable] and the given options.
func New(opts ...Option) *Registry {
	r := &Registry{
		defaults: DefaultTable(),
		npcs:     make(map[string]Table),
		cursors:  make(map[cursorKey]int),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the next cue for npcID in category c. Successive calls for
// the same key walk the configured list in order and wrap around.
func (r *Registry) Resolve(npcID string, c Category) Cue {
	list := r.list(npcID, c)
	if len(list) == 0 {
		return Silent
	}

	k := cursorKey{npc: npcID, category: c}
	r.mu.Lock()
	i := r.cursors[k] % len(list)
	r.cursors[k] = (i + 1) % len(list)
	r.mu.Unlock()

	return list[i]
}

// list picks the NPC list when present and non-empty, else the default list.
// Tables are never mutated after construction so no lock is needed.
func (r *Registry) list(npcID string, c Category) []Cue {
	if t, ok := r.npcs[npcID]; ok {
		if list := t[c]; len(list) > 0 {
			return list
		}
	}
	return r.defaults[c]
}

// NPCs returns the sorted IDs of NPCs with a custom table.
func (r *Registry) NPCs() []string {
	return slices.Sorted(maps.Keys(r.npcs))
}
