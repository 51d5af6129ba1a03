package config

import (
	"cmp"
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes the hot-reloadable changes between two configs.
// Provider, memory and listener changes need a restart and are reported
// only through RestartRequired.
type ConfigDiff struct {
	NPCsChanged     bool
	NPCChanges      []NPCDiff
	LogLevelChanged bool
	NewLogLevel     LogLevel
	ScorerChanged   bool
	PipelineChanged bool

	// RestartRequired is set when a section that is not hot-reloaded
	// changed.
	RestartRequired bool
}

// NPCDiff describes what changed for a single NPC, keyed by id.
type NPCDiff struct {
	ID           string
	CuesChanged  bool
	VoiceChanged bool
	StateChanged bool
	Added        bool
	Removed      bool
}

// Diff compares old and new and returns what changed. NPC changes are
// sorted by id.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.ScorerChanged = !reflect.DeepEqual(old.Scorer, new.Scorer)
	d.PipelineChanged = !reflect.DeepEqual(old.Pipeline, new.Pipeline)
	d.RestartRequired = old.Server.ListenAddr != new.Server.ListenAddr ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) ||
		!reflect.DeepEqual(old.Providers, new.Providers) ||
		old.Memory != new.Memory ||
		old.Reward != new.Reward

	oldNPCs := npcIndex(old.NPCs)
	newNPCs := npcIndex(new.NPCs)

	for id, o := range oldNPCs {
		n, ok := newNPCs[id]
		if !ok {
			d.NPCChanges = append(d.NPCChanges, NPCDiff{ID: id, Removed: true})
			continue
		}
		nd := NPCDiff{
			ID:           id,
			CuesChanged:  !reflect.DeepEqual(o.Cues, n.Cues),
			VoiceChanged: o.Voice != n.Voice,
			StateChanged: o.Name != n.Name || o.Mood != n.Mood ||
				o.Relationship != n.Relationship || !maps.Equal(o.State, n.State),
		}
		if nd.CuesChanged || nd.VoiceChanged || nd.StateChanged {
			d.NPCChanges = append(d.NPCChanges, nd)
		}
	}
	for id := range newNPCs {
		if _, ok := oldNPCs[id]; !ok {
			d.NPCChanges = append(d.NPCChanges, NPCDiff{ID: id, Added: true})
		}
	}

	slices.SortFunc(d.NPCChanges, func(a, b NPCDiff) int { return cmp.Compare(a.ID, b.ID) })
	d.NPCsChanged = len(d.NPCChanges) > 0
	return d
}

func npcIndex(npcs []NPCConfig) map[string]*NPCConfig {
	m := make(map[string]*NPCConfig, len(npcs))
	for i := range npcs {
		m[npcs[i].ID] = &npcs[i]
	}
	return m
}
