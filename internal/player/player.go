package player

import (
	"fmt"
	"sort"
)

// Rating is one (spec, best, median) percentile triple. Percentiles are
// stored rounded to whole numbers; the addon export renders integers only.
type Rating struct {
	Spec   int
	Best   int
	Median int
}

// Ranking holds the latest known log performance of one character in one
// zone at one raid size.
type Ranking struct {
	EncountersTotal  int
	EncountersKilled int
	Allstars         []Rating // one entry per spec that produced data
	Encounters       []Rating // indexed by encounter position within the zone
}

// EncounterKill is the addon's per-boss kill record.
type EncounterKill struct {
	Kills             int
	HardmodeDifficulty int
	HardmodeLabel     string
}

// Character is the authoritative record for one (realm, name) pair.
// Characters are created on first observation and never deleted.
type Character struct {
	Realm    string
	Name     string
	Faction  string
	Class    int // 0 = unknown
	Level    int // 0 = unknown
	Priority int // user-tagged elevation, 0 = none

	Rankings   map[string]*Ranking       // "zone-size" → ranking
	Encounters map[int][]EncounterKill   // zone id → per-boss kills

	LastSeen     int64 // from addon saved variables
	LastLogs     int64 // last successful LogService refresh
	LastUpdate   int64 // last mutation of this record
	LastExported int64 // last time included in the export dump
}

// RankingKey builds the "zone-size" map key.
func RankingKey(zone, size int) string {
	return fmt.Sprintf("%d-%d", zone, size)
}

// EncounterKills returns the maximum total kill count across any zone.
func (c *Character) EncounterKills() int {
	max := 0
	for _, kills := range c.Encounters {
		total := 0
		for _, k := range kills {
			total += k.Kills
		}
		if total > max {
			max = total
		}
	}
	return max
}

// Dirty reports whether the character changed since it was last exported.
func (c *Character) Dirty() bool {
	return c.LastUpdate > c.LastExported
}

// Store is the in-memory authoritative map of characters, keyed
// realm → name. Callers serialize access (the engine mutex).
type Store struct {
	realms map[string]map[string]*Character
}

func NewStore() *Store {
	return &Store{realms: make(map[string]map[string]*Character)}
}

// Get returns the character for (realm, name), creating a zero-initialized
// record on first observation. Never fails.
func (s *Store) Get(realm, name string) *Character {
	chars, ok := s.realms[realm]
	if !ok {
		chars = make(map[string]*Character)
		s.realms[realm] = chars
	}
	c, ok := chars[name]
	if !ok {
		c = &Character{
			Realm:      realm,
			Name:       name,
			Faction:    "Unknown",
			Rankings:   make(map[string]*Ranking),
			Encounters: make(map[int][]EncounterKill),
		}
		chars[name] = c
	}
	return c
}

// Lookup returns the character or nil without creating it.
func (s *Store) Lookup(realm, name string) *Character {
	return s.realms[realm][name]
}

// Update replaces the character in place and stamps LastUpdate and LastLogs
// from the caller-supplied clock.
func (s *Store) Update(c *Character, now int64) {
	c.LastUpdate = now
	c.LastLogs = now
	chars, ok := s.realms[c.Realm]
	if !ok {
		chars = make(map[string]*Character)
		s.realms[c.Realm] = chars
	}
	chars[c.Name] = c
}

// Touch stamps LastUpdate only, marking the record dirty for the exporter.
func (s *Store) Touch(c *Character, now int64) {
	c.LastUpdate = now
}

// MarkExported records that the character was included in the export dump.
func (s *Store) MarkExported(realm, name string, t int64) {
	if c := s.Lookup(realm, name); c != nil {
		c.LastExported = t
	}
}

// Snapshot returns all characters in stable iteration order for the
// exporter: realm name ascending, then character name ascending.
func (s *Store) Snapshot() []*Character {
	out := make([]*Character, 0, s.Len())
	realms := make([]string, 0, len(s.realms))
	for realm := range s.realms {
		realms = append(realms, realm)
	}
	sort.Strings(realms)
	for _, realm := range realms {
		names := make([]string, 0, len(s.realms[realm]))
		for name := range s.realms[realm] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, s.realms[realm][name])
		}
	}
	return out
}

// Realms returns the known realm names, ascending.
func (s *Store) Realms() []string {
	realms := make([]string, 0, len(s.realms))
	for realm := range s.realms {
		realms = append(realms, realm)
	}
	sort.Strings(realms)
	return realms
}

// Len returns the number of known characters.
func (s *Store) Len() int {
	n := 0
	for _, chars := range s.realms {
		n += len(chars)
	}
	return n
}
