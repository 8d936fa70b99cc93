package data

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed zones.yaml
var defaultZones []byte

// Zone describes one ranked raid instance.
type Zone struct {
	ID         int    `yaml:"id"`
	Name       string `yaml:"name"`
	Sizes      []int  `yaml:"sizes"`
	Encounters int    `yaml:"encounters"`
}

type zoneListFile struct {
	ActiveZone int    `yaml:"active_zone"`
	Zones      []Zone `yaml:"zones"`
}

// ZoneTable holds the zone reference data indexed by zone ID.
type ZoneTable struct {
	zones  map[int]*Zone
	active int
}

// LoadZoneTable loads the zone table from a YAML file. An empty path loads
// the embedded default table.
func LoadZoneTable(path string) (*ZoneTable, error) {
	raw := defaultZones
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read zone table: %w", err)
		}
		raw = data
	}
	var f zoneListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse zone table: %w", err)
	}
	t := &ZoneTable{zones: make(map[int]*Zone, len(f.Zones)), active: f.ActiveZone}
	for i := range f.Zones {
		z := &f.Zones[i]
		t.zones[z.ID] = z
	}
	if t.Get(t.active) == nil {
		return nil, fmt.Errorf("zone table: active zone %d not listed", t.active)
	}
	return t, nil
}

// Get returns a zone by ID, or nil if not found.
func (t *ZoneTable) Get(id int) *Zone {
	return t.zones[id]
}

// Active returns the zone the updater currently queries.
func (t *ZoneTable) Active() *Zone {
	return t.zones[t.active]
}

// Count returns the number of loaded zones.
func (t *ZoneTable) Count() int {
	return len(t.zones)
}
