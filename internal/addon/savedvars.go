package addon

import (
	"strconv"
	"strings"

	"github.com/ForsakenNGS/LogTrackerApp/internal/player"
)

// SavedCharacter is one character record as the addon tracks it in the
// per-account saved variables.
type SavedCharacter struct {
	LastUpdate     int64
	LastUpdateLogs int64
	Priority       int
	Faction        string
	Class          int
	Level          int
	Encounters     map[int][]player.EncounterKill
}

// ParseSavedVariables decodes a saved-variables dump into realm → name →
// character records.
func ParseSavedVariables(src string) (map[string]map[string]SavedCharacter, error) {
	root, _, err := evalTable(src)
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]SavedCharacter)
	for _, realm := range root.stringKeys() {
		realmTbl := root.subTable(realm)
		if realmTbl == nil {
			continue
		}
		chars := make(map[string]SavedCharacter)
		for _, name := range realmTbl.stringKeys() {
			charTbl := realmTbl.subTable(name)
			if charTbl == nil {
				continue
			}
			sc := SavedCharacter{
				LastUpdate:     charTbl.int64val("lastUpdate", 0),
				LastUpdateLogs: charTbl.int64val("lastUpdateLogs", 0),
				Priority:       charTbl.intval("priority", 0),
				Faction:        charTbl.str("faction", "Unknown"),
				Class:          charTbl.intval("class", 0),
				Level:          charTbl.intval("level", 0),
				Encounters:     make(map[int][]player.EncounterKill),
			}
			if enc := charTbl.subTable("encounters"); enc != nil {
				for _, zoneKey := range enc.stringKeys() {
					zone, err := strconv.Atoi(zoneKey)
					if err != nil {
						continue
					}
					kills := parseEncounterString(enc.str(zoneKey, ""))
					if len(kills) > 0 {
						sc.Encounters[zone] = kills
					}
				}
			}
			chars[name] = sc
		}
		if len(chars) > 0 {
			out[realm] = chars
		}
	}
	return out, nil
}

// parseEncounterString decodes the addon's per-zone kill string: one
// "kills,difficulty,label" triple per boss, slash separated.
func parseEncounterString(s string) []player.EncounterKill {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "/")
	kills := make([]player.EncounterKill, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ",", 3)
		var k player.EncounterKill
		if len(fields) > 0 {
			k.Kills, _ = strconv.Atoi(fields[0])
		}
		if len(fields) > 1 {
			k.HardmodeDifficulty, _ = strconv.Atoi(fields[1])
		}
		if len(fields) > 2 {
			k.HardmodeLabel = fields[2]
		}
		kills = append(kills, k)
	}
	return kills
}
