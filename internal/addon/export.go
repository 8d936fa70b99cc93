package addon

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/ForsakenNGS/LogTrackerApp/internal/player"
)

// ExportedCharacter is one record of the AppData export as read back.
type ExportedCharacter struct {
	Faction    string
	Class      int
	Level      int
	LastSeen   int64
	LastLogs   int64
	LastUpdate int64
	Rankings   map[string]*player.Ranking
}

// writeAppData emits the export dump for every dirty character in the
// snapshot and returns the characters written. Characters whose realm or
// name cannot be quoted without escapes are skipped.
func writeAppData(w io.Writer, chars []*player.Character) ([]*player.Character, error) {
	written := make([]*player.Character, 0, len(chars))
	var b strings.Builder
	b.WriteString("LogTrackerAppData = {\n")

	lastRealm := ""
	open := false
	for _, c := range chars {
		if !c.Dirty() {
			continue
		}
		if !plainString(c.Realm) || !plainString(c.Name) || !plainString(c.Faction) {
			continue
		}
		if c.Realm != lastRealm {
			if open {
				b.WriteString("\t},\n")
			}
			fmt.Fprintf(&b, "\t[%q] = {\n", c.Realm)
			lastRealm = c.Realm
			open = true
		}
		writeCharacter(&b, c)
		written = append(written, c)
	}
	if open {
		b.WriteString("\t},\n")
	}
	b.WriteString("}\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return nil, err
	}
	return written, nil
}

func writeCharacter(b *strings.Builder, c *player.Character) {
	fmt.Fprintf(b, "\t\t[%q] = {\n", c.Name)
	fmt.Fprintf(b, "\t\t\t[\"faction\"] = %q,\n", c.Faction)
	fmt.Fprintf(b, "\t\t\t[\"class\"] = %d,\n", c.Class)
	fmt.Fprintf(b, "\t\t\t[\"level\"] = %d,\n", c.Level)
	fmt.Fprintf(b, "\t\t\t[\"lastSeen\"] = %d,\n", c.LastSeen)
	fmt.Fprintf(b, "\t\t\t[\"lastLogs\"] = %d,\n", c.LastLogs)
	fmt.Fprintf(b, "\t\t\t[\"lastUpdate\"] = %d,\n", c.LastUpdate)

	keys := make([]string, 0, len(c.Rankings))
	for k := range c.Rankings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString("\t\t\t[\"logs\"] = {\n")
	for _, key := range keys {
		r := c.Rankings[key]
		fmt.Fprintf(b, "\t\t\t\t[%q] = {\n", key)
		fmt.Fprintf(b, "\t\t\t\t\t[\"encountersTotal\"] = %d,\n", r.EncountersTotal)
		fmt.Fprintf(b, "\t\t\t\t\t[\"encountersKilled\"] = %d,\n", r.EncountersKilled)
		fmt.Fprintf(b, "\t\t\t\t\t[\"encounters\"] = %q,\n", encounterRatings(r.Encounters))
		b.WriteString("\t\t\t\t\t[\"allstars\"] = {")
		for i, a := range r.Allstars {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "{%d,%d,%d}", a.Spec, a.Best, a.Median)
		}
		b.WriteString("},\n")
		b.WriteString("\t\t\t\t},\n")
	}
	b.WriteString("\t\t\t},\n")
	b.WriteString("\t\t},\n")
}

// encounterRatings joins the position-indexed ratings, one
// "spec,best,median" triple per encounter.
func encounterRatings(ratings []player.Rating) string {
	parts := make([]string, len(ratings))
	for i, r := range ratings {
		parts[i] = fmt.Sprintf("%d,%d,%d", r.Spec, r.Best, r.Median)
	}
	return strings.Join(parts, "|")
}

// plainString reports whether quoting the string needs no escapes.
func plainString(s string) bool {
	if strings.ContainsAny(s, "\"\\") {
		return false
	}
	for _, r := range s {
		if r < 0x20 {
			return false
		}
	}
	return true
}

// ParseAppData reads an export dump back into realm → name → records,
// inverse of writeAppData for every field the addon consumes.
func ParseAppData(src string) (map[string]map[string]*ExportedCharacter, error) {
	root, _, err := evalTable(src)
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]*ExportedCharacter)
	for _, realm := range root.stringKeys() {
		realmTbl := root.subTable(realm)
		if realmTbl == nil {
			continue
		}
		chars := make(map[string]*ExportedCharacter)
		for _, name := range realmTbl.stringKeys() {
			charTbl := realmTbl.subTable(name)
			if charTbl == nil {
				continue
			}
			ec := &ExportedCharacter{
				Faction:    charTbl.str("faction", "Unknown"),
				Class:      charTbl.intval("class", 0),
				Level:      charTbl.intval("level", 0),
				LastSeen:   charTbl.int64val("lastSeen", 0),
				LastLogs:   charTbl.int64val("lastLogs", 0),
				LastUpdate: charTbl.int64val("lastUpdate", 0),
				Rankings:   make(map[string]*player.Ranking),
			}
			if logs := charTbl.subTable("logs"); logs != nil {
				for _, key := range logs.stringKeys() {
					if r := parseRanking(logs.subTable(key)); r != nil {
						ec.Rankings[key] = r
					}
				}
			}
			chars[name] = ec
		}
		if len(chars) > 0 {
			out[realm] = chars
		}
	}
	return out, nil
}

func parseRanking(t *table) *player.Ranking {
	if t == nil {
		return nil
	}
	r := &player.Ranking{
		EncountersTotal:  t.intval("encountersTotal", 0),
		EncountersKilled: t.intval("encountersKilled", 0),
	}
	if enc := t.str("encounters", ""); enc != "" {
		for _, part := range strings.Split(enc, "|") {
			fields := strings.SplitN(part, ",", 3)
			var rt player.Rating
			if len(fields) > 0 {
				rt.Spec, _ = strconv.Atoi(fields[0])
			}
			if len(fields) > 1 {
				rt.Best, _ = strconv.Atoi(fields[1])
			}
			if len(fields) > 2 {
				rt.Median, _ = strconv.Atoi(fields[2])
			}
			r.Encounters = append(r.Encounters, rt)
		}
	}
	if allstars := t.subTable("allstars"); allstars != nil {
		for _, idx := range allstars.intKeys() {
			triple := allstars.subTable(idx)
			if triple == nil {
				continue
			}
			r.Allstars = append(r.Allstars, player.Rating{
				Spec:   triple.intval(1, 0),
				Best:   triple.intval(2, 0),
				Median: triple.intval(3, 0),
			})
		}
	}
	return r
}
