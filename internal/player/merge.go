package player

import "math"

// SpecRankings is one spec's ranking payload as decoded from the LogService:
// the zone-wide performance averages plus one entry per encounter position.
type SpecRankings struct {
	BestAverage   float64
	MedianAverage float64
	Ranks         []EncounterRank
}

// EncounterRank is the per-encounter slice of a SpecRankings payload.
type EncounterRank struct {
	RankPercent   float64
	MedianPercent float64
}

// Empty reports whether the payload carries no usable data.
func (sr SpecRankings) Empty() bool {
	return len(sr.Ranks) == 0 && sr.BestAverage == 0 && sr.MedianAverage == 0
}

// MergeSpec folds one spec's payload into the ranking. Positions are
// indexed by encounter-within-zone; a new position appends a zero triple,
// an existing one is overwritten only by a strictly greater best. Within a
// fetch cycle this makes best monotonically non-decreasing per position.
func (r *Ranking) MergeSpec(specID int, sr SpecRankings) {
	for i, rank := range sr.Ranks {
		if i >= len(r.Encounters) {
			r.Encounters = append(r.Encounters, Rating{})
		}
		best := roundPercent(rank.RankPercent)
		median := roundPercent(rank.MedianPercent)
		if best > r.Encounters[i].Best {
			r.Encounters[i] = Rating{Spec: specID, Best: best, Median: median}
		}
	}

	r.EncountersTotal = len(r.Encounters)
	killed := 0
	for _, e := range r.Encounters {
		if e.Best > 0 {
			killed++
		}
	}
	r.EncountersKilled = killed

	if !sr.Empty() {
		r.Allstars = append(r.Allstars, Rating{
			Spec:   specID,
			Best:   roundPercent(sr.BestAverage),
			Median: roundPercent(sr.MedianAverage),
		})
	}
}

func roundPercent(v float64) int {
	if v < 0 {
		return 0
	}
	return int(math.Round(v))
}
