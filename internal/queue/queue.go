// Package queue rebuilds the prioritized work list from the player store.
// A queue is a snapshot value: it holds copies of the scheduling fields and
// is discarded wholesale on the next rebuild.
package queue

import (
	"sort"

	"github.com/ForsakenNGS/LogTrackerApp/internal/player"
)

// Freshness bands. A character's band is the base value plus its
// user-tagged priority; higher bands update first.
const (
	bandNever = 4 // never fetched
	bandTurbo = 3 // priority-tagged and stale beyond the turbo interval
	bandFast  = 2 // recently seen and due
	bandSlow  = 1 // stale beyond the slow interval
)

// Options controls a rebuild. Intervals are in seconds.
type Options struct {
	IntervalTurbo int64 // default 1 day
	IntervalFast  int64 // default 2 days
	IntervalSlow  int64 // default 1 week
	MaxLevel      int   // default 80
	PriorityOnly  bool  // only consider priority-tagged characters
}

// DefaultOptions returns the stock freshness intervals.
func DefaultOptions() Options {
	return Options{
		IntervalTurbo: 86400,
		IntervalFast:  172800,
		IntervalSlow:  604800,
		MaxLevel:      80,
	}
}

// Item is one queued character. It carries copies of the scheduling fields;
// fetch results are merged into the store, never back into the item.
type Item struct {
	Realm    string
	Name     string
	Class    int
	Priority int
	LastSeen int64
	LastLogs int64
	Band     int
}

// New reports whether the character had never been fetched at rebuild time.
func (it Item) New() bool {
	return it.LastLogs == 0
}

// Queue is an ordered work list with a consume position.
type Queue struct {
	items []Item
	pos   int
}

// Build rebuilds the queue from a store snapshot at wall-clock now
// (seconds). Each character appears at most once; rebuilds with unchanged
// inputs produce identical queues.
func Build(chars []*player.Character, now int64, opts Options) *Queue {
	items := make([]Item, 0, len(chars))
	for _, c := range chars {
		band, ok := classify(c, now, opts)
		if !ok {
			continue
		}
		items = append(items, Item{
			Realm:    c.Realm,
			Name:     c.Name,
			Class:    c.Class,
			Priority: c.Priority,
			LastSeen: c.LastSeen,
			LastLogs: c.LastLogs,
			Band:     band,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Band != b.Band {
			return a.Band > b.Band
		}
		if a.LastLogs != b.LastLogs {
			return a.LastLogs < b.LastLogs // stale first
		}
		if a.LastSeen != b.LastSeen {
			return a.LastSeen > b.LastSeen // recently seen first
		}
		if a.Realm != b.Realm {
			return a.Realm < b.Realm
		}
		return a.Name < b.Name
	})

	return &Queue{items: items}
}

// classify applies the skip rules and assigns the update band.
func classify(c *player.Character, now int64, opts Options) (int, bool) {
	if c.Level > 0 && c.Level < opts.MaxLevel {
		return 0, false // non-max level
	}
	if c.Class == 0 {
		return 0, false // unknown class, no query shape yet
	}
	if opts.PriorityOnly && c.Priority == 0 {
		return 0, false
	}
	if len(c.Encounters) > 0 && c.EncounterKills() == 0 && c.Priority == 0 {
		return 0, false // known stuck at zero progress
	}

	seen := now - c.LastSeen
	upd := now - c.LastLogs
	switch {
	case c.LastLogs == 0:
		return bandNever + c.Priority, true
	case c.Priority > 0 && upd > opts.IntervalTurbo:
		return bandTurbo + c.Priority, true
	case seen < opts.IntervalFast && (upd > opts.IntervalFast || c.Priority > 0):
		return bandFast + c.Priority, true
	case upd > opts.IntervalSlow:
		return bandSlow + c.Priority, true
	}
	return 0, false
}

// Head returns the next item without consuming it.
func (q *Queue) Head() (Item, bool) {
	if q == nil || q.pos >= len(q.items) {
		return Item{}, false
	}
	return q.items[q.pos], true
}

// Advance consumes the head. Called only after a result is committed.
func (q *Queue) Advance() {
	if q != nil && q.pos < len(q.items) {
		q.pos++
	}
}

// Pos returns the number of consumed items.
func (q *Queue) Pos() int {
	if q == nil {
		return 0
	}
	return q.pos
}

// Len returns the total number of items in the rebuild.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.items)
}

// Empty reports whether any work remains.
func (q *Queue) Empty() bool {
	return q == nil || q.pos >= len(q.items)
}

// Items returns the full ordered work list of the rebuild.
func (q *Queue) Items() []Item {
	if q == nil {
		return nil
	}
	return q.items
}

// Status summarizes the remaining queue: never-fetched and refresh work,
// split by whether the character carries a user priority tag.
type Status struct {
	NewPriority    int
	UpdatePriority int
	NewRegular     int
	UpdateRegular  int
}

// RefreshStatus counts the remaining items by kind.
func (q *Queue) RefreshStatus() Status {
	var st Status
	if q == nil {
		return st
	}
	for _, it := range q.items[q.pos:] {
		switch {
		case it.New() && it.Priority > 0:
			st.NewPriority++
		case !it.New() && it.Priority > 0:
			st.UpdatePriority++
		case it.New():
			st.NewRegular++
		default:
			st.UpdateRegular++
		}
	}
	return st
}
