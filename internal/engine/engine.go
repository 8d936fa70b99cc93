// Package engine drives the update loop: it reconciles the addon's save
// files into the player store, rebuilds the work queue, spends LogService
// credits under the governor's reservation policy, and flushes the export
// the addon reads on next launch.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ForsakenNGS/LogTrackerApp/internal/addon"
	"github.com/ForsakenNGS/LogTrackerApp/internal/config"
	"github.com/ForsakenNGS/LogTrackerApp/internal/data"
	"github.com/ForsakenNGS/LogTrackerApp/internal/player"
	"github.com/ForsakenNGS/LogTrackerApp/internal/queue"
	"github.com/ForsakenNGS/LogTrackerApp/internal/rate"
	"github.com/ForsakenNGS/LogTrackerApp/internal/view"
	"github.com/ForsakenNGS/LogTrackerApp/internal/wcl"
)

// Fetcher is the LogService surface the engine depends on.
type Fetcher interface {
	QueryCharacter(ctx context.Context, q wcl.CharacterQuery) (*wcl.CharacterRankings, string, error)
	QueryRateLimit(ctx context.Context) (*wcl.RateLimit, error)
	SetCredentials(id, secret string)
}

// Engine owns the worker loop. One engine mutex guards the store, the
// governor, the queue, BaseData and the configuration; HTTP and the
// export write happen with the mutex released.
type Engine struct {
	log      *zap.Logger
	settings *config.Settings
	codec    *addon.Codec
	fetcher  Fetcher
	zones    *data.ZoneTable
	view     *view.Bridge

	mu    sync.Mutex
	cfg   *config.App
	store *player.Store
	base  *addon.BaseData
	gov   *rate.Governor
	q     *queue.Queue

	pauseUntil time.Time

	// worker-only state, no lock needed
	highWater   time.Time
	lastProbe   time.Time
	lastFlush   time.Time
	lastRebuild time.Time

	active     atomic.Bool
	reloadHint atomic.Bool
	stopOnce   sync.Once
	stopCh     chan struct{}
	done       chan struct{}
	watcher    *saveWatcher

	now func() time.Time
}

func New(cfg *config.App, settings *config.Settings, zones *data.ZoneTable,
	codec *addon.Codec, fetcher Fetcher, bridge *view.Bridge, log *zap.Logger) *Engine {
	e := &Engine{
		log:      log,
		settings: settings,
		codec:    codec,
		fetcher:  fetcher,
		zones:    zones,
		view:     bridge,
		cfg:      cfg,
		store:    player.NewStore(),
		base:     addon.EmptyBaseData(),
		gov: rate.NewGovernor(rate.Policy{
			Reserve:       settings.Reserve.Points,
			ReserveWindow: settings.Reserve.Window,
			SkewMargin:    settings.Reserve.SkewMargin,
		}),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	e.fetcher.SetCredentials(cfg.APIID, cfg.APISecret)
	bridge.SetConfig(cfg.GameDir, cfg.APIID, cfg.APISecret)
	return e
}

// Start performs the initial addon-data read and launches the worker.
func (e *Engine) Start() {
	now := e.now()
	e.reload(now, false)
	e.active.Store(true)

	if w, err := newSaveWatcher(&e.reloadHint, e.log); err != nil {
		e.log.Warn("save watcher unavailable, falling back to polling", zap.Error(err))
	} else {
		e.watcher = w
		e.watcher.Watch(e.codec.SavedVariablesDirs(e.gameDir()))
	}

	go e.run()
}

// Stop signals the worker and blocks until the final export is written.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.active.Store(false)
		close(e.stopCh)
	})
	<-e.done
	if e.watcher != nil {
		e.watcher.Close()
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for e.active.Load() {
		delay := e.iterate()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-e.stopCh:
			}
		}
	}
	// Final export so user-visible changes survive shutdown.
	e.flushExport(e.now())
}

// iterate runs one worker step and returns how long to sleep before the
// next one.
func (e *Engine) iterate() time.Duration {
	now := e.now()
	e.maybeReload(now)

	e.mu.Lock()
	hasCreds := e.cfg.HasCredentials()
	empty := e.q.Empty()
	paused := e.pauseUntil.After(now)
	resetAt := e.gov.ResetAt()
	e.mu.Unlock()

	if empty || !hasCreds {
		e.view.SetStatus("Update completed.")
		if now.Sub(e.lastRebuild) > e.settings.Timers.QueueRebuild {
			e.rebuildQueue(now)
		}
		return time.Second
	}

	if paused {
		if resetAt.IsZero() {
			// Paused before any probe succeeded; there is no reset clock
			// worth showing yet.
			e.view.SetStatus("Rate limit reached! Retrying soon")
		} else {
			e.view.SetStatus(fmt.Sprintf("Rate limit reached! Reset at %s",
				resetAt.Local().Format("15:04")))
		}
		return time.Second
	}

	if now.Sub(e.lastProbe) > e.settings.Timers.RateProbe {
		e.probeRateLimit(now)
		e.lastProbe = now
	}

	e.mu.Lock()
	if e.gov.ShouldProceed(now) == rate.Wait {
		left := e.gov.PointsLeft()
		deadline := e.gov.ReserveDeadline()
		reset := e.gov.ResetAt()
		e.mu.Unlock()
		e.view.SetStatus(fmt.Sprintf("Reserving %.0f points until %s (Reset at %s)",
			left, deadline.Local().Format("15:04"), reset.Local().Format("15:04")))
		return time.Second
	}
	item, ok := e.q.Head()
	specs := e.specsFor(item.Class)
	region := e.base.Region(item.Realm)
	zone := e.zones.Active()
	e.mu.Unlock()
	if !ok {
		return time.Second
	}

	committed := e.fetchHead(now, item, specs, region, zone)

	e.mu.Lock()
	pos, total := e.q.Pos(), e.q.Len()
	used, limit := e.gov.PointsUsed(), e.gov.PointsLimit()
	e.mu.Unlock()
	e.view.SetStatus(fmt.Sprintf("Updated %d / %d (%.0f / %.0f points used)",
		pos, total, used, limit))

	if now.Sub(e.lastFlush) > e.settings.Timers.ExportFlush {
		e.flushExport(now)
		e.lastFlush = now
	}
	if !committed {
		return time.Second // failed head, do not hammer the service
	}
	return 10 * time.Millisecond
}

// fetchHead refreshes the queue head and reports whether a result was
// committed: success with data, or reachable-but-no-logs. A transport
// failure reconciles the governor instead, and pauses the loop when even
// the reconcile fails.
func (e *Engine) fetchHead(now time.Time, item queue.Item, specs []wcl.Spec, region string, zone *data.Zone) bool {
	if len(specs) == 0 {
		// Class unknown to BaseData: no query shape. Stamp and advance so
		// the next rebuild drops it rather than loop here.
		e.mu.Lock()
		e.store.Update(e.store.Get(item.Realm, item.Name), now.Unix())
		e.q.Advance()
		e.mu.Unlock()
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.settings.API.HTTPTimeout)
	defer cancel()
	res, echo, err := e.fetcher.QueryCharacter(ctx, wcl.CharacterQuery{
		Name:   item.Name,
		Realm:  item.Realm,
		Region: region,
		Zone:   zone.ID,
		Specs:  specs,
	})
	if err != nil {
		e.log.Warn("character query failed",
			zap.String("realm", item.Realm), zap.String("name", item.Name),
			zap.String("query", echo), zap.Error(err))
		if !e.probeRateLimit(now) {
			e.mu.Lock()
			e.pauseUntil = now.Add(e.settings.Timers.FailurePause)
			e.mu.Unlock()
		}
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ch := e.store.Get(item.Realm, item.Name)
	if res != nil {
		mergeRankings(ch, res, zone, specs)
	}
	// Stamp even without data so the next rebuild does not reprobe.
	e.store.Update(ch, now.Unix())
	e.q.Advance()
	return true
}

// mergeRankings starts each zone-size key from a cleared ranking and
// accumulates the fetch's spec payloads into it, per-position best wins.
// A size the fetch returned nothing for loses its stored entry: only the
// latest known ranking is kept.
func mergeRankings(ch *player.Character, res *wcl.CharacterRankings, zone *data.Zone, specs []wcl.Spec) {
	if ch.Class == 0 && res.ClassID != 0 {
		ch.Class = res.ClassID
	}
	for _, size := range zone.Sizes {
		fresh := &player.Ranking{}
		for _, spec := range specs {
			payload := res.Payloads[size][spec.ID]
			if payload == nil {
				continue
			}
			sr := player.SpecRankings{
				BestAverage:   payload.BestPerformanceAverage,
				MedianAverage: payload.MedianPerformanceAverage,
				Ranks:         make([]player.EncounterRank, len(payload.Rankings)),
			}
			for i, rk := range payload.Rankings {
				sr.Ranks[i] = player.EncounterRank{
					RankPercent:   rk.RankPercent,
					MedianPercent: rk.MedianPercent,
				}
			}
			fresh.MergeSpec(spec.ID, sr)
		}
		key := player.RankingKey(zone.ID, size)
		if fresh.EncountersTotal > 0 || len(fresh.Allstars) > 0 {
			ch.Rankings[key] = fresh
		} else {
			delete(ch.Rankings, key)
		}
	}
}

// probeRateLimit queries the LogService accounting and reconciles the
// governor. Returns false when the probe itself failed.
func (e *Engine) probeRateLimit(now time.Time) bool {
	ctx, cancel := context.WithTimeout(context.Background(), e.settings.API.HTTPTimeout)
	defer cancel()
	rl, err := e.fetcher.QueryRateLimit(ctx)
	if err != nil {
		e.log.Warn("rate limit query failed", zap.Error(err))
		return false
	}
	e.mu.Lock()
	e.gov.Reconcile(rl.LimitPerHour, rl.PointsSpentThisHour,
		time.Duration(rl.PointsResetIn)*time.Second, now)
	e.mu.Unlock()
	return true
}

// maybeReload exports and rereads the addon data when a save file changed.
// The stat high-water-mark is the authority; the watcher hint catches
// rewrites hidden by mtime granularity.
func (e *Engine) maybeReload(now time.Time) {
	gameDir := e.gameDir()
	if gameDir == "" {
		e.reloadHint.Store(false)
		return
	}
	newest := e.codec.NewestSave(gameDir)
	hint := e.reloadHint.Swap(false)
	if !newest.After(e.highWater) && !hint {
		return
	}
	// Export first so user-made changes in the store are preserved.
	e.flushExport(now)
	e.reload(now, true)
	e.highWater = newest
}

// reload rereads all addon sources and rebuilds the queue.
func (e *Engine) reload(now time.Time, logIt bool) {
	gameDir := e.gameDir()
	e.mu.Lock()
	e.base = e.codec.ReadAll(gameDir, e.store, now.Unix())
	realms := e.store.Realms()
	chars := e.store.Len()
	e.mu.Unlock()
	e.view.SetRealmList(realms)
	if logIt {
		e.log.Info("addon data reloaded", zap.Int("characters", chars))
	}
	e.rebuildQueue(now)
}

// rebuildQueue swaps in a fresh queue snapshot atomically.
func (e *Engine) rebuildQueue(now time.Time) {
	opts := queue.DefaultOptions()
	opts.IntervalTurbo = int64(e.settings.Intervals.Turbo / time.Second)
	opts.IntervalFast = int64(e.settings.Intervals.Fast / time.Second)
	opts.IntervalSlow = int64(e.settings.Intervals.Slow / time.Second)

	e.mu.Lock()
	e.q = queue.Build(e.store.Snapshot(), now.Unix(), opts)
	size := e.q.Len()
	e.mu.Unlock()
	e.lastRebuild = now
	e.log.Debug("queue rebuilt", zap.Int("items", size))
}

// flushExport writes the addon export file. Write failures are logged and
// leave the dirty flags intact so the next flush retries.
func (e *Engine) flushExport(now time.Time) {
	gameDir := e.gameDir()
	if gameDir == "" {
		return
	}
	e.mu.Lock()
	err := e.codec.WriteAppData(gameDir, e.store, now.Unix())
	e.mu.Unlock()
	if err != nil {
		e.log.Error("export write failed", zap.Error(err))
	}
}

// ManualRefresh updates one character immediately, bypassing the queue and
// the governor's reservation. Returns the user-facing result line.
func (e *Engine) ManualRefresh(realm, name string) string {
	now := e.now()
	e.view.SetManual(realm, name)

	e.mu.Lock()
	ch := e.store.Get(realm, name)
	specs := e.specsFor(ch.Class)
	region := e.base.Region(realm)
	zone := e.zones.Active()
	hasCreds := e.cfg.HasCredentials()
	e.mu.Unlock()

	result := ""
	switch {
	case !hasCreds:
		result = "No API credentials configured"
	case len(specs) == 0:
		result = fmt.Sprintf("Unknown class for %s-%s", name, realm)
	default:
		ctx, cancel := context.WithTimeout(context.Background(), e.settings.API.HTTPTimeout)
		defer cancel()
		res, _, err := e.fetcher.QueryCharacter(ctx, wcl.CharacterQuery{
			Name: name, Realm: realm, Region: region, Zone: zone.ID, Specs: specs,
		})
		switch {
		case err != nil:
			result = fmt.Sprintf("Update failed for %s-%s: %v", name, realm, err)
		case res == nil:
			result = fmt.Sprintf("No logs found for %s-%s", name, realm)
			e.mu.Lock()
			e.store.Update(ch, now.Unix())
			e.mu.Unlock()
		default:
			e.mu.Lock()
			mergeRankings(ch, res, zone, specs)
			e.store.Update(ch, now.Unix())
			e.mu.Unlock()
			result = fmt.Sprintf("Updated %s-%s", name, realm)
		}
		e.flushExport(now)
	}

	e.view.SetManualResult(result)
	return result
}

// SetGameDir persists the new game directory and synchronously rereads the
// addon data from it.
func (e *Engine) SetGameDir(dir string) error {
	e.mu.Lock()
	e.cfg.GameDir = dir
	err := e.cfg.Save()
	id, secret := e.cfg.APIID, e.cfg.APISecret
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.view.SetConfig(dir, id, secret)
	e.highWater = time.Time{}
	e.reload(e.now(), true)
	if e.watcher != nil {
		e.watcher.Watch(e.codec.SavedVariablesDirs(dir))
	}
	return nil
}

// SetAPICredentials persists new credentials and resets the token cache.
func (e *Engine) SetAPICredentials(id, secret string) error {
	e.mu.Lock()
	e.cfg.APIID = id
	e.cfg.APISecret = secret
	err := e.cfg.Save()
	gameDir := e.cfg.GameDir
	e.fetcher.SetCredentials(id, secret)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.view.SetConfig(gameDir, id, secret)
	return nil
}

// QueueStatus reports the remaining work counts.
func (e *Engine) QueueStatus() queue.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.q.RefreshStatus()
}

func (e *Engine) gameDir() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.GameDir
}

// specsFor maps a class id to its query shape. Empty for unknown classes.
// Caller holds the engine mutex.
func (e *Engine) specsFor(classID int) []wcl.Spec {
	ordered := e.base.SpecsOrdered(classID)
	specs := make([]wcl.Spec, 0, len(ordered))
	for _, s := range ordered {
		specs = append(specs, wcl.Spec{ID: s.ID, Slug: s.Slug, Metric: s.Metric})
	}
	return specs
}
