package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ForsakenNGS/LogTrackerApp/internal/addon"
	"github.com/ForsakenNGS/LogTrackerApp/internal/config"
	"github.com/ForsakenNGS/LogTrackerApp/internal/data"
	"github.com/ForsakenNGS/LogTrackerApp/internal/player"
	"github.com/ForsakenNGS/LogTrackerApp/internal/view"
	"github.com/ForsakenNGS/LogTrackerApp/internal/wcl"
)

// stubFetcher scripts the LogService responses.
type stubFetcher struct {
	charFn    func(q wcl.CharacterQuery) (*wcl.CharacterRankings, string, error)
	rlFn      func() (*wcl.RateLimit, error)
	charCalls int
	rlCalls   int
}

func (s *stubFetcher) QueryCharacter(_ context.Context, q wcl.CharacterQuery) (*wcl.CharacterRankings, string, error) {
	s.charCalls++
	if s.charFn == nil {
		return nil, "", nil
	}
	return s.charFn(q)
}

func (s *stubFetcher) QueryRateLimit(context.Context) (*wcl.RateLimit, error) {
	s.rlCalls++
	if s.rlFn == nil {
		return &wcl.RateLimit{LimitPerHour: 18000, PointsSpentThisHour: 100, PointsResetIn: 1800}, nil
	}
	return s.rlFn()
}

func (s *stubFetcher) SetCredentials(_, _ string) {}

func testBaseData() *addon.BaseData {
	base := addon.EmptyBaseData()
	base.Classes[6] = &addon.Class{
		ID: 6, Name: "Death Knight", Slug: "DeathKnight",
		Specs: map[int]*addon.ClassSpec{
			1: {ID: 1, Name: "Blood", Slug: "Blood", Metric: "dps"},
		},
	}
	base.RegionByServer["Everlook"] = "eu"
	return base
}

func newTestEngine(t *testing.T, stub *stubFetcher) *Engine {
	t.Helper()
	cfg, err := config.LoadAppFrom(filepath.Join(t.TempDir(), "config"))
	require.NoError(t, err)
	cfg.APIID = "id"
	cfg.APISecret = "secret"

	settings, err := config.LoadSettings(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	zones, err := data.LoadZoneTable("")
	require.NoError(t, err)

	log := zap.NewNop()
	e := New(cfg, settings, zones, addon.NewCodec(log), stub, view.NewBridge(), log)
	e.base = testBaseData()
	return e
}

// seedCharacter plants one queueable character and rebuilds the queue.
func seedCharacter(e *Engine, now time.Time) *player.Character {
	ch := e.store.Get("Everlook", "Arthas")
	ch.Class = 6
	ch.Level = 80
	e.rebuildQueue(now)
	return ch
}

func TestIterateNoLogsDoesNotLoop(t *testing.T) {
	stub := &stubFetcher{
		charFn: func(q wcl.CharacterQuery) (*wcl.CharacterRankings, string, error) {
			return nil, "echo", nil // reachable, no logs
		},
	}
	e := newTestEngine(t, stub)
	now := time.Unix(1800000000, 0)
	e.now = func() time.Time { return now }
	ch := seedCharacter(e, now)
	require.Equal(t, 1, e.q.Len())

	delay := e.iterate()

	assert.Equal(t, 1, stub.charCalls)
	assert.Equal(t, 10*time.Millisecond, delay)
	assert.Equal(t, now.Unix(), ch.LastLogs)
	assert.True(t, e.q.Empty())
	assert.Equal(t, "Updated 1 / 1 (100 / 18000 points used)", e.view.Status())

	// The next rebuild must not requeue the freshly stamped character.
	e.rebuildQueue(now.Add(time.Minute))
	assert.Equal(t, 0, e.q.Len())
	assert.Equal(t, 1, stub.charCalls)
}

func TestIterateMergesRankings(t *testing.T) {
	stub := &stubFetcher{
		charFn: func(q wcl.CharacterQuery) (*wcl.CharacterRankings, string, error) {
			return &wcl.CharacterRankings{
				ClassID: 6,
				Payloads: map[int]map[int]*wcl.ZoneRankings{
					10: {1: {
						BestPerformanceAverage:   77.4,
						MedianPerformanceAverage: 61.2,
						Rankings: []wcl.EncounterRank{
							{RankPercent: 99.6, MedianPercent: 80.1},
							{RankPercent: 0, MedianPercent: 0},
						},
					}},
					25: {},
				},
			}, "echo", nil
		},
	}
	e := newTestEngine(t, stub)
	now := time.Unix(1800000000, 0)
	e.now = func() time.Time { return now }
	ch := seedCharacter(e, now)
	// A stale 25-player entry from an earlier fetch; this fetch has no
	// 25-player data, so the entry must go.
	ch.Rankings["1017-25"] = &player.Ranking{EncountersTotal: 5, EncountersKilled: 5}

	e.iterate()

	r := ch.Rankings["1017-10"]
	require.NotNil(t, r)
	assert.Equal(t, 2, r.EncountersTotal)
	assert.Equal(t, 1, r.EncountersKilled)
	assert.Equal(t, player.Rating{Spec: 1, Best: 100, Median: 80}, r.Encounters[0])
	require.Len(t, r.Allstars, 1)
	assert.Nil(t, ch.Rankings["1017-25"])
	assert.True(t, ch.Dirty())
}

func TestIterateTransportFailureRetries(t *testing.T) {
	queryErr := errors.New("connection reset")

	t.Run("reconcile succeeds, head is retried", func(t *testing.T) {
		stub := &stubFetcher{
			charFn: func(q wcl.CharacterQuery) (*wcl.CharacterRankings, string, error) {
				return nil, "echo", queryErr
			},
		}
		e := newTestEngine(t, stub)
		now := time.Unix(1800000000, 0)
		e.now = func() time.Time { return now }
		seedCharacter(e, now)

		delay := e.iterate()

		assert.Equal(t, time.Second, delay)
		assert.Equal(t, 0, e.q.Pos())
		assert.False(t, e.q.Empty())
		assert.True(t, e.pauseUntil.IsZero())

		// Same head again on the next pass.
		e.iterate()
		assert.Equal(t, 2, stub.charCalls)
		assert.Equal(t, 0, e.q.Pos())
	})

	t.Run("reconcile fails too, loop pauses", func(t *testing.T) {
		stub := &stubFetcher{
			charFn: func(q wcl.CharacterQuery) (*wcl.CharacterRankings, string, error) {
				return nil, "echo", queryErr
			},
			rlFn: func() (*wcl.RateLimit, error) {
				return nil, errors.New("service unavailable")
			},
		}
		e := newTestEngine(t, stub)
		now := time.Unix(1800000000, 0)
		e.now = func() time.Time { return now }
		seedCharacter(e, now)
		e.lastProbe = now // keep the loop's own probe out of the way

		e.iterate()

		assert.Equal(t, 1, stub.charCalls)
		assert.Equal(t, now.Add(e.settings.Timers.FailurePause), e.pauseUntil)
		assert.Equal(t, 0, e.q.Pos())

		// While paused nothing is fetched; without a reconciled window
		// there is no reset clock to show.
		e.iterate()
		assert.Equal(t, 1, stub.charCalls)
		assert.Equal(t, "Rate limit reached! Retrying soon", e.view.Status())

		// Once a probe has succeeded the reset time is known.
		e.gov.Reconcile(18000, 17999, 30*time.Minute, now)
		e.iterate()
		assert.Contains(t, e.view.Status(), "Rate limit reached! Reset at ")
	})
}

func TestIterateReserveHoldsBackgroundWork(t *testing.T) {
	stub := &stubFetcher{}
	e := newTestEngine(t, stub)
	now := time.Unix(1800000000, 0)
	e.now = func() time.Time { return now }
	seedCharacter(e, now)
	e.lastProbe = now
	e.gov.Reconcile(18000, 17500, 59*time.Minute, now)

	e.iterate()

	assert.Equal(t, 0, stub.charCalls)
	st := e.view.Status()
	assert.Contains(t, st, "Reserving 500 points until ")
	assert.Contains(t, st, "(Reset at ")
}

func TestIterateIdleWithoutWork(t *testing.T) {
	stub := &stubFetcher{}
	e := newTestEngine(t, stub)
	now := time.Unix(1800000000, 0)
	e.now = func() time.Time { return now }
	e.rebuildQueue(now)

	e.iterate()

	assert.Equal(t, "Update completed.", e.view.Status())
	assert.Equal(t, 0, stub.charCalls)
	assert.Equal(t, 0, stub.rlCalls)
}

func TestStartStop(t *testing.T) {
	stub := &stubFetcher{}
	e := newTestEngine(t, stub)
	e.Start()

	stopped := make(chan struct{})
	go func() {
		e.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop in time")
	}

	// Stop is idempotent.
	e.Stop()
}

func TestManualRefresh(t *testing.T) {
	now := time.Unix(1800000000, 0)

	t.Run("no credentials", func(t *testing.T) {
		stub := &stubFetcher{}
		e := newTestEngine(t, stub)
		e.now = func() time.Time { return now }
		e.cfg.APIID = ""
		assert.Equal(t, "No API credentials configured", e.ManualRefresh("Everlook", "Arthas"))
		assert.Equal(t, 0, stub.charCalls)
	})

	t.Run("unknown class", func(t *testing.T) {
		stub := &stubFetcher{}
		e := newTestEngine(t, stub)
		e.now = func() time.Time { return now }
		assert.Equal(t, "Unknown class for Nobody-Everlook", e.ManualRefresh("Everlook", "Nobody"))
	})

	t.Run("no logs", func(t *testing.T) {
		stub := &stubFetcher{}
		e := newTestEngine(t, stub)
		e.now = func() time.Time { return now }
		e.store.Get("Everlook", "Arthas").Class = 6
		assert.Equal(t, "No logs found for Arthas-Everlook", e.ManualRefresh("Everlook", "Arthas"))
		assert.Equal(t, now.Unix(), e.store.Lookup("Everlook", "Arthas").LastLogs)
	})

	t.Run("query failure", func(t *testing.T) {
		stub := &stubFetcher{
			charFn: func(q wcl.CharacterQuery) (*wcl.CharacterRankings, string, error) {
				return nil, "", errors.New("boom")
			},
		}
		e := newTestEngine(t, stub)
		e.now = func() time.Time { return now }
		e.store.Get("Everlook", "Arthas").Class = 6
		assert.Equal(t, "Update failed for Arthas-Everlook: boom", e.ManualRefresh("Everlook", "Arthas"))
	})

	t.Run("success", func(t *testing.T) {
		stub := &stubFetcher{
			charFn: func(q wcl.CharacterQuery) (*wcl.CharacterRankings, string, error) {
				assert.Equal(t, "eu", q.Region)
				assert.Equal(t, 1017, q.Zone)
				return &wcl.CharacterRankings{
					ClassID: 6,
					Payloads: map[int]map[int]*wcl.ZoneRankings{
						10: {1: {BestPerformanceAverage: 50, Rankings: []wcl.EncounterRank{{RankPercent: 60}}}},
						25: {},
					},
				}, "", nil
			},
		}
		e := newTestEngine(t, stub)
		e.now = func() time.Time { return now }
		e.store.Get("Everlook", "Arthas").Class = 6

		assert.Equal(t, "Updated Arthas-Everlook", e.ManualRefresh("Everlook", "Arthas"))
		ch := e.store.Lookup("Everlook", "Arthas")
		require.NotNil(t, ch.Rankings["1017-10"])
		assert.Equal(t, now.Unix(), ch.LastLogs)
		assert.Equal(t, "Updated Arthas-Everlook", e.view.Snapshot().ManualResult)
	})
}

func TestQueueStatus(t *testing.T) {
	e := newTestEngine(t, &stubFetcher{})
	now := time.Unix(1800000000, 0)
	seedCharacter(e, now)

	st := e.QueueStatus()
	assert.Equal(t, 1, st.NewRegular)
}

func TestUnknownClassHeadIsStampedAndDropped(t *testing.T) {
	stub := &stubFetcher{}
	e := newTestEngine(t, stub)
	now := time.Unix(1800000000, 0)
	e.now = func() time.Time { return now }

	// Class 9 exists in the addon data but not in BaseData: queueable, yet
	// there is no query shape for it.
	ch := e.store.Get("Everlook", "Mystery")
	ch.Class = 9
	ch.Level = 80
	e.rebuildQueue(now)
	require.Equal(t, 1, e.q.Len())

	e.iterate()

	assert.Equal(t, 0, stub.charCalls)
	assert.True(t, e.q.Empty())
	assert.Equal(t, now.Unix(), ch.LastLogs)
}

const saveArthas = `LogTrackerDB = {
	["Everlook"] = {
		["Arthas"] = { ["lastUpdate"] = 1700000000, ["class"] = 6, ["level"] = 80 },
	},
}`

const saveArthasAndUther = `LogTrackerDB = {
	["Everlook"] = {
		["Arthas"] = { ["lastUpdate"] = 1700000000, ["class"] = 6, ["level"] = 80 },
		["Uther"] = { ["lastUpdate"] = 1700000200, ["class"] = 2, ["level"] = 80 },
	},
}`

func writeSave(t *testing.T, gameDir, content string) string {
	t.Helper()
	path := filepath.Join(gameDir, "WTF", "Account", "ACC1", "SavedVariables", addon.SavedVariablesName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestMaybeReloadHighWaterMark(t *testing.T) {
	e := newTestEngine(t, &stubFetcher{})
	gameDir := t.TempDir()
	e.cfg.GameDir = gameDir
	now := time.Unix(1800000000, 0)
	e.now = func() time.Time { return now }
	savePath := writeSave(t, gameDir, saveArthas)

	// First pass: the save file is newer than the (zero) high-water-mark.
	e.maybeReload(now)
	ch := e.store.Lookup("Everlook", "Arthas")
	require.NotNil(t, ch)
	assert.Equal(t, 6, ch.Class)
	assert.False(t, e.highWater.IsZero())

	// Give Arthas app-side state, then rewrite the save with a newer mtime.
	// The reload must export first, so the ranking survives to disk even
	// though the store is reread afterwards.
	ch.Rankings["1017-10"] = &player.Ranking{EncountersTotal: 1, EncountersKilled: 1,
		Encounters: []player.Rating{{Spec: 1, Best: 80, Median: 60}}}
	e.store.Touch(ch, now.Unix())

	writeSave(t, gameDir, saveArthasAndUther)
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(savePath, future, future))

	e.maybeReload(now)

	assert.NotNil(t, e.store.Lookup("Everlook", "Uther"))

	exported, err := os.ReadFile(addon.AppDataPath(gameDir))
	require.NoError(t, err)
	realms, err := addon.ParseAppData(string(exported))
	require.NoError(t, err)
	require.Contains(t, realms, "Everlook")
	require.Contains(t, realms["Everlook"], "Arthas")
	assert.NotNil(t, realms["Everlook"]["Arthas"].Rankings["1017-10"])
}

func TestMaybeReloadHint(t *testing.T) {
	e := newTestEngine(t, &stubFetcher{})
	gameDir := t.TempDir()
	e.cfg.GameDir = gameDir
	now := time.Unix(1800000000, 0)
	e.now = func() time.Time { return now }
	savePath := writeSave(t, gameDir, saveArthas)

	e.maybeReload(now)
	require.NotNil(t, e.store.Lookup("Everlook", "Arthas"))

	// Rewrite the save without moving its mtime: invisible to the stat
	// high-water-mark alone.
	info, err := os.Stat(savePath)
	require.NoError(t, err)
	writeSave(t, gameDir, saveArthasAndUther)
	require.NoError(t, os.Chtimes(savePath, info.ModTime(), info.ModTime()))

	e.maybeReload(now)
	assert.Nil(t, e.store.Lookup("Everlook", "Uther"))

	// The watcher hint catches what mtime granularity hides.
	e.reloadHint.Store(true)
	e.maybeReload(now)
	assert.NotNil(t, e.store.Lookup("Everlook", "Uther"))
	assert.False(t, e.reloadHint.Load())
}
