package addon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ForsakenNGS/LogTrackerApp/internal/player"
)

// SavedVariablesName is the addon's per-account dump filename.
const SavedVariablesName = "LogTracker.lua"

const (
	baseDataRelPath = "Interface/AddOns/LogTracker_BaseData/LogTracker_BaseData.lua"
	appDataRelPath  = "Interface/AddOns/LogTracker/AppData.lua"
)

// Codec moves character data between the game directory and the player
// store: saved variables and BaseData in, the AppData export out.
type Codec struct {
	log *zap.Logger
}

func NewCodec(log *zap.Logger) *Codec {
	return &Codec{log: log}
}

// SavedVariablesFiles walks WTF/Account/*/SavedVariables for the addon's
// dumps. A missing or malformed game directory yields an empty list.
func (c *Codec) SavedVariablesFiles(gameDir string) []string {
	if gameDir == "" {
		return nil
	}
	pattern := filepath.Join(gameDir, "WTF", "Account", "*", "SavedVariables", SavedVariablesName)
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	return files
}

// SavedVariablesDirs returns the per-account SavedVariables directories,
// for the filesystem watcher.
func (c *Codec) SavedVariablesDirs(gameDir string) []string {
	if gameDir == "" {
		return nil
	}
	pattern := filepath.Join(gameDir, "WTF", "Account", "*", "SavedVariables")
	dirs, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	return dirs
}

// BaseDataPath returns the reference-table dump location.
func BaseDataPath(gameDir string) string {
	return filepath.Join(gameDir, filepath.FromSlash(baseDataRelPath))
}

// AppDataPath returns the export file location.
func AppDataPath(gameDir string) string {
	return filepath.Join(gameDir, filepath.FromSlash(appDataRelPath))
}

// NewestSave returns the most recent modification time across the saved
// variables files, the reload high-water-mark input.
func (c *Codec) NewestSave(gameDir string) time.Time {
	var newest time.Time
	for _, f := range c.SavedVariablesFiles(gameDir) {
		if info, err := os.Stat(f); err == nil && info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest
}

// ReadAll loads BaseData, every saved-variables file and the previous
// export into the store. Malformed files are logged and skipped; a missing
// game directory yields empty reference tables.
func (c *Codec) ReadAll(gameDir string, store *player.Store, now int64) *BaseData {
	base := EmptyBaseData()
	if gameDir == "" {
		return base
	}

	if src, err := os.ReadFile(BaseDataPath(gameDir)); err == nil {
		parsed, perr := ParseBaseData(string(src))
		if perr != nil {
			c.log.Warn("base data unreadable", zap.Error(perr))
		} else {
			base = parsed
		}
	}

	// Previous export first: saved variables are fresher and overwrite.
	if src, err := os.ReadFile(AppDataPath(gameDir)); err == nil {
		exported, perr := ParseAppData(string(src))
		if perr != nil {
			c.log.Warn("app data unreadable", zap.Error(perr))
		} else {
			c.absorbExport(store, exported)
		}
	}

	for _, file := range c.SavedVariablesFiles(gameDir) {
		src, err := os.ReadFile(file)
		if err != nil {
			c.log.Warn("saved variables unreadable", zap.String("file", file), zap.Error(err))
			continue
		}
		realms, perr := ParseSavedVariables(string(src))
		if perr != nil {
			c.log.Warn("saved variables malformed", zap.String("file", file), zap.Error(perr))
			continue
		}
		c.absorbSaved(store, realms, now)
	}
	return base
}

// absorbSaved merges addon-tracked records into the store. A record is
// stamped dirty only when a field actually changed.
func (c *Codec) absorbSaved(store *player.Store, realms map[string]map[string]SavedCharacter, now int64) {
	for realm, chars := range realms {
		for name, sv := range chars {
			ch := store.Get(realm, name)
			changed := false
			if sv.LastUpdate > ch.LastSeen {
				ch.LastSeen = sv.LastUpdate
				changed = true
			}
			if sv.LastUpdateLogs > ch.LastLogs {
				ch.LastLogs = sv.LastUpdateLogs
			}
			if sv.Priority != ch.Priority {
				ch.Priority = sv.Priority
				changed = true
			}
			if sv.Faction != "Unknown" && sv.Faction != ch.Faction {
				ch.Faction = sv.Faction
				changed = true
			}
			if sv.Class != 0 && sv.Class != ch.Class {
				ch.Class = sv.Class
				changed = true
			}
			if sv.Level != 0 && sv.Level != ch.Level {
				ch.Level = sv.Level
				changed = true
			}
			if len(sv.Encounters) > 0 {
				ch.Encounters = sv.Encounters
			}
			if changed {
				store.Touch(ch, now)
			}
		}
	}
}

// absorbExport restores the previous export. Restored records are not
// dirty: a cold restart produces an empty export until new data arrives.
func (c *Codec) absorbExport(store *player.Store, realms map[string]map[string]*ExportedCharacter) {
	for realm, chars := range realms {
		for name, ec := range chars {
			ch := store.Get(realm, name)
			if ec.LastUpdate <= ch.LastUpdate {
				continue
			}
			ch.Faction = ec.Faction
			ch.Class = ec.Class
			ch.Level = ec.Level
			if ec.LastSeen > ch.LastSeen {
				ch.LastSeen = ec.LastSeen
			}
			if ec.LastLogs > ch.LastLogs {
				ch.LastLogs = ec.LastLogs
			}
			ch.Rankings = ec.Rankings
			ch.LastUpdate = ec.LastUpdate
			ch.LastExported = ec.LastUpdate
		}
	}
}

// WriteAppData emits the export for every dirty character, atomically via
// temp-and-rename, and stamps the written records exported. On failure
// nothing is stamped, so the next flush retries.
func (c *Codec) WriteAppData(gameDir string, store *player.Store, now int64) error {
	if gameDir == "" {
		return nil
	}
	target := AppDataPath(gameDir)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create addon dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "AppData-*.lua")
	if err != nil {
		return fmt.Errorf("create export temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := writeAppData(tmp, store.Snapshot())
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("replace export: %w", err)
	}

	for _, ch := range written {
		store.MarkExported(ch.Realm, ch.Name, now)
	}
	c.log.Debug("export written", zap.Int("characters", len(written)))
	return nil
}
