// Package view is the shared state record between the worker and the GUI
// shell. The worker publishes status under the bridge's own mutex and
// requests repaints without ever blocking on the GUI.
package view

import "sync"

// State is a copy of the bridge fields, safe to read without the lock.
type State struct {
	GameDir      string
	APIID        string
	APISecret    string
	ManualRealm  string
	ManualPlayer string
	ManualResult string
	StatusText   string
	RealmList    []string
}

// Bridge holds the shared record. Lock order is engine → view; the worker
// holds this mutex for single field updates only.
type Bridge struct {
	mu    sync.Mutex
	state State

	// repaint is the GUI's repaint capability: a one-slot channel so a
	// stalled GUI never backpressures the worker.
	repaint chan struct{}
}

func NewBridge() *Bridge {
	return &Bridge{repaint: make(chan struct{}, 1)}
}

// Snapshot returns a copy of the current state.
func (b *Bridge) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state
	st.RealmList = append([]string(nil), b.state.RealmList...)
	return st
}

// SetStatus publishes the status line and requests a repaint. The worker
// calls this at most once per iteration.
func (b *Bridge) SetStatus(text string) {
	b.mu.Lock()
	changed := b.state.StatusText != text
	b.state.StatusText = text
	b.mu.Unlock()
	if changed {
		b.RequestRepaint()
	}
}

// Status returns the current status line.
func (b *Bridge) Status() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.StatusText
}

// SetConfig mirrors the persisted configuration fields.
func (b *Bridge) SetConfig(gameDir, apiID, apiSecret string) {
	b.mu.Lock()
	b.state.GameDir = gameDir
	b.state.APIID = apiID
	b.state.APISecret = apiSecret
	b.mu.Unlock()
	b.RequestRepaint()
}

// SetRealmList publishes the known realms for the manual-refresh picker.
func (b *Bridge) SetRealmList(realms []string) {
	b.mu.Lock()
	b.state.RealmList = append([]string(nil), realms...)
	b.mu.Unlock()
}

// SetManual records the manual-refresh input fields.
func (b *Bridge) SetManual(realm, name string) {
	b.mu.Lock()
	b.state.ManualRealm = realm
	b.state.ManualPlayer = name
	b.mu.Unlock()
}

// SetManualResult publishes the outcome of a manual refresh.
func (b *Bridge) SetManualResult(result string) {
	b.mu.Lock()
	b.state.ManualResult = result
	b.mu.Unlock()
	b.RequestRepaint()
}

// RequestRepaint makes a non-blocking repaint attempt.
func (b *Bridge) RequestRepaint() {
	select {
	case b.repaint <- struct{}{}:
	default:
	}
}

// Repaints is consumed by the GUI shell.
func (b *Bridge) Repaints() <-chan struct{} {
	return b.repaint
}
