package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// SaveStatus drives the "saving" indicator.
type SaveStatus string

const (
	SaveStatusIdle   SaveStatus = "idle"
	SaveStatusSaving SaveStatus = "saving"
)

// Autosaver debounces persistence of the answer store. Edits inside the
// window collapse into one save of the latest state. Failed saves are not
// retried; the next edit or SaveNow tries again.
type Autosaver struct {
	clock    clockwork.Clock
	window   time.Duration
	save     func(ctx context.Context) error
	onStatus func(SaveStatus)
	log      zerolog.Logger

	mu      sync.Mutex
	active  bool
	timer   clockwork.Timer
	seq     uint64
	lastErr error
}

// NewAutosaver creates a paused Autosaver.
func NewAutosaver(clock clockwork.Clock, window time.Duration, save func(ctx context.Context) error, onStatus func(SaveStatus), log zerolog.Logger) *Autosaver {
	return &Autosaver{
		clock:    clock,
		window:   window,
		save:     save,
		onStatus: onStatus,
		log:      log.With().Str("component", "autosave").Logger(),
	}
}

// Resume allows Schedule to arm the debounce timer.
func (a *Autosaver) Resume() {
	a.mu.Lock()
	a.active = true
	a.mu.Unlock()
}

// Pause drops any pending save and ignores Schedule until Resume.
func (a *Autosaver) Pause() {
	a.mu.Lock()
	a.active = false
	a.cancelLocked()
	a.mu.Unlock()
}

// Schedule (re)starts the debounce window.
func (a *Autosaver) Schedule() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		return
	}
	a.cancelLocked()
	seq := a.seq
	a.timer = a.clock.AfterFunc(a.window, func() { a.fire(seq) })
}

// Pending reports whether a debounced save is armed.
func (a *Autosaver) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil
}

// SaveNow bypasses the debounce window.
func (a *Autosaver) SaveNow(ctx context.Context) error {
	a.mu.Lock()
	a.cancelLocked()
	a.mu.Unlock()
	return a.run(ctx)
}

// Flush saves immediately if a debounced save is pending.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	pending := a.timer != nil
	a.cancelLocked()
	a.mu.Unlock()

	if !pending {
		return nil
	}
	return a.run(ctx)
}

// LastError returns the error of the most recent save, nil if it succeeded.
func (a *Autosaver) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// cancelLocked invalidates the armed timer. Bumping seq makes a timer whose
// callback already started a no-op.
func (a *Autosaver) cancelLocked() {
	a.seq++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Autosaver) fire(seq uint64) {
	a.mu.Lock()
	if !a.active || seq != a.seq {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	a.mu.Unlock()

	_ = a.run(context.Background())
}

func (a *Autosaver) run(ctx context.Context) error {
	a.status(SaveStatusSaving)
	err := a.save(ctx)

	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()

	if err != nil {
		a.log.Warn().Err(err).Msg("Autosave failed")
	}
	a.status(SaveStatusIdle)
	return err
}

func (a *Autosaver) status(st SaveStatus) {
	if a.onStatus != nil {
		a.onStatus(st)
	}
}
