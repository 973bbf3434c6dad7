package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ErrDriverNotIdle is returned when Start is called on a driver that already left idle.
var ErrDriverNotIdle = errors.New("timer driver is not idle")

// DriverState is the lifecycle state of a timer driver.
type DriverState string

const (
	DriverIdle    DriverState = "idle"
	DriverRunning DriverState = "running"
	DriverExpired DriverState = "expired"
	DriverStopped DriverState = "stopped"
)

// DriverMode names the mechanism producing ticks.
type DriverMode string

const (
	// ModeWorker runs the countdown in an isolated goroutine that only talks
	// to the driver through messages, falling back to polling on failure.
	ModeWorker DriverMode = "worker"
	// ModePolling recomputes the remaining time from the driver's own ticker.
	ModePolling DriverMode = "polling"
)

// TickFunc receives the remaining seconds once per interval.
type TickFunc func(remaining int)

// ExpireFunc is called once when the countdown reaches zero.
type ExpireFunc func()

// Driver emits remaining-time ticks for a Deadline.
type Driver interface {
	Start(d Deadline, onTick TickFunc, onExpire ExpireFunc) error
	// Stop is idempotent and safe from any state, including from onExpire.
	Stop()
	State() DriverState
	Mode() DriverMode
}

// Resyncer is implemented by drivers that can recompute on demand, e.g. when
// a hidden client becomes visible again.
type Resyncer interface {
	Resync()
}

// TimerMessage is posted by an isolated countdown.
type TimerMessage struct {
	Remaining int
	Expired   bool
	Err       error
}

// Spawner starts an isolated countdown for d that posts to out until ctx is
// done. A returned error means the isolated context could not be created.
type Spawner func(ctx context.Context, d Deadline, clock clockwork.Clock, interval time.Duration, out chan<- TimerMessage) error

// GoroutineSpawner runs the countdown in its own goroutine. Panics inside the
// countdown are reported as messages.
func GoroutineSpawner(ctx context.Context, d Deadline, clock clockwork.Clock, interval time.Duration, out chan<- TimerMessage) error {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				post(ctx, out, TimerMessage{Err: fmt.Errorf("countdown panicked: %v", r)})
			}
		}()
		runCountdown(ctx, d, clock, interval, out)
	}()
	return nil
}

func runCountdown(ctx context.Context, d Deadline, clock clockwork.Clock, interval time.Duration, out chan<- TimerMessage) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		remaining := d.Remaining(clock.Now())
		if remaining <= 0 {
			post(ctx, out, TimerMessage{Expired: true})
			return
		}
		if !post(ctx, out, TimerMessage{Remaining: remaining}) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func post(ctx context.Context, out chan<- TimerMessage, msg TimerMessage) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// DriverOptions configures NewDriver.
type DriverOptions struct {
	Mode     DriverMode
	Clock    clockwork.Clock
	Interval time.Duration
	Spawner  Spawner
	Log      zerolog.Logger
}

// NewDriver builds the driver for opts.Mode. Worker mode falls back to
// polling whenever the isolated countdown cannot run.
func NewDriver(opts DriverOptions) Driver {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}

	if opts.Mode == ModePolling {
		return NewPollingDriver(opts.Clock, opts.Interval)
	}
	if opts.Spawner == nil {
		opts.Spawner = GoroutineSpawner
	}
	return &WorkerDriver{
		clock:    opts.Clock,
		interval: opts.Interval,
		spawn:    opts.Spawner,
		log:      opts.Log.With().Str("component", "timer_driver").Logger(),
		state:    DriverIdle,
		mode:     ModeWorker,
	}
}

// ─── Polling driver ───────────────────────────────────────────────────

// PollingDriver recomputes the remaining time on its own ticker.
type PollingDriver struct {
	clock    clockwork.Clock
	interval time.Duration

	mu       sync.Mutex
	state    DriverState
	deadline Deadline
	onTick   TickFunc
	onExpire ExpireFunc
	stop     chan struct{}
	stopOnce sync.Once
	resync   chan struct{}
}

// NewPollingDriver creates an idle PollingDriver.
func NewPollingDriver(clock clockwork.Clock, interval time.Duration) *PollingDriver {
	return &PollingDriver{
		clock:    clock,
		interval: interval,
		state:    DriverIdle,
		stop:     make(chan struct{}),
		resync:   make(chan struct{}, 1),
	}
}

func (p *PollingDriver) Start(d Deadline, onTick TickFunc, onExpire ExpireFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != DriverIdle {
		return ErrDriverNotIdle
	}
	p.state = DriverRunning
	p.deadline = d
	p.onTick = onTick
	p.onExpire = onExpire

	go p.loop()
	return nil
}

func (p *PollingDriver) loop() {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	if p.check() {
		return
	}
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.Chan():
		case <-p.resync:
		}
		if p.check() {
			return
		}
	}
}

// check emits one tick or the expiry. It returns true once the loop should end.
func (p *PollingDriver) check() bool {
	p.mu.Lock()
	if p.state != DriverRunning {
		p.mu.Unlock()
		return true
	}

	remaining := p.deadline.Remaining(p.clock.Now())
	if remaining > 0 {
		onTick := p.onTick
		p.mu.Unlock()
		onTick(remaining)
		return false
	}

	p.state = DriverExpired
	onExpire := p.onExpire
	p.mu.Unlock()

	onExpire()
	p.Stop()
	return true
}

// Resync recomputes immediately instead of waiting for the next tick.
func (p *PollingDriver) Resync() {
	select {
	case p.resync <- struct{}{}:
	default:
	}
}

func (p *PollingDriver) Stop() {
	p.mu.Lock()
	p.state = DriverStopped
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *PollingDriver) State() DriverState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PollingDriver) Mode() DriverMode { return ModePolling }

// ─── Worker driver ────────────────────────────────────────────────────

// WorkerDriver consumes messages from an isolated countdown. It shares no
// state with the countdown besides the message channel.
type WorkerDriver struct {
	clock    clockwork.Clock
	interval time.Duration
	spawn    Spawner
	log      zerolog.Logger

	mu       sync.Mutex
	state    DriverState
	mode     DriverMode
	deadline Deadline
	onTick   TickFunc
	onExpire ExpireFunc
	cancel   context.CancelFunc
	fallback *PollingDriver
}

func (w *WorkerDriver) Start(d Deadline, onTick TickFunc, onExpire ExpireFunc) error {
	w.mu.Lock()
	if w.state != DriverIdle {
		w.mu.Unlock()
		return ErrDriverNotIdle
	}
	w.state = DriverRunning
	w.deadline = d
	w.onTick = onTick
	w.onExpire = onExpire

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	out := make(chan TimerMessage, 1)

	if err := w.spawn(ctx, d, w.clock, w.interval, out); err != nil {
		w.mu.Unlock()
		w.fallBack(err)
		return nil
	}
	w.mu.Unlock()

	go w.dispatch(ctx, out)
	return nil
}

func (w *WorkerDriver) dispatch(ctx context.Context, out <-chan TimerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-out:
			switch {
			case msg.Err != nil:
				w.fallBack(msg.Err)
				return
			case msg.Expired:
				w.expire()
				return
			default:
				w.tick(msg.Remaining)
			}
		}
	}
}

// fallBack replaces the isolated countdown with a polling driver. The
// countdown continues without the caller noticing.
func (w *WorkerDriver) fallBack(cause error) {
	w.mu.Lock()
	if w.state != DriverRunning {
		w.mu.Unlock()
		return
	}
	w.cancel()
	w.mode = ModePolling
	fb := NewPollingDriver(w.clock, w.interval)
	w.fallback = fb
	d := w.deadline
	w.mu.Unlock()

	w.log.Warn().Err(cause).Msg("Isolated countdown unavailable, falling back to polling")
	_ = fb.Start(d, w.tick, w.expire)
}

func (w *WorkerDriver) tick(remaining int) {
	w.mu.Lock()
	running := w.state == DriverRunning
	onTick := w.onTick
	w.mu.Unlock()

	if running {
		onTick(remaining)
	}
}

func (w *WorkerDriver) expire() {
	w.mu.Lock()
	if w.state != DriverRunning {
		w.mu.Unlock()
		return
	}
	w.state = DriverExpired
	onExpire := w.onExpire
	w.mu.Unlock()

	onExpire()
	w.Stop()
}

// Resync is forwarded to the fallback; the isolated countdown does not drift.
func (w *WorkerDriver) Resync() {
	w.mu.Lock()
	fb := w.fallback
	w.mu.Unlock()

	if fb != nil {
		fb.Resync()
	}
}

func (w *WorkerDriver) Stop() {
	w.mu.Lock()
	w.state = DriverStopped
	cancel := w.cancel
	fb := w.fallback
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if fb != nil {
		fb.Stop()
	}
}

func (w *WorkerDriver) State() DriverState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *WorkerDriver) Mode() DriverMode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}
