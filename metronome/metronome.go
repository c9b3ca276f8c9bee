// Package metronome is the beat clock of the drill: a count-in, accented bar
// positions and chord-change boundaries, scheduled against absolute deadlines
// so a long session keeps its tempo even when individual timers fire late.
package metronome

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Phase int

const (
	Stopped Phase = iota
	CountingIn
	Running
)

func (p Phase) String() string {
	switch p {
	case Stopped:
		return "stopped"
	case CountingIn:
		return "counting_in"
	case Running:
		return "running"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// TickSink produces the audible click for every beat, count-in included.
// Implementations should hand the work off and return quickly.
type TickSink interface {
	Tick(accent bool) error
}

type TickSinkFunc func(accent bool) error

func (f TickSinkFunc) Tick(accent bool) error { return f(accent) }

// ChordTrigger is invoked on chord change boundaries.
type ChordTrigger interface {
	ChangeChord() error
}

type ChordTriggerFunc func() error

func (f ChordTriggerFunc) ChangeChord() error { return f() }

// BeatFunc observes regular (non count-in) beats.
type BeatFunc func(beat int, accent bool)

// State is a snapshot of the engine's mutable state.
type State struct {
	Phase Phase
	// BeatCount is the bar position of the next beat to sound. Zero unless Running.
	BeatCount int
	// CountInBeat is the last count-in beat sounded. Zero unless CountingIn.
	CountInBeat  int
	NextDeadline time.Time
}

type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

func WithBeatFunc(fn BeatFunc) Option {
	return func(e *Engine) {
		e.onBeat = fn
	}
}

// WithCountInFunc observes count-in beats 1..4.
func WithCountInFunc(fn func(beat int)) Option {
	return func(e *Engine) {
		e.onCountIn = fn
	}
}

func WithChordTrigger(t ChordTrigger) Option {
	return func(e *Engine) {
		e.chord = t
	}
}

// WithResetFunc sets the hook Reset calls after stopping, for display state
// the caller owns.
func WithResetFunc(fn func()) Option {
	return func(e *Engine) {
		e.onReset = fn
	}
}

type Engine struct {
	clock     Clock
	logger    zerolog.Logger
	sink      TickSink
	chord     ChordTrigger
	onBeat    BeatFunc
	onCountIn func(int)
	onReset   func()

	mu     sync.Mutex
	cfg    Config
	staged *Config

	phase        Phase
	beatCount    int
	countInBeat  int
	nextDeadline time.Time
	timer        Timer
	// gen changes on every Start and Stop; callbacks and timers carrying an
	// older generation are dropped.
	gen uint64
}

// effect is what one tick must emit once the engine lock is released.
type effect struct {
	accent  bool
	beat    int
	countIn int
	chord   bool
}

func New(cfg Config, sink TickSink, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = TickSinkFunc(func(bool) error { return nil })
	}
	e := &Engine{
		clock:  SystemClock{},
		logger: zerolog.Nop(),
		sink:   sink,
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start begins a session. The first beat (or count-in beat) sounds before
// Start returns. Calling Start on an active engine does nothing.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.phase != Stopped {
		e.mu.Unlock()
		return
	}
	if e.staged != nil {
		e.cfg = *e.staged
		e.staged = nil
	}
	e.gen++
	gen := e.gen
	now := e.clock.Now()
	e.nextDeadline = now

	var fx effect
	if e.cfg.CountIn {
		e.phase = CountingIn
		e.countInBeat = 1
		e.beatCount = 0
		fx = effect{countIn: 1}
	} else {
		e.phase = Running
		e.beatCount = 1
		fx = e.runningBeatLocked()
	}
	e.logger.Debug().
		Str("phase", e.phase.String()).
		Int("bpm", e.cfg.BPM).
		Str("sig", e.cfg.TimeSignature.String()).
		Msg("metronome_start")
	e.mu.Unlock()

	e.dispatch(gen, fx)
	e.reschedule(gen, now)
}

// Stop cancels the pending beat and returns to Stopped. Once Stop returns no
// sink or callback invocation begins until the next Start. A collaborator
// already running on another goroutine is not waited for; it finishes, and
// the calls that would have followed it in the same tick are skipped.
// Collaborators may call Stop themselves.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

// Reset stops the engine and then runs the reset hook.
func (e *Engine) Reset() {
	e.Stop()
	if e.onReset != nil {
		e.onReset()
	}
}

// Reconfigure validates cfg and applies it. While a session is active the
// change is staged for the next Start; the running interval and the pending
// deadline are left alone. Stop and Start again for an immediate change.
func (e *Engine) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == Stopped {
		e.cfg = cfg
		e.staged = nil
		return nil
	}
	staged := cfg
	e.staged = &staged
	return nil
}

// Config returns the configuration of the current (or next) session,
// ignoring anything staged by Reconfigure while active.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Staged returns the configuration waiting for the next Start, if any.
func (e *Engine) Staged() (Config, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.staged == nil {
		return Config{}, false
	}
	return *e.staged, true
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Phase:        e.phase,
		BeatCount:    e.beatCount,
		CountInBeat:  e.countInBeat,
		NextDeadline: e.nextDeadline,
	}
}

func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase != Stopped
}

func (e *Engine) IsInCountIn() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase == CountingIn
}

func (e *Engine) BeatCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.beatCount
}

func (e *Engine) CountInBeat() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.countInBeat
}

func (e *Engine) stopLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.phase != Stopped {
		e.logger.Debug().Str("phase", e.phase.String()).Msg("metronome_stop")
	}
	e.gen++
	e.phase = Stopped
	e.beatCount = 0
	e.countInBeat = 0
	e.nextDeadline = time.Time{}
}

// fire runs one scheduled tick.
func (e *Engine) fire(gen uint64) {
	start := e.clock.Now()

	e.mu.Lock()
	if e.gen != gen || e.phase == Stopped {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	var fx effect
	switch e.phase {
	case CountingIn:
		if e.countInBeat < CountInBeats {
			e.countInBeat++
			fx = effect{countIn: e.countInBeat}
			break
		}
		// the slot after the last count-in beat is bar 1
		e.phase = Running
		e.countInBeat = 0
		e.beatCount = 1
		e.logger.Debug().Msg("count_in_done")
		fx = e.runningBeatLocked()
	case Running:
		fx = e.runningBeatLocked()
	}
	e.mu.Unlock()

	e.dispatch(gen, fx)
	e.reschedule(gen, start)
}

func (e *Engine) runningBeatLocked() effect {
	beat := e.beatCount
	fx := effect{
		accent: beat == 1,
		beat:   beat,
		chord:  e.cfg.ChangesChordOn(beat),
	}
	if beat >= e.cfg.BeatsPerBar() {
		e.beatCount = 1
	} else {
		e.beatCount++
	}
	return fx
}

// reschedule arms the timer for the next beat. Processing time of the tick
// that started at start is added to the deadline first, then the deadline
// either advances by one interval or, when the tick fired more than half an
// interval off, restarts from now.
func (e *Engine) reschedule(gen uint64, start time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen || e.phase == Stopped {
		return
	}

	now := e.clock.Now()
	if latency := now.Sub(start); latency > 0 {
		e.nextDeadline = e.nextDeadline.Add(latency)
	}

	interval := e.cfg.Interval()
	drift := now.Sub(e.nextDeadline)
	if drift < 0 {
		drift = -drift
	}
	if 2*drift > interval {
		e.logger.Debug().
			Dur("drift", now.Sub(e.nextDeadline)).
			Dur("interval", interval).
			Msg("resync")
		e.nextDeadline = now.Add(interval)
	} else {
		e.nextDeadline = e.nextDeadline.Add(interval)
	}

	delay := e.nextDeadline.Sub(now)
	if delay < 0 {
		delay = 0
	}
	e.timer = e.clock.AfterFunc(delay, func() { e.fire(gen) })
}

func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen == gen
}

// dispatch hands one tick to the collaborators without holding the engine
// lock, so they may call back into the engine. The generation is checked
// before each call, so a Stop between calls ends the tick.
func (e *Engine) dispatch(gen uint64, fx effect) {
	if !e.current(gen) {
		return
	}
	e.safely("tick_sink", func() error { return e.sink.Tick(fx.accent) })

	if fx.countIn > 0 && e.onCountIn != nil && e.current(gen) {
		e.safely("count_in_callback", func() error {
			e.onCountIn(fx.countIn)
			return nil
		})
	}
	if fx.beat > 0 && e.onBeat != nil && e.current(gen) {
		e.safely("beat_callback", func() error {
			e.onBeat(fx.beat, fx.accent)
			return nil
		})
	}
	if fx.chord && e.chord != nil && e.current(gen) {
		e.safely("chord_trigger", e.chord.ChangeChord)
	}
}

// safely runs fn and logs its error or panic. A failing collaborator never
// stops the beat clock.
func (e *Engine) safely(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("collaborator", name).Interface("panic", r).Msg("collaborator_panic")
		}
	}()
	if err := fn(); err != nil {
		e.logger.Warn().Str("collaborator", name).Err(err).Msg("collaborator_failed")
	}
}
