package main

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/google/uuid"

	"chorddrill/beep"
	"chorddrill/chord"
	"chorddrill/log"
	"chorddrill/metronome"
	"chorddrill/settings"
)

// TUI bpm range, matching the slider of the original app.
const (
	tuiMinBPM = 40
	tuiMaxBPM = 240
	bpmStep   = 5
)

var (
	errPoolEmpty     = errors.New("select at least one chord quality to start practicing")
	errSkipWhileLive = errors.New("stop the metronome to skip chords")
)

type session struct {
	id     string
	start  time.Time
	beats  int
	chords int
}

// app ties the metronome engine to the chord drill, sound, persistence and
// whatever display is attached.
type app struct {
	// ctl serializes control operations; mu guards the fields below it and
	// is also taken from engine callbacks.
	ctl     sync.Mutex
	mu      sync.Mutex
	engine  *metronome.Engine
	drill   *drill
	store   *settings.Store
	cfg     settings.Settings
	events  EventSink
	sound   sound
	persist func(func())
	session *session
}

// sound plays beat clicks and the chord change cue.
type sound interface {
	metronome.TickSink
	ChordChange()
}

type appOptions struct {
	store  *settings.Store
	events EventSink
	clock  metronome.Clock
	rnd    *rand.Rand
	// sink replaces the speaker, for tests
	sink sound
}

func newApp(cfg settings.Settings, opts appOptions) (*app, error) {
	if opts.events == nil {
		opts.events = nopSink{}
	}
	if opts.rnd == nil {
		opts.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.sink == nil {
		opts.sink = beep.Sink{}
	}
	a := &app{
		drill:   newDrill(opts.rnd, cfg.Mode, cfg.Qualities, cfg.UseFlats),
		store:   opts.store,
		cfg:     cfg,
		events:  opts.events,
		sound:   opts.sink,
		persist: debounce.New(400 * time.Millisecond),
	}

	engineOpts := []metronome.Option{
		metronome.WithLogger(log.Logger().With().Str("component", "metronome").Logger()),
		metronome.WithBeatFunc(a.onBeat),
		metronome.WithCountInFunc(a.onCountIn),
		metronome.WithChordTrigger(metronome.ChordTriggerFunc(a.onChordChange)),
		metronome.WithResetFunc(a.onReset),
	}
	if opts.clock != nil {
		engineOpts = append(engineOpts, metronome.WithClock(opts.clock))
	}
	engine, err := metronome.New(cfg.Metronome(), opts.sink, engineOpts...)
	if err != nil {
		return nil, err
	}
	a.engine = engine
	return a, nil
}

func (a *app) view() view {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewLocked()
}

func (a *app) viewLocked() view {
	return view{
		BPM:         a.cfg.BPM,
		Signature:   a.cfg.TimeSignature.String(),
		BeatsPerBar: a.cfg.TimeSignature.BeatsPerBar(),
		Every:       a.cfg.NextChordEvery,
		CountIn:     a.cfg.CountIn,
		Mode:        a.cfg.Mode,
		UseFlats:    a.cfg.UseFlats,
		Qualities:   a.drill.Qualities(),
		Playing:     a.engine.IsPlaying(),
	}
}

// publish pushes the full display state to the sink.
func (a *app) publish() {
	a.events.Settings(a.view())
	a.publishChord(false)
}

func (a *app) publishChord(changed bool) {
	cur, next := "", ""
	if c, ok := a.drill.Current(); ok {
		cur = a.drill.Display(c)
	}
	if c, ok := a.drill.Next(); ok {
		next = a.drill.Display(c)
	}
	a.events.Chord(cur, next, changed)
}

func (a *app) Playing() bool { return a.engine.IsPlaying() }

func (a *app) Toggle() error {
	a.ctl.Lock()
	defer a.ctl.Unlock()
	if a.engine.IsPlaying() {
		a.stop()
		return nil
	}
	return a.start()
}

func (a *app) Start() error {
	a.ctl.Lock()
	defer a.ctl.Unlock()
	return a.start()
}

func (a *app) start() error {
	if a.engine.IsPlaying() {
		return nil
	}
	if !a.drill.Valid() {
		return errPoolEmpty
	}
	if _, ok := a.drill.Current(); !ok {
		if _, err := a.drill.Advance(); err != nil {
			return err
		}
		a.publishChord(true)
	}

	a.mu.Lock()
	s := &session{id: uuid.NewString(), start: time.Now()}
	a.session = s
	cfg := a.cfg
	a.mu.Unlock()

	log.SessionStart(s.id, cfg.BPM, cfg.TimeSignature.String(), cfg.NextChordEvery, cfg.CountIn)
	a.events.Playing(true)
	a.engine.Start()
	return nil
}

func (a *app) Stop() {
	a.ctl.Lock()
	defer a.ctl.Unlock()
	a.stop()
}

func (a *app) stop() {
	a.engine.Stop()
	a.endSession()
	a.events.Playing(false)
}

// Reset stops and clears the chord; the engine's reset hook does the rest.
func (a *app) Reset() {
	a.ctl.Lock()
	defer a.ctl.Unlock()
	a.engine.Reset()
	a.endSession()
	a.events.Playing(false)
}

func (a *app) endSession() {
	a.mu.Lock()
	s := a.session
	a.session = nil
	cfg := a.cfg
	a.mu.Unlock()
	if s == nil {
		return
	}
	stats := log.SessionStats{Beats: s.beats, Chords: s.chords, Duration: time.Since(s.start)}
	log.SessionEnd(s.id, stats)
	log.Practice(cfg.BPM, cfg.TimeSignature.String(), stats)
}

// NextChord skips to the previewed chord. Only allowed while stopped.
func (a *app) NextChord() error {
	a.ctl.Lock()
	defer a.ctl.Unlock()
	if a.engine.IsPlaying() {
		return errSkipWhileLive
	}
	c, err := a.drill.Advance()
	if err != nil {
		if errors.Is(err, chord.ErrEmptyPool) {
			return errPoolEmpty
		}
		return err
	}
	log.ChordChange(a.drill.Display(c))
	a.publishChord(true)
	return nil
}

func (a *app) onBeat(beat int, accent bool) {
	a.mu.Lock()
	if a.session != nil {
		a.session.beats++
	}
	bpb := a.cfg.TimeSignature.BeatsPerBar()
	a.mu.Unlock()
	a.events.Beat(beat, bpb, accent)
}

func (a *app) onCountIn(beat int) {
	a.events.CountIn(beat)
}

func (a *app) onChordChange() error {
	c, err := a.drill.Advance()
	if err != nil {
		return err
	}
	a.sound.ChordChange()
	a.mu.Lock()
	if a.session != nil {
		a.session.chords++
	}
	a.mu.Unlock()
	log.ChordChange(a.drill.Display(c))
	a.publishChord(true)
	return nil
}

func (a *app) onReset() {
	a.drill.ResetChord()
	a.events.Reset()
	a.publishChord(false)
}

// update applies fn to a copy of the settings. A running session is
// restarted so the new tempo and meter take effect at once.
func (a *app) update(fn func(*settings.Settings) error) error {
	a.ctl.Lock()
	defer a.ctl.Unlock()

	a.mu.Lock()
	next := a.cfg
	next.Qualities = append([]chord.Quality(nil), a.cfg.Qualities...)
	if err := fn(&next); err != nil {
		a.mu.Unlock()
		return err
	}
	if err := next.Metronome().Validate(); err != nil {
		a.mu.Unlock()
		return err
	}
	engineChanged := next.Metronome() != a.cfg.Metronome()
	a.cfg = next
	a.mu.Unlock()

	if engineChanged {
		playing := a.engine.IsPlaying()
		if playing {
			a.engine.Stop()
		}
		if err := a.engine.Reconfigure(next.Metronome()); err != nil {
			return err
		}
		if playing {
			a.engine.Start()
		}
	}
	a.scheduleSave()
	a.events.Settings(a.view())
	return nil
}

func (a *app) SetBPM(bpm int) error {
	return a.update(func(s *settings.Settings) error {
		s.BPM = bpm
		return nil
	})
}

// AdjustBPM nudges the tempo within the TUI range.
func (a *app) AdjustBPM(delta int) error {
	return a.update(func(s *settings.Settings) error {
		s.BPM = min(max(s.BPM+delta, tuiMinBPM), tuiMaxBPM)
		return nil
	})
}

// CycleSignature moves to the next time signature and clamps the chord
// interval to the new bar length.
func (a *app) CycleSignature() error {
	return a.update(func(s *settings.Settings) error {
		s.TimeSignature = s.TimeSignature.Next()
		if beats := s.TimeSignature.BeatsPerBar(); s.NextChordEvery > beats {
			s.NextChordEvery = beats
		}
		return nil
	})
}

func (a *app) CycleInterval() error {
	return a.update(func(s *settings.Settings) error {
		opts := s.TimeSignature.ChordChangeIntervals()
		next := opts[0]
		for i, iv := range opts {
			if iv == s.NextChordEvery {
				next = opts[(i+1)%len(opts)]
				break
			}
		}
		s.NextChordEvery = next
		return nil
	})
}

func (a *app) ToggleCountIn() error {
	return a.update(func(s *settings.Settings) error {
		s.CountIn = !s.CountIn
		return nil
	})
}

func (a *app) CycleMode() error {
	return a.update(func(s *settings.Settings) error {
		s.Mode = s.Mode.Next()
		a.drill.SetMode(s.Mode)
		return nil
	})
}

func (a *app) ToggleFlats() error {
	err := a.update(func(s *settings.Settings) error {
		s.UseFlats = !s.UseFlats
		a.drill.SetFlats(s.UseFlats)
		return nil
	})
	a.publishChord(false)
	return err
}

func (a *app) ToggleQuality(q chord.Quality) error {
	err := a.update(func(s *settings.Settings) error {
		a.drill.Toggle(q)
		s.Qualities = a.drill.Qualities()
		return nil
	})
	a.publishChord(false)
	return err
}

func (a *app) scheduleSave() {
	if a.store == nil {
		return
	}
	a.persist(func() {
		if err := a.save(); err != nil {
			log.Warnf("settings save failed: %v", err)
		}
	})
}

func (a *app) save() error {
	if a.store == nil {
		return nil
	}
	a.mu.Lock()
	cfg := a.cfg
	a.mu.Unlock()
	return a.store.Save(cfg)
}

// Close stops playback and writes the settings without waiting for the
// debounce window.
func (a *app) Close() error {
	a.Stop()
	return a.save()
}
