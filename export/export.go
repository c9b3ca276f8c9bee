// Package export renders a practice session to a Standard MIDI File by
// running the metronome engine against a manual clock.
package export

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"chorddrill/chord"
	"chorddrill/metronome"
)

const (
	// General MIDI percussion channel (10 when counted from 1)
	clickChannel = 9
	chordChannel = 0

	accentKey  = 76 // hi wood block
	regularKey = 77 // low wood block

	defaultResolution = 960
)

type Options struct {
	Config metronome.Config
	Bars   int
	Picker *chord.Picker
	// Resolution is ticks per quarter note; zero means 960.
	Resolution uint16
}

type Result struct {
	Clicks int
	Beats  int
	Chords []chord.Chord
}

type event struct {
	at  uint32
	msg []byte
}

type track []event

func (t track) toSMF(end uint32) smf.Track {
	sort.SliceStable(t, func(i, j int) bool { return t[i].at < t[j].at })
	var out smf.Track
	var last uint32
	for _, ev := range t {
		out.Add(ev.at-last, ev.msg)
		last = ev.at
	}
	if end < last {
		end = last
	}
	out.Close(end - last)
	return out
}

// Render drives a fresh engine through opts.Bars bars (plus the count-in
// when enabled) and returns the resulting file: a tempo/meter track, a
// percussion click track and a chord track.
func Render(opts Options) (*smf.SMF, Result, error) {
	var res Result
	if opts.Bars <= 0 {
		return nil, res, fmt.Errorf("bars must be positive, got %d", opts.Bars)
	}
	if opts.Picker == nil {
		return nil, res, errors.New("no chord picker")
	}
	resolution := opts.Resolution
	if resolution == 0 {
		resolution = defaultResolution
	}

	// One engine beat is a quarter note, or an eighth in 6/8, where the
	// written tempo counts quarters at half the click rate.
	ts := opts.Config.TimeSignature
	denom := uint8(4)
	beatTicks := uint32(resolution)
	tempo := float64(opts.Config.BPM)
	if ts == metronome.SixEight {
		denom = 8
		beatTicks /= 2
		tempo /= 2
	}

	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := metronome.NewManualClock(start)
	interval := opts.Config.Interval()
	pos := func() uint32 {
		if interval <= 0 {
			return 0
		}
		return uint32(clk.Now().Sub(start) * time.Duration(beatTicks) / interval)
	}

	var clicks, chords track
	clickLen := beatTicks / 4

	current, err := opts.Picker.Next(nil)
	if err != nil {
		return nil, res, err
	}
	res.Chords = append(res.Chords, current)
	chordStart := func(at uint32, c chord.Chord) {
		for _, n := range c.Notes() {
			chords = append(chords, event{at, midi.NoteOn(chordChannel, n, 80)})
		}
	}
	chordEnd := func(at uint32, c chord.Chord) {
		for _, n := range c.Notes() {
			chords = append(chords, event{at, midi.NoteOff(chordChannel, n)})
		}
	}

	sink := metronome.TickSinkFunc(func(accent bool) error {
		at := pos()
		key := uint8(regularKey)
		vel := uint8(90)
		if accent {
			key, vel = accentKey, 120
		}
		clicks = append(clicks,
			event{at, midi.NoteOn(clickChannel, key, vel)},
			event{at + clickLen, midi.NoteOff(clickChannel, key)})
		res.Clicks++
		return nil
	})

	total := opts.Bars * opts.Config.BeatsPerBar()
	var engine *metronome.Engine
	onBeat := func(beat int, accent bool) {
		if res.Beats == 0 {
			chordStart(pos(), current)
		}
		res.Beats++
		if res.Beats >= total {
			engine.Stop()
		}
	}
	trigger := metronome.ChordTriggerFunc(func() error {
		next, err := opts.Picker.Next(&current)
		if err != nil {
			return err
		}
		// the new chord sounds from the next downbeat
		at := pos() + beatTicks
		chordEnd(at, current)
		chordStart(at, next)
		current = next
		res.Chords = append(res.Chords, next)
		return nil
	})

	engine, err = metronome.New(opts.Config, sink,
		metronome.WithClock(clk),
		metronome.WithBeatFunc(onBeat),
		metronome.WithChordTrigger(trigger),
	)
	if err != nil {
		return nil, res, err
	}

	engine.Start()
	for engine.IsPlaying() && clk.RunNext() {
	}
	engine.Stop()

	end := pos() + beatTicks
	chordEnd(end, current)

	var meta smf.Track
	meta.Add(0, smf.MetaMeter(uint8(ts.BeatsPerBar()), denom))
	meta.Add(0, smf.MetaTempo(tempo))
	meta.Close(end)

	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(resolution)
	for i, t := range []smf.Track{meta, clicks.toSMF(end), chords.toSMF(end)} {
		if err := sm.Add(t); err != nil {
			return nil, res, fmt.Errorf("error adding track %d: %w", i, err)
		}
	}
	return sm, res, nil
}

func WriteFile(path string, opts Options) (Result, error) {
	sm, res, err := Render(opts)
	if err != nil {
		return res, err
	}
	if err := sm.WriteFile(path); err != nil {
		return res, fmt.Errorf("error writing MIDI file: %w", err)
	}
	return res, nil
}
