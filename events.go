package main

import "chorddrill/chord"

// EventSink abstracts the display layer so both the Bubble Tea TUI
// and the headless stdin mode receive the same drill events.
type EventSink interface {
	Beat(beat, beatsPerBar int, accent bool)
	CountIn(beat int)
	Chord(current, next string, changed bool)
	Playing(on bool)
	Settings(v view)
	Status(text string)
	Reset()
}

// view is the part of the app state a display renders outside of beats.
type view struct {
	BPM         int
	Signature   string
	BeatsPerBar int
	Every       int
	CountIn     bool
	Mode        chord.Mode
	UseFlats    bool
	Qualities   []chord.Quality
	Playing     bool
}

type nopSink struct{}

func (nopSink) Beat(int, int, bool)        {}
func (nopSink) CountIn(int)                {}
func (nopSink) Chord(string, string, bool) {}
func (nopSink) Playing(bool)               {}
func (nopSink) Settings(view)              {}
func (nopSink) Status(string)              {}
func (nopSink) Reset()                     {}
