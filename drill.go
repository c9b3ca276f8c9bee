package main

import (
	"math/rand"
	"slices"
	"sync"

	"chorddrill/chord"
)

// drill owns the chord pool and the chord on screen plus the one after it.
type drill struct {
	mu       sync.Mutex
	picker   *chord.Picker
	useFlats bool
	current  *chord.Chord
	next     *chord.Chord
}

func newDrill(rnd *rand.Rand, mode chord.Mode, qualities []chord.Quality, useFlats bool) *drill {
	return &drill{
		picker:   chord.NewPicker(rnd, mode, qualities),
		useFlats: useFlats,
	}
}

// Advance moves the preview into place and draws a new preview. The first
// call draws both.
func (d *drill) Advance() (chord.Chord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.next == nil {
		n, err := d.picker.Next(d.current)
		if err != nil {
			return chord.Chord{}, err
		}
		d.next = &n
	}
	cur := *d.next
	n, err := d.picker.Next(&cur)
	if err != nil {
		return chord.Chord{}, err
	}
	d.current = &cur
	d.next = &n
	return cur, nil
}

func (d *drill) Current() (chord.Chord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return chord.Chord{}, false
	}
	return *d.current, true
}

func (d *drill) Next() (chord.Chord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.next == nil {
		return chord.Chord{}, false
	}
	return *d.next, true
}

// Display spells c with the drill's accidentals.
func (d *drill) Display(c chord.Chord) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return c.Display(d.useFlats)
}

// Toggle adds q to the pool or removes it. The preview is redrawn so it
// never shows a quality that is no longer selected.
func (d *drill) Toggle(q chord.Quality) {
	d.mu.Lock()
	defer d.mu.Unlock()
	qs := d.picker.Qualities()
	if i := slices.Index(qs, q); i >= 0 {
		qs = slices.Delete(qs, i, i+1)
	} else {
		qs = append(qs, q)
	}
	d.picker.SetQualities(qs)
	d.redrawNextLocked()
}

func (d *drill) Enabled(q chord.Quality) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Contains(d.picker.Qualities(), q)
}

func (d *drill) Qualities() []chord.Quality {
	d.mu.Lock()
	defer d.mu.Unlock()
	// selector order, not toggle order
	var out []chord.Quality
	qs := d.picker.Qualities()
	for _, q := range chord.Qualities {
		if slices.Contains(qs, q) {
			out = append(out, q)
		}
	}
	return out
}

func (d *drill) SetFlats(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.useFlats = on
}

func (d *drill) UseFlats() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.useFlats
}

func (d *drill) SetMode(m chord.Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.picker.SetMode(m)
	d.redrawNextLocked()
}

func (d *drill) Mode() chord.Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.picker.Mode()
}

// Valid reports whether at least one quality is selected.
func (d *drill) Valid() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.picker.Qualities()) > 0
}

func (d *drill) ResetChord() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = nil
	d.next = nil
}

func (d *drill) redrawNextLocked() {
	if d.next == nil {
		return
	}
	n, err := d.picker.Next(d.current)
	if err != nil {
		d.next = nil
		return
	}
	d.next = &n
}
