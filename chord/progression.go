package chord

import (
	"fmt"
	"math/rand"
)

// Mode decides how the next root follows the last one.
type Mode int

const (
	Random Mode = iota
	CircleOfFifths
	CircleOfFourths
)

var Modes = []Mode{Random, CircleOfFifths, CircleOfFourths}

var modeNames = map[Mode]string{
	Random:          "random",
	CircleOfFifths:  "circle_of_fifths",
	CircleOfFourths: "circle_of_fourths",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) Next() Mode {
	return Modes[(int(m)+1)%len(Modes)]
}

func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	switch s {
	case "fifths":
		return CircleOfFifths, nil
	case "fourths":
		return CircleOfFourths, nil
	}
	return 0, fmt.Errorf("unknown progression mode %q", s)
}

// maxAttempts bounds the search for a chord that differs from the last one.
const maxAttempts = 100

// Picker draws chords from a pool of qualities. It is not safe for
// concurrent use.
type Picker struct {
	rnd       *rand.Rand
	qualities []Quality
	mode      Mode
}

func NewPicker(rnd *rand.Rand, mode Mode, qualities []Quality) *Picker {
	p := &Picker{rnd: rnd, mode: mode}
	p.SetQualities(qualities)
	return p
}

func (p *Picker) SetQualities(qs []Quality) {
	p.qualities = append(p.qualities[:0:0], qs...)
}

func (p *Picker) Qualities() []Quality {
	return append([]Quality(nil), p.qualities...)
}

func (p *Picker) SetMode(m Mode) { p.mode = m }

func (p *Picker) Mode() Mode { return p.mode }

// Next picks the chord to follow last, which may be nil at the start of a
// session. Random mode retries until the chord differs from last in root or
// quality; the circle modes step the root by a fifth or a fourth.
func (p *Picker) Next(last *Chord) (Chord, error) {
	if len(p.qualities) == 0 {
		return Chord{}, ErrEmptyPool
	}

	if last != nil && p.mode != Random {
		step := 7
		if p.mode == CircleOfFourths {
			step = 5
		}
		return Chord{Root: last.Root.Transpose(step), Quality: p.quality()}, nil
	}

	var c Chord
	for attempt := 0; attempt < maxAttempts; attempt++ {
		c = Chord{Root: Root(p.rnd.Intn(NumRoots)), Quality: p.quality()}
		if last == nil || c != *last {
			break
		}
	}
	return c, nil
}

func (p *Picker) quality() Quality {
	return p.qualities[p.rnd.Intn(len(p.qualities))]
}
