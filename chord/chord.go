// Package chord names chords and picks the next one to practise.
package chord

import (
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyPool = errors.New("no chord qualities enabled")

// Root is a pitch class counted in semitones from A.
type Root int

const NumRoots = 12

var (
	sharpNames = [NumRoots]string{"A", "A#", "B", "C", "C#", "D", "D#", "E", "F", "F#", "G", "G#"}
	flatNames  = [NumRoots]string{"A", "Bb", "B", "C", "Db", "D", "Eb", "E", "F", "Gb", "G", "Ab"}
)

// Name spells the root with sharps or flats.
func (r Root) Name(useFlats bool) string {
	i := ((int(r) % NumRoots) + NumRoots) % NumRoots
	if useFlats {
		return flatNames[i]
	}
	return sharpNames[i]
}

func (r Root) String() string { return r.Name(false) }

// Transpose moves the root by n semitones, wrapping at the octave.
func (r Root) Transpose(n int) Root {
	return Root(((int(r)+n)%NumRoots + NumRoots) % NumRoots)
}

// ParseRoot accepts sharp and flat spellings.
func ParseRoot(s string) (Root, error) {
	for i := 0; i < NumRoots; i++ {
		if sharpNames[i] == s || flatNames[i] == s {
			return Root(i), nil
		}
	}
	return 0, fmt.Errorf("unknown root %q", s)
}

type Quality int

const (
	Major Quality = iota
	Minor
	Seventh
	Fifth
	Diminished
)

// Qualities lists every quality in selector order.
var Qualities = []Quality{Major, Minor, Seventh, Fifth, Diminished}

var qualityInfo = map[Quality]struct {
	name      string
	suffix    string
	intervals []int
}{
	Major:      {"major", "", []int{0, 4, 7}},
	Minor:      {"minor", "m", []int{0, 3, 7}},
	Seventh:    {"7th", "7", []int{0, 4, 7, 10}},
	Fifth:      {"5th", "5", []int{0, 7}},
	Diminished: {"diminished", "dim", []int{0, 3, 6}},
}

func (q Quality) String() string {
	if info, ok := qualityInfo[q]; ok {
		return info.name
	}
	return fmt.Sprintf("Quality(%d)", int(q))
}

func (q Quality) Suffix() string { return qualityInfo[q].suffix }

func (q Quality) Valid() bool {
	_, ok := qualityInfo[q]
	return ok
}

func ParseQuality(s string) (Quality, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, q := range Qualities {
		info := qualityInfo[q]
		if s == info.name || (s != "" && s == strings.ToLower(info.suffix)) {
			return q, nil
		}
	}
	switch s {
	case "maj":
		return Major, nil
	case "min":
		return Minor, nil
	case "dom7", "seventh":
		return Seventh, nil
	case "power", "fifth":
		return Fifth, nil
	}
	return 0, fmt.Errorf("unknown chord quality %q", s)
}

type Chord struct {
	Root    Root
	Quality Quality
}

// Display renders the chord symbol, e.g. "C#m" or "Dbm".
func (c Chord) Display(useFlats bool) string {
	return c.Root.Name(useFlats) + c.Quality.Suffix()
}

func (c Chord) String() string { return c.Display(false) }

// baseNote is the MIDI note of A3; roots A..G# land on 57..68.
const baseNote = 57

// Notes returns the chord tones as MIDI note numbers around middle C.
func (c Chord) Notes() []uint8 {
	root := baseNote + int(c.Root.Transpose(0))
	ivs := qualityInfo[c.Quality].intervals
	notes := make([]uint8, len(ivs))
	for i, iv := range ivs {
		notes[i] = uint8(root + iv)
	}
	return notes
}
