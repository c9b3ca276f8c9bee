package metronome

import (
	"errors"
	"fmt"
	"time"
)

const (
	MinBPM = 1
	MaxBPM = 400

	// CountInBeats is the length of the unaccented lead-in.
	CountInBeats = 4
)

// ErrInvalidConfig is wrapped by every configuration validation error.
var ErrInvalidConfig = errors.New("invalid metronome config")

type TimeSignature int

const (
	FourFour TimeSignature = iota
	ThreeFour
	SixEight
)

type signatureInfo struct {
	name        string
	beatsPerBar int
	// chord-change intervals offered for cycling, all <= beatsPerBar
	intervals []int
}

var signatures = map[TimeSignature]signatureInfo{
	FourFour:  {"4/4", 4, []int{1, 2, 3, 4}},
	ThreeFour: {"3/4", 3, []int{1, 2, 3}},
	SixEight:  {"6/8", 6, []int{1, 2, 3, 4, 6}},
}

// TimeSignatures lists the supported signatures in display order.
var TimeSignatures = []TimeSignature{FourFour, ThreeFour, SixEight}

func ParseTimeSignature(s string) (TimeSignature, error) {
	for _, ts := range TimeSignatures {
		if signatures[ts].name == s {
			return ts, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown time signature %q (use 4/4, 3/4 or 6/8)", ErrInvalidConfig, s)
}

func (ts TimeSignature) Valid() bool {
	_, ok := signatures[ts]
	return ok
}

func (ts TimeSignature) String() string {
	if info, ok := signatures[ts]; ok {
		return info.name
	}
	return fmt.Sprintf("TimeSignature(%d)", int(ts))
}

func (ts TimeSignature) BeatsPerBar() int {
	return signatures[ts].beatsPerBar
}

// ChordChangeIntervals returns the intervals a user can pick for this signature.
func (ts TimeSignature) ChordChangeIntervals() []int {
	src := signatures[ts].intervals
	out := make([]int, len(src))
	copy(out, src)
	return out
}

// Next returns the signature after ts in display order, wrapping around.
func (ts TimeSignature) Next() TimeSignature {
	for i, s := range TimeSignatures {
		if s == ts {
			return TimeSignatures[(i+1)%len(TimeSignatures)]
		}
	}
	return FourFour
}

// Config is the per-session engine configuration.
type Config struct {
	BPM                 int
	TimeSignature       TimeSignature
	ChordChangeInterval int
	CountIn             bool
}

func DefaultConfig() Config {
	return Config{
		BPM:                 120,
		TimeSignature:       FourFour,
		ChordChangeInterval: 4,
	}
}

func (c Config) Validate() error {
	if c.BPM <= 0 {
		return fmt.Errorf("%w: bpm %d (must be positive)", ErrInvalidConfig, c.BPM)
	}
	if c.BPM < MinBPM || c.BPM > MaxBPM {
		return fmt.Errorf("%w: bpm %d (must be between %d and %d)", ErrInvalidConfig, c.BPM, MinBPM, MaxBPM)
	}
	if !c.TimeSignature.Valid() {
		return fmt.Errorf("%w: unknown time signature %d", ErrInvalidConfig, int(c.TimeSignature))
	}
	beats := c.TimeSignature.BeatsPerBar()
	if c.ChordChangeInterval <= 0 || c.ChordChangeInterval > beats {
		return fmt.Errorf("%w: chord change interval %d (must be between 1 and %d for %s)",
			ErrInvalidConfig, c.ChordChangeInterval, beats, c.TimeSignature)
	}
	return nil
}

func (c Config) BeatsPerBar() int {
	return c.TimeSignature.BeatsPerBar()
}

// Interval is the time between two beats, 60000/bpm milliseconds.
func (c Config) Interval() time.Duration {
	if c.BPM <= 0 {
		return 0
	}
	return time.Minute / time.Duration(c.BPM)
}

// ChangesChordOn reports whether beat is a chord change boundary: the last
// beat of the bar, and only when that beat is a multiple of the interval.
// Intervals that do not divide the bar can therefore never fire.
func (c Config) ChangesChordOn(beat int) bool {
	return beat == c.BeatsPerBar() && beat%c.ChordChangeInterval == 0
}
