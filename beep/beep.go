package beep

import (
	"math"
	"sync/atomic"
)

var disabled atomic.Bool

// Disable silences every cue for the rest of the process.
func Disable() { disabled.Store(true) }

func Disabled() bool { return disabled.Load() }

const sampleRate = 44100

// Tone is a sine burst that fades out linearly over its tail.
type Tone struct {
	Freq     float64
	Volume   float64
	Duration float64
	// Fade is the fraction of the duration spent fading out.
	Fade float64
}

var (
	// Regular beat: higher, quieter
	RegularTone = Tone{Freq: 800, Volume: 0.3, Duration: 0.1, Fade: 0.3}
	// Accent on beat 1: lower, louder
	AccentTone = Tone{Freq: 600, Volume: 0.5, Duration: 0.1, Fade: 0.3}
	// Chord change cue
	ChordTone = Tone{Freq: 1000, Volume: 0.4, Duration: 0.15, Fade: 0.4}
)

// Samples renders the tone as interleaved int16 frames.
func (t Tone) Samples(rate, channels int) []int16 {
	n := int(float64(rate) * t.Duration)
	fadeStart := float64(n) * (1 - t.Fade)
	out := make([]int16, n*channels)
	for i := 0; i < n; i++ {
		v := math.Sin(2*math.Pi*t.Freq*float64(i)/float64(rate)) * t.Volume
		if fi := float64(i); fi > fadeStart && t.Fade > 0 {
			v *= (float64(n) - fi) / (float64(n) * t.Fade)
		}
		s := int16(v * 32767)
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
	return out
}

// Bytes renders mono little-endian S16 PCM.
func (t Tone) Bytes(rate int) []byte {
	samples := t.Samples(rate, 1)
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}

// Sink sounds metronome ticks on the default output device.
type Sink struct{}

func (Sink) Tick(accent bool) error {
	if accent {
		PlayAccent()
	} else {
		PlayTick()
	}
	return nil
}

func (Sink) ChordChange() { PlayChordChange() }
