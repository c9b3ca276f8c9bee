// Package settings persists the practice preferences between runs.
package settings

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"chorddrill/chord"
	"chorddrill/metronome"
)

// Storage keys.
const (
	KeyBPM            = "bpm"
	KeyTimeSignature  = "time_signature"
	KeyNextChordEvery = "next_chord_every"
	KeyCountIn        = "count_in_enabled"
	KeyChordPool      = "chord_pool"
	KeyMode           = "progression_mode"
	KeyUseFlats       = "use_flats"
)

// Keys lists every key in the order `settings show` prints them.
var Keys = []string{
	KeyBPM, KeyTimeSignature, KeyNextChordEvery, KeyCountIn,
	KeyChordPool, KeyMode, KeyUseFlats,
}

type Settings struct {
	BPM            int
	TimeSignature  metronome.TimeSignature
	NextChordEvery int
	CountIn        bool
	Qualities      []chord.Quality
	Mode           chord.Mode
	UseFlats       bool
}

func Defaults() Settings {
	cfg := metronome.DefaultConfig()
	return Settings{
		BPM:            cfg.BPM,
		TimeSignature:  cfg.TimeSignature,
		NextChordEvery: cfg.ChordChangeInterval,
		CountIn:        cfg.CountIn,
		Qualities:      []chord.Quality{chord.Major, chord.Minor},
		Mode:           chord.Random,
	}
}

// Metronome returns the engine configuration these settings describe.
func (s Settings) Metronome() metronome.Config {
	return metronome.Config{
		BPM:                 s.BPM,
		TimeSignature:       s.TimeSignature,
		ChordChangeInterval: s.NextChordEvery,
		CountIn:             s.CountIn,
	}
}

// Apply parses value for key into s. The result is checked as a whole, so a
// chord interval that does not fit the signature is rejected. Changing the
// signature clamps the interval to the new bar length.
func (s *Settings) Apply(key, value string) error {
	next := *s
	if err := next.set(key, value); err != nil {
		return err
	}
	if err := next.Metronome().Validate(); err != nil {
		return err
	}
	*s = next
	return nil
}

func (s *Settings) set(key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case KeyBPM:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		s.BPM = n
	case KeyTimeSignature:
		ts, err := metronome.ParseTimeSignature(value)
		if err != nil {
			return err
		}
		s.TimeSignature = ts
		if s.NextChordEvery > ts.BeatsPerBar() {
			s.NextChordEvery = ts.BeatsPerBar()
		}
	case KeyNextChordEvery:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		s.NextChordEvery = n
	case KeyCountIn:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		s.CountIn = b
	case KeyChordPool:
		qs, err := parsePool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		s.Qualities = qs
	case KeyMode:
		m, err := chord.ParseMode(value)
		if err != nil {
			return err
		}
		s.Mode = m
	case KeyUseFlats:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		s.UseFlats = b
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

// parsePool accepts the stored JSON list or a comma separated list.
func parsePool(value string) ([]chord.Quality, error) {
	var names []string
	if strings.HasPrefix(value, "[") {
		if err := json.Unmarshal([]byte(value), &names); err != nil {
			return nil, err
		}
	} else if value != "" {
		names = strings.Split(value, ",")
	}
	qs := make([]chord.Quality, 0, len(names))
	for _, n := range names {
		q, err := chord.ParseQuality(n)
		if err != nil {
			return nil, err
		}
		qs = append(qs, q)
	}
	return qs, nil
}

// encode renders every key as its stored string form.
func (s Settings) encode() (map[string]string, error) {
	names := make([]string, len(s.Qualities))
	for i, q := range s.Qualities {
		names[i] = q.String()
	}
	pool, err := json.Marshal(names)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		KeyBPM:            strconv.Itoa(s.BPM),
		KeyTimeSignature:  s.TimeSignature.String(),
		KeyNextChordEvery: strconv.Itoa(s.NextChordEvery),
		KeyCountIn:        strconv.FormatBool(s.CountIn),
		KeyChordPool:      string(pool),
		KeyMode:           s.Mode.String(),
		KeyUseFlats:       strconv.FormatBool(s.UseFlats),
	}, nil
}

type yamlView struct {
	BPM            int      `yaml:"bpm"`
	TimeSignature  string   `yaml:"time_signature"`
	NextChordEvery int      `yaml:"next_chord_every"`
	CountIn        bool     `yaml:"count_in_enabled"`
	ChordPool      []string `yaml:"chord_pool,flow"`
	Mode           string   `yaml:"progression_mode"`
	UseFlats       bool     `yaml:"use_flats"`
}

// YAML renders the settings for display.
func (s Settings) YAML() (string, error) {
	v := yamlView{
		BPM:            s.BPM,
		TimeSignature:  s.TimeSignature.String(),
		NextChordEvery: s.NextChordEvery,
		CountIn:        s.CountIn,
		ChordPool:      make([]string, len(s.Qualities)),
		Mode:           s.Mode.String(),
		UseFlats:       s.UseFlats,
	}
	for i, q := range s.Qualities {
		v.ChordPool[i] = q.String()
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
