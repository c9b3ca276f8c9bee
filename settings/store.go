package settings

import (
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"chorddrill/log"
	"chorddrill/metronome"
)

var (
	bucketSettings = []byte("settings")

	// ErrNotFound is returned when a key has never been stored.
	ErrNotFound = errors.New("setting not found")
)

// Store keeps settings as strings in a bbolt file.
type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open settings %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSettings)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.db.Path()
}

func (s *Store) Get(key string) (string, error) {
	var val string
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSettings).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		val = string(raw)
		return nil
	})
	return val, err
}

// Set stores value under key after checking it against the rest of the
// stored settings.
func (s *Store) Set(key, value string) error {
	cur, err := s.Load()
	if err != nil {
		return err
	}
	if err := cur.Apply(key, value); err != nil {
		return err
	}
	return s.Save(cur)
}

// Load reads every key, falling back to the default for anything missing or
// unreadable.
func (s *Store) Load() (Settings, error) {
	out := Defaults()
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		for _, key := range Keys {
			raw := b.Get([]byte(key))
			if raw == nil {
				continue
			}
			if err := out.set(key, string(raw)); err != nil {
				log.Warnf("settings: ignoring stored %s=%q: %v", key, raw, err)
			}
		}
		return nil
	})
	if err != nil {
		return Defaults(), err
	}
	out.normalize()
	return out, nil
}

// normalize repairs values that are fine alone but invalid together.
func (s *Settings) normalize() {
	def := Defaults()
	if s.BPM < metronome.MinBPM || s.BPM > metronome.MaxBPM {
		s.BPM = def.BPM
	}
	if !s.TimeSignature.Valid() {
		s.TimeSignature = def.TimeSignature
	}
	if beats := s.TimeSignature.BeatsPerBar(); s.NextChordEvery < 1 || s.NextChordEvery > beats {
		s.NextChordEvery = beats
	}
}

// Save writes all settings in one transaction.
func (s *Store) Save(st Settings) error {
	if err := st.Metronome().Validate(); err != nil {
		return err
	}
	kv, err := st.encode()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		for _, key := range Keys {
			if err := b.Put([]byte(key), []byte(kv[key])); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reset drops everything stored so the next Load returns the defaults.
func (s *Store) Reset() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketSettings); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(bucketSettings)
		return err
	})
}
