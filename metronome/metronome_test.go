package metronome

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type beatEvent struct {
	beat   int
	accent bool
}

type recorder struct {
	mu      sync.Mutex
	clock   *ManualClock
	ticks   []bool
	at      []time.Time
	beats   []beatEvent
	countIn []int
	chords  int
	// events is the interleaved order of everything observed
	events []string
}

func (r *recorder) Tick(accent bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, accent)
	r.at = append(r.at, r.clock.Now())
	r.events = append(r.events, fmt.Sprintf("tick:%v", accent))
	return nil
}

func (r *recorder) beat(beat int, accent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beats = append(r.beats, beatEvent{beat, accent})
	r.events = append(r.events, fmt.Sprintf("beat:%d", beat))
}

func (r *recorder) count(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.countIn = append(r.countIn, n)
	r.events = append(r.events, fmt.Sprintf("count:%d", n))
}

func (r *recorder) ChangeChord() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chords++
	r.events = append(r.events, "chord")
	return nil
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) (*Engine, *ManualClock, *recorder) {
	t.Helper()
	clk := NewManualClock(t0)
	rec := &recorder{clock: clk}
	all := append([]Option{
		WithClock(clk),
		WithBeatFunc(rec.beat),
		WithCountInFunc(rec.count),
		WithChordTrigger(rec),
	}, opts...)
	e, err := New(cfg, rec, all...)
	require.NoError(t, err)
	return e, clk, rec
}

func runTicks(t *testing.T, clk *ManualClock, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.True(t, clk.RunNext(), "no timer armed at tick %d", i)
	}
}

func cfg44(every int) Config {
	return Config{BPM: 120, TimeSignature: FourFour, ChordChangeInterval: every}
}

func TestStartFiresFirstBeatImmediately(t *testing.T) {
	e, clk, rec := newTestEngine(t, cfg44(4))

	e.Start()

	assert.Equal(t, []bool{true}, rec.ticks)
	assert.Equal(t, []beatEvent{{1, true}}, rec.beats)
	assert.True(t, e.IsPlaying())
	assert.False(t, e.IsInCountIn())
	assert.Equal(t, 2, e.BeatCount())

	next, ok := clk.NextFire()
	require.True(t, ok)
	assert.Equal(t, t0.Add(500*time.Millisecond), next)
	assert.Equal(t, next, e.State().NextDeadline)
}

func TestNoCumulativeDrift(t *testing.T) {
	for _, bpm := range []int{40, 90, 120, 137, 240} {
		t.Run(fmt.Sprintf("bpm=%d", bpm), func(t *testing.T) {
			cfg := Config{BPM: bpm, TimeSignature: FourFour, ChordChangeInterval: 4}
			e, clk, rec := newTestEngine(t, cfg)
			interval := cfg.Interval()

			e.Start()
			const n = 1000
			runTicks(t, clk, n)

			require.Len(t, rec.at, n+1)
			for i, at := range rec.at {
				require.Equal(t, t0.Add(time.Duration(i)*interval), at, "tick %d", i)
			}
			assert.Equal(t, t0.Add(time.Duration(n+1)*interval), e.State().NextDeadline)
		})
	}
}

func TestAccentOnlyOnBeatOne(t *testing.T) {
	for _, sig := range TimeSignatures {
		t.Run(sig.String(), func(t *testing.T) {
			cfg := Config{BPM: 200, TimeSignature: sig, ChordChangeInterval: 1}
			e, clk, rec := newTestEngine(t, cfg)
			beats := sig.BeatsPerBar()

			e.Start()
			runTicks(t, clk, beats*5-1)

			require.Len(t, rec.beats, beats*5)
			for i, b := range rec.beats {
				assert.Equal(t, i%beats+1, b.beat, "beat index %d", i)
				assert.Equal(t, b.beat == 1, b.accent, "beat index %d", i)
				assert.Equal(t, b.accent, rec.ticks[i], "tick index %d", i)
			}
		})
	}
}

func TestBeatCountStaysInRange(t *testing.T) {
	cfg := Config{BPM: 120, TimeSignature: ThreeFour, ChordChangeInterval: 3}
	e, clk, _ := newTestEngine(t, cfg)

	e.Start()
	for i := 0; i < 30; i++ {
		bc := e.BeatCount()
		assert.GreaterOrEqual(t, bc, 1)
		assert.LessOrEqual(t, bc, 3)
		assert.Zero(t, e.CountInBeat())
		runTicks(t, clk, 1)
	}
}

func TestCountIn(t *testing.T) {
	cfg := cfg44(4)
	cfg.CountIn = true
	e, clk, rec := newTestEngine(t, cfg)
	interval := cfg.Interval()

	e.Start()
	assert.True(t, e.IsInCountIn())
	assert.True(t, e.IsPlaying())
	assert.Equal(t, 1, e.CountInBeat())
	assert.Equal(t, []bool{false}, rec.ticks)
	assert.Empty(t, rec.beats)

	runTicks(t, clk, 3)
	assert.Equal(t, []bool{false, false, false, false}, rec.ticks)
	assert.Equal(t, []int{1, 2, 3, 4}, rec.countIn)
	assert.Equal(t, 4, e.CountInBeat())
	assert.Empty(t, rec.beats)

	runTicks(t, clk, 1)
	assert.False(t, e.IsInCountIn())
	assert.Equal(t, Running, e.State().Phase)
	assert.Zero(t, e.CountInBeat())
	require.Len(t, rec.ticks, 5)
	assert.True(t, rec.ticks[4])
	assert.Equal(t, []beatEvent{{1, true}}, rec.beats)

	// bar 1 takes the slot right after the fourth count-in beat
	assert.Equal(t, t0.Add(4*interval), rec.at[4])

	runTicks(t, clk, 3)
	assert.Equal(t, []beatEvent{{1, true}, {2, false}, {3, false}, {4, false}}, rec.beats)
	assert.Equal(t, []int{1, 2, 3, 4}, rec.countIn)
}

func TestChordTriggerOnLastBeat(t *testing.T) {
	e, clk, rec := newTestEngine(t, cfg44(4))

	e.Start()
	runTicks(t, clk, 15)

	assert.Equal(t, 4, rec.chords)
	for i, ev := range rec.events {
		if ev == "chord" {
			assert.Equal(t, "beat:4", rec.events[i-1])
		}
	}
}

func TestChordTriggerNeverFiresWhenIntervalMissesBarEnd(t *testing.T) {
	cfg := Config{BPM: 120, TimeSignature: SixEight, ChordChangeInterval: 4}
	e, clk, rec := newTestEngine(t, cfg)

	e.Start()
	runTicks(t, clk, 6*20)

	assert.Len(t, rec.beats, 6*20+1)
	assert.Zero(t, rec.chords)
}

func TestChangesChordOn(t *testing.T) {
	tests := []struct {
		sig   TimeSignature
		every int
		want  []int
	}{
		{FourFour, 1, []int{4}},
		{FourFour, 2, []int{4}},
		{FourFour, 3, nil},
		{FourFour, 4, []int{4}},
		{ThreeFour, 2, nil},
		{ThreeFour, 3, []int{3}},
		{SixEight, 3, []int{6}},
		{SixEight, 4, nil},
		{SixEight, 5, nil},
		{SixEight, 6, []int{6}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s every %d", tt.sig, tt.every), func(t *testing.T) {
			cfg := Config{BPM: 100, TimeSignature: tt.sig, ChordChangeInterval: tt.every}
			require.NoError(t, cfg.Validate())
			var got []int
			for beat := 1; beat <= tt.sig.BeatsPerBar(); beat++ {
				if cfg.ChangesChordOn(beat) {
					got = append(got, beat)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStopCancelsPendingTick(t *testing.T) {
	for _, countIn := range []bool{false, true} {
		t.Run(fmt.Sprintf("countIn=%v", countIn), func(t *testing.T) {
			cfg := cfg44(4)
			cfg.CountIn = countIn
			e, clk, rec := newTestEngine(t, cfg)

			e.Start()
			runTicks(t, clk, 2)
			e.Stop()

			assert.Zero(t, clk.Pending())
			assert.False(t, e.IsPlaying())
			st := e.State()
			assert.Equal(t, Stopped, st.Phase)
			assert.Zero(t, st.BeatCount)
			assert.Zero(t, st.CountInBeat)

			ticks, beats := len(rec.ticks), len(rec.beats)
			clk.Advance(10 * cfg.Interval())
			assert.Len(t, rec.ticks, ticks)
			assert.Len(t, rec.beats, beats)

			e.Stop() // idempotent
			assert.Equal(t, Stopped, e.State().Phase)
		})
	}
}

func TestStopFromBeatCallback(t *testing.T) {
	clk := NewManualClock(t0)
	rec := &recorder{clock: clk}
	var e *Engine
	var err error
	e, err = New(cfg44(4), rec, WithClock(clk), WithBeatFunc(func(beat int, accent bool) {
		rec.beat(beat, accent)
		if beat == 3 {
			e.Stop()
		}
	}), WithChordTrigger(rec))
	require.NoError(t, err)

	e.Start()
	for clk.RunNext() {
	}

	assert.Equal(t, []beatEvent{{1, true}, {2, false}, {3, false}}, rec.beats)
	assert.False(t, e.IsPlaying())
	assert.Zero(t, clk.Pending())
}

func TestStopWhileSinkBusySkipsRestOfTick(t *testing.T) {
	clk := NewManualClock(t0)
	entered := make(chan struct{})
	release := make(chan struct{})
	sink := TickSinkFunc(func(bool) error {
		close(entered)
		<-release
		return nil
	})
	var mu sync.Mutex
	var beats []int
	e, err := New(cfg44(4), sink, WithClock(clk), WithBeatFunc(func(beat int, _ bool) {
		mu.Lock()
		defer mu.Unlock()
		beats = append(beats, beat)
	}))
	require.NoError(t, err)

	started := make(chan struct{})
	go func() {
		defer close(started)
		e.Start()
	}()
	<-entered

	// Stop does not wait for the sink it interrupted
	e.Stop()
	assert.False(t, e.IsPlaying())

	close(release)
	<-started

	mu.Lock()
	assert.Empty(t, beats)
	mu.Unlock()
	assert.Zero(t, clk.Pending())
	assert.Equal(t, Stopped, e.State().Phase)
}

func TestStaleTimerIgnoredAfterRestart(t *testing.T) {
	e, clk, rec := newTestEngine(t, cfg44(4))

	e.Start()
	stale := e.timer
	e.Stop()
	e.Start()
	require.Len(t, rec.ticks, 2)

	// a timer that escaped cancellation must not tick the new session
	e.fire(e.gen - 1)
	assert.Len(t, rec.ticks, 2)
	assert.NotNil(t, stale)
	assert.Equal(t, 1, clk.Pending())
}

func TestResyncAfterLargeDrift(t *testing.T) {
	cfg := cfg44(4)
	e, clk, rec := newTestEngine(t, cfg)
	interval := cfg.Interval()

	e.Start()
	deadline := e.State().NextDeadline
	require.Equal(t, t0.Add(interval), deadline)

	// the timer fires 0.6 beats late
	clk.Elapse(interval + interval*6/10)
	clk.Advance(0)
	now := clk.Now()
	require.Equal(t, deadline.Add(interval*6/10), now)
	require.Len(t, rec.ticks, 2)

	assert.Equal(t, now.Add(interval), e.State().NextDeadline)
	next, ok := clk.NextFire()
	require.True(t, ok)
	assert.Equal(t, now.Add(interval), next)
}

func TestSmallDriftKeepsGrid(t *testing.T) {
	cfg := cfg44(4)
	e, clk, _ := newTestEngine(t, cfg)
	interval := cfg.Interval()

	e.Start()
	clk.Elapse(interval + interval*4/10)
	clk.Advance(0)

	assert.Equal(t, t0.Add(2*interval), e.State().NextDeadline)
}

func TestEarlyTickResyncs(t *testing.T) {
	cfg := cfg44(4)
	e, clk, _ := newTestEngine(t, cfg)
	interval := cfg.Interval()

	e.Start()
	// fire the pending beat far too early, as a misbehaving timer would
	clk.Elapse(interval / 4)
	e.fire(e.gen)

	now := clk.Now()
	assert.Equal(t, now.Add(interval), e.State().NextDeadline)
}

func TestProcessingLatencyPushesDeadline(t *testing.T) {
	clk := NewManualClock(t0)
	const busy = 5 * time.Millisecond
	sink := TickSinkFunc(func(bool) error {
		clk.Elapse(busy)
		return nil
	})
	cfg := cfg44(4)
	e, err := New(cfg, sink, WithClock(clk))
	require.NoError(t, err)

	e.Start()
	assert.Equal(t, t0.Add(busy+cfg.Interval()), e.State().NextDeadline)

	runTicks(t, clk, 1)
	assert.Equal(t, t0.Add(2*busy+2*cfg.Interval()), e.State().NextDeadline)
}

func TestDoubleStartIsNoop(t *testing.T) {
	e, clk, rec := newTestEngine(t, cfg44(4))

	e.Start()
	before := e.State()
	e.Start()

	assert.Len(t, rec.ticks, 1)
	assert.Len(t, rec.beats, 1)
	assert.Equal(t, 1, clk.Pending())
	assert.Equal(t, before, e.State())
}

func TestCollaboratorFailuresDoNotStall(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	clk := NewManualClock(t0)
	ticks := 0
	sink := TickSinkFunc(func(bool) error {
		ticks++
		if ticks%2 == 0 {
			return errors.New("device busy")
		}
		return nil
	})
	chords := 0
	trigger := ChordTriggerFunc(func() error {
		chords++
		panic("chord pool exploded")
	})
	beats := 0
	e, err := New(cfg44(4), sink,
		WithClock(clk),
		WithLogger(logger),
		WithChordTrigger(trigger),
		WithBeatFunc(func(int, bool) { beats++ }),
	)
	require.NoError(t, err)

	e.Start()
	runTicks(t, clk, 11)

	assert.Equal(t, 12, ticks)
	assert.Equal(t, 12, beats)
	assert.Equal(t, 3, chords)
	assert.Equal(t, 1, clk.Pending())
	assert.Contains(t, buf.String(), "collaborator_failed")
	assert.Contains(t, buf.String(), "device busy")
	assert.Contains(t, buf.String(), "collaborator_panic")
}

func TestReconfigureWhileRunningIsStaged(t *testing.T) {
	e, clk, rec := newTestEngine(t, cfg44(4))

	e.Start()
	runTicks(t, clk, 1)

	slower := cfg44(4)
	slower.BPM = 60
	require.NoError(t, e.Reconfigure(slower))

	assert.Equal(t, 120, e.Config().BPM)
	staged, ok := e.Staged()
	require.True(t, ok)
	assert.Equal(t, 60, staged.BPM)

	// pending and following beats keep the old tempo
	runTicks(t, clk, 2)
	require.Len(t, rec.at, 4)
	assert.Equal(t, 500*time.Millisecond, rec.at[3].Sub(rec.at[2]))

	e.Stop()
	e.Start()
	assert.Equal(t, 60, e.Config().BPM)
	_, ok = e.Staged()
	assert.False(t, ok)

	start := clk.Now()
	runTicks(t, clk, 1)
	assert.Equal(t, start.Add(time.Second), clk.Now())
}

func TestReconfigureWhileStoppedAppliesNow(t *testing.T) {
	e, _, _ := newTestEngine(t, cfg44(4))

	cfg := Config{BPM: 75, TimeSignature: ThreeFour, ChordChangeInterval: 3, CountIn: true}
	require.NoError(t, e.Reconfigure(cfg))
	assert.Equal(t, cfg, e.Config())
	_, ok := e.Staged()
	assert.False(t, ok)
}

func TestReconfigureRejectsInvalid(t *testing.T) {
	e, _, _ := newTestEngine(t, cfg44(4))

	err := e.Reconfigure(Config{BPM: 0, TimeSignature: FourFour, ChordChangeInterval: 4})
	require.ErrorIs(t, err, ErrInvalidConfig)
	err = e.Reconfigure(Config{BPM: 120, TimeSignature: ThreeFour, ChordChangeInterval: 4})
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, cfg44(4), e.Config())
}

func TestResetRunsHook(t *testing.T) {
	resets := 0
	e, clk, _ := newTestEngine(t, cfg44(4), WithResetFunc(func() { resets++ }))

	e.Start()
	runTicks(t, clk, 2)
	e.Reset()

	assert.Equal(t, 1, resets)
	assert.False(t, e.IsPlaying())
	assert.Zero(t, clk.Pending())
}

func TestSystemClockKeepsTicking(t *testing.T) {
	ticks := make(chan bool, 16)
	sink := TickSinkFunc(func(accent bool) error {
		select {
		case ticks <- accent:
		default:
		}
		return nil
	})
	e, err := New(Config{BPM: 400, TimeSignature: ThreeFour, ChordChangeInterval: 3}, sink)
	require.NoError(t, err)

	e.Start()
	var got []bool
	timeout := time.After(3 * time.Second)
	for len(got) < 4 {
		select {
		case a := <-ticks:
			got = append(got, a)
		case <-timeout:
			t.Fatalf("timed out after %d ticks", len(got))
		}
	}
	e.Stop()

	assert.Equal(t, []bool{true, false, false, true}, got)

	// drain anything in flight, then expect silence
	time.Sleep(20 * time.Millisecond)
	for len(ticks) > 0 {
		<-ticks
	}
	select {
	case <-ticks:
		t.Fatal("tick after Stop")
	case <-time.After(400 * time.Millisecond):
	}
}
