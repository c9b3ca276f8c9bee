package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"chorddrill/beep"
	"chorddrill/metronome"
	"chorddrill/settings"
)

// Options points the checks at the directories the drill would use.
type Options struct {
	LogDir string
	DBPath string
	In     io.Reader
	Out    io.Writer
	// SkipAudio leaves out the interactive playback check.
	SkipAudio bool
}

// Timing thresholds for the scheduling check at 240 bpm (250ms interval).
const (
	timingBPM   = 240
	timingTicks = 9
	warnJitter  = 10 * time.Millisecond
	failJitter  = 25 * time.Millisecond
)

type check struct {
	name string
	run  func(ctx context.Context, opts Options, r *bufio.Reader) bool
}

// Run executes the diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(ctx context.Context, opts Options) int {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	resetTerminal(opts.In)

	out := opts.Out
	fmt.Fprintln(out, "chorddrill doctor - system diagnostics")
	fmt.Fprintln(out, "======================================")

	checks := []check{
		{"Log directory", checkLogDir},
		{"Settings store", checkSettings},
		{"Beat timing", checkTiming},
	}
	if !opts.SkipAudio {
		checks = append(checks, check{"Audio ticks", checkAudio})
	}

	reader := bufio.NewReader(opts.In)
	allPass := true
	for i, c := range checks {
		if ctx.Err() != nil {
			fmt.Fprintln(out, "\nInterrupted")
			return 1
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "[%d/%d] %s\n", i+1, len(checks), c.name)
		if !c.run(ctx, opts, reader) {
			allPass = false
		}
	}

	fmt.Fprintln(out)
	if allPass {
		fmt.Fprintln(out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(out, "Some checks failed. See details above.")
	return 1
}

func checkLogDir(_ context.Context, opts Options, _ *bufio.Reader) bool {
	out := opts.Out
	if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
		fmt.Fprintf(out, "  FAIL: cannot create %s: %v\n", opts.LogDir, err)
		return false
	}
	f, err := os.CreateTemp(opts.LogDir, "doctor-*.txt")
	if err != nil {
		fmt.Fprintf(out, "  FAIL: %s is not writable: %v\n", opts.LogDir, err)
		return false
	}
	name := f.Name()
	_, err = f.WriteString("doctor\n")
	f.Close()
	os.Remove(name)
	if err != nil {
		fmt.Fprintf(out, "  FAIL: write to %s: %v\n", opts.LogDir, err)
		return false
	}
	fmt.Fprintf(out, "  PASS: %s is writable\n", opts.LogDir)
	return true
}

func checkSettings(_ context.Context, opts Options, _ *bufio.Reader) bool {
	out := opts.Out
	if err := os.MkdirAll(filepath.Dir(opts.DBPath), 0755); err != nil {
		fmt.Fprintf(out, "  FAIL: cannot create %s: %v\n", filepath.Dir(opts.DBPath), err)
		return false
	}
	store, err := settings.Open(opts.DBPath)
	if err != nil {
		fmt.Fprintf(out, "  FAIL: cannot open %s: %v\n", opts.DBPath, err)
		fmt.Fprintln(out, "  Is another chorddrill running?")
		return false
	}
	defer store.Close()

	before, err := store.Load()
	if err != nil {
		fmt.Fprintf(out, "  FAIL: load: %v\n", err)
		return false
	}
	if err := store.Save(before); err != nil {
		fmt.Fprintf(out, "  FAIL: save: %v\n", err)
		return false
	}
	after, err := store.Load()
	if err != nil {
		fmt.Fprintf(out, "  FAIL: reload: %v\n", err)
		return false
	}
	if after.Metronome() != before.Metronome() || after.Mode != before.Mode || after.UseFlats != before.UseFlats {
		fmt.Fprintf(out, "  FAIL: settings changed on round-trip (%+v -> %+v)\n", before, after)
		return false
	}
	fmt.Fprintf(out, "  PASS: %s round-trips (%d bpm, %s)\n", opts.DBPath, after.BPM, after.TimeSignature)
	return true
}

// checkTiming runs the engine on the system clock and measures how far
// each tick lands from its ideal grid position.
func checkTiming(ctx context.Context, opts Options, _ *bufio.Reader) bool {
	out := opts.Out
	cfg := metronome.DefaultConfig()
	cfg.BPM = timingBPM

	var (
		mu    sync.Mutex
		ticks []time.Time
	)
	done := make(chan struct{})
	sink := metronome.TickSinkFunc(func(bool) error {
		mu.Lock()
		defer mu.Unlock()
		ticks = append(ticks, time.Now())
		if len(ticks) == timingTicks {
			close(done)
		}
		return nil
	})
	e, err := metronome.New(cfg, sink)
	if err != nil {
		fmt.Fprintf(out, "  FAIL: %v\n", err)
		return false
	}

	fmt.Fprintf(out, "  Running %d ticks at %d bpm...\n", timingTicks, timingBPM)
	e.Start()
	select {
	case <-done:
	case <-ctx.Done():
		e.Stop()
		return false
	case <-time.After(time.Duration(timingTicks+4) * cfg.Interval()):
		e.Stop()
		fmt.Fprintln(out, "  FAIL: ticks did not arrive in time")
		return false
	}
	e.Stop()

	mu.Lock()
	worst := maxJitter(ticks, cfg.Interval())
	mu.Unlock()

	switch {
	case worst > failJitter:
		fmt.Fprintf(out, "  FAIL: worst tick off by %v\n", worst)
		return false
	case worst > warnJitter:
		fmt.Fprintf(out, "  PASS: worst tick off by %v (system under load?)\n", worst)
	default:
		fmt.Fprintf(out, "  PASS: worst tick off by %v\n", worst)
	}
	return true
}

// maxJitter is the largest distance between a tick and the grid anchored
// at the first tick.
func maxJitter(ticks []time.Time, interval time.Duration) time.Duration {
	if len(ticks) == 0 {
		return 0
	}
	var worst time.Duration
	for i, t := range ticks {
		d := t.Sub(ticks[0].Add(time.Duration(i) * interval))
		if d < 0 {
			d = -d
		}
		worst = max(worst, d)
	}
	return worst
}

func checkAudio(ctx context.Context, opts Options, r *bufio.Reader) bool {
	out := opts.Out
	if beep.Disabled() {
		fmt.Fprintln(out, "  SKIP: sound is disabled")
		return true
	}
	beep.Init()

	fmt.Fprintln(out, "  Playing one bar: accent, three ticks, chord cue...")
	beep.PlayAccent()
	for i := 0; i < 3; i++ {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return false
		}
		beep.PlayTick()
	}
	time.Sleep(500 * time.Millisecond)
	beep.PlayChordChange()
	time.Sleep(300 * time.Millisecond)

	resetTerminal(opts.In)
	answer, err := prompt(ctx, r, out, "Did you hear five sounds, the first one lower? [y/N]: ")
	if err != nil {
		fmt.Fprintf(out, "  FAIL: %v\n", err)
		return false
	}
	if answer != "y" && answer != "yes" {
		fmt.Fprintln(out, "  FAIL: playback not confirmed")
		return false
	}
	fmt.Fprintln(out, "  PASS: playback verified by user")
	return true
}

func prompt(ctx context.Context, r *bufio.Reader, out io.Writer, question string) (string, error) {
	fmt.Fprint(out, question)
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.ReadString('\n')
		ch <- result{line, err}
	}()
	select {
	case res := <-ch:
		if res.err != nil && res.line == "" {
			return "", fmt.Errorf("no answer: %w", res.err)
		}
		return strings.TrimSpace(strings.ToLower(res.line)), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
