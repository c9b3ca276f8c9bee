package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"chorddrill/log"
)

// printSink is the headless display: one line per event on out.
type printSink struct {
	mu     sync.Mutex
	out    io.Writer
	beats  int
	notify chan struct{}
}

func newPrintSink(out io.Writer) *printSink {
	return &printSink{out: out, notify: make(chan struct{})}
}

func (s *printSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}

func (s *printSink) Beat(beat, _ int, accent bool) {
	s.mu.Lock()
	if accent {
		fmt.Fprintf(s.out, "beat %d accent\n", beat)
	} else {
		fmt.Fprintf(s.out, "beat %d\n", beat)
	}
	s.beats++
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()
	log.Infof("beat %d accent=%t", beat, accent)
}

func (s *printSink) CountIn(beat int) {
	s.printf("count %d", beat)
	log.Infof("count_in %d", beat)
}

func (s *printSink) Chord(current, next string, changed bool) {
	if !changed || current == "" {
		return
	}
	s.printf("chord %s", current)
	if next != "" {
		s.printf("next %s", next)
	}
}

func (s *printSink) Playing(on bool) {
	if on {
		s.printf("playing")
	} else {
		s.printf("stopped")
	}
}

func (s *printSink) Settings(v view) {
	s.printf("settings %d bpm %s every %d count-in %t mode %s", v.BPM, v.Signature, v.Every, v.CountIn, v.Mode)
}

func (s *printSink) Status(text string) { s.printf("status %s", text) }
func (s *printSink) Reset()             { s.printf("reset") }

func (s *printSink) Beats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beats
}

// waitBeats blocks until n more beats have sounded. It gives up after
// timeout and reports whether the beats arrived.
func (s *printSink) waitBeats(n int, timeout time.Duration) bool {
	s.mu.Lock()
	target := s.beats + n
	s.mu.Unlock()

	deadline := time.After(timeout)
	for {
		s.mu.Lock()
		if s.beats >= target {
			s.mu.Unlock()
			return true
		}
		ch := s.notify
		s.mu.Unlock()

		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
}

// beatsTimeout allows n beats at bpm plus a generous margin.
func beatsTimeout(n, bpm int) time.Duration {
	if bpm <= 0 {
		bpm = 1
	}
	return time.Duration(n+4)*time.Minute/time.Duration(bpm) + 2*time.Second
}

// runHeadless drives the app from line commands on in until QUIT, EOF or
// ctx is cancelled.
func runHeadless(ctx context.Context, a *app, sink *printSink, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var cmd string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			cmd = l
		}
		if cmd == "" {
			continue
		}

		verb, arg, _ := strings.Cut(cmd, " ")
		switch strings.ToUpper(verb) {
		case "START":
			if err := a.Start(); err != nil {
				sink.Status(err.Error())
			}
		case "STOP":
			a.Stop()
		case "TOGGLE":
			if err := a.Toggle(); err != nil {
				sink.Status(err.Error())
			}
		case "RESET":
			a.Reset()
		case "NEXT":
			if err := a.NextChord(); err != nil {
				sink.Status(err.Error())
			}
		case "BPM":
			bpm, err := strconv.Atoi(strings.TrimSpace(arg))
			if err == nil {
				err = a.SetBPM(bpm)
			}
			if err != nil {
				sink.Status(err.Error())
			}
		case "SLEEP":
			if ms, err := strconv.Atoi(strings.TrimSpace(arg)); err == nil {
				select {
				case <-time.After(time.Duration(ms) * time.Millisecond):
				case <-ctx.Done():
					return nil
				}
			}
		case "WAIT_BEATS":
			n, err := strconv.Atoi(strings.TrimSpace(arg))
			if err != nil || n <= 0 {
				sink.Status("WAIT_BEATS needs a positive count")
				continue
			}
			if !sink.waitBeats(n, beatsTimeout(n, a.view().BPM)) {
				sink.Status("timed out waiting for beats")
			}
		case "QUIT":
			return nil
		default:
			sink.Status("unknown command: " + cmd)
			log.Warnf("headless: unknown command %q", cmd)
		}
	}
}
