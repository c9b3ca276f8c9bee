package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chorddrill/chord"
	"chorddrill/metronome"
)

// TUI message types
type BeatMsg struct {
	Beat        int
	BeatsPerBar int
	Accent      bool
}
type CountInMsg struct{ Beat int }
type ChordMsg struct {
	Current string
	Next    string
	Changed bool
}
type PlayingMsg struct{ On bool }
type SettingsMsg struct{ View view }
type StatusMsg struct{ Text string }
type ResetMsg struct{}
type pulseOffMsg struct{ seq int }
type flashOffMsg struct{ seq int }

const (
	pulseDuration = 200 * time.Millisecond
	flashDuration = 300 * time.Millisecond
)

// controller is what the keys drive; *app in production.
type controller interface {
	Toggle() error
	Reset()
	NextChord() error
	AdjustBPM(delta int) error
	CycleSignature() error
	CycleInterval() error
	ToggleCountIn() error
	CycleMode() error
	ToggleFlats() error
	ToggleQuality(q chord.Quality) error
}

type tuiModel struct {
	ctl           controller
	settings      view
	playing       bool
	beat          int // last regular beat sounded, 0 before the first
	countIn       int // last count-in beat, 0 outside the count-in
	accent        bool
	pulse         bool
	pulseSeq      int
	flash         bool
	flashSeq      int
	current       string
	next          string
	status        string
	width, height int
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Bold(true)
	chordStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Bold(true).Padding(0, 2)
	flashStyle   = chordStyle.Foreground(lipgloss.Color("42"))
	nextStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	dotStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	dotOnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	accentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
	countStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	onStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	playingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

func newTUIModel(ctl controller, v view) tuiModel {
	return tuiModel{ctl: ctl, settings: v, playing: v.Playing}
}

func NewTUIProgram(ctl controller, v view) *tea.Program {
	return tea.NewProgram(newTUIModel(ctl, v), tea.WithAltScreen())
}

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// tuiSink forwards app events into the running program.
type tuiSink struct{}

func (tuiSink) Beat(beat, beatsPerBar int, accent bool) {
	tuiSend(BeatMsg{Beat: beat, BeatsPerBar: beatsPerBar, Accent: accent})
}
func (tuiSink) CountIn(beat int) { tuiSend(CountInMsg{Beat: beat}) }
func (tuiSink) Chord(current, next string, changed bool) {
	tuiSend(ChordMsg{Current: current, Next: next, Changed: changed})
}
func (tuiSink) Playing(on bool)    { tuiSend(PlayingMsg{On: on}) }
func (tuiSink) Settings(v view)    { tuiSend(SettingsMsg{View: v}) }
func (tuiSink) Status(text string) { tuiSend(StatusMsg{Text: text}) }
func (tuiSink) Reset()             { tuiSend(ResetMsg{}) }

func (m tuiModel) Init() tea.Cmd {
	return nil
}

// act runs a control operation off the event loop; the app reports back
// through tuiSend, which would block if called from Update.
func act(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return StatusMsg{Text: err.Error()}
		}
		return nil
	}
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "ctrl+c", "q":
		return m, tea.Quit
	case " ":
		m.status = ""
		return m, act(m.ctl.Toggle)
	case "r":
		m.status = ""
		return m, act(func() error { m.ctl.Reset(); return nil })
	case "n":
		return m, act(m.ctl.NextChord)
	case "+", "=":
		return m, act(func() error { return m.ctl.AdjustBPM(bpmStep) })
	case "-", "_":
		return m, act(func() error { return m.ctl.AdjustBPM(-bpmStep) })
	case "t":
		return m, act(m.ctl.CycleSignature)
	case "e":
		return m, act(m.ctl.CycleInterval)
	case "c":
		return m, act(m.ctl.ToggleCountIn)
	case "m":
		return m, act(m.ctl.CycleMode)
	case "f":
		return m, act(m.ctl.ToggleFlats)
	}
	if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
		i := int(key[0] - '1')
		if i < len(chord.Qualities) {
			q := chord.Qualities[i]
			return m, act(func() error { return m.ctl.ToggleQuality(q) })
		}
	}
	return m, nil
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg)

	case BeatMsg:
		m.countIn = 0
		m.beat = msg.Beat
		m.settings.BeatsPerBar = msg.BeatsPerBar
		m.accent = msg.Accent
		m.pulse = true
		m.pulseSeq++
		seq := m.pulseSeq
		return m, tea.Tick(pulseDuration, func(time.Time) tea.Msg { return pulseOffMsg{seq} })

	case CountInMsg:
		m.countIn = msg.Beat
		m.beat = 0

	case pulseOffMsg:
		if msg.seq == m.pulseSeq {
			m.pulse = false
		}

	case ChordMsg:
		m.current = msg.Current
		m.next = msg.Next
		if msg.Changed {
			m.flash = true
			m.flashSeq++
			seq := m.flashSeq
			return m, tea.Tick(flashDuration, func(time.Time) tea.Msg { return flashOffMsg{seq} })
		}

	case flashOffMsg:
		if msg.seq == m.flashSeq {
			m.flash = false
		}

	case PlayingMsg:
		m.playing = msg.On
		if !msg.On {
			m.beat, m.countIn = 0, 0
			m.pulse, m.accent = false, false
		}

	case SettingsMsg:
		m.settings = msg.View

	case StatusMsg:
		m.status = msg.Text

	case ResetMsg:
		m.beat, m.countIn = 0, 0
		m.pulse, m.accent, m.flash = false, false, false
		m.current, m.next = "", ""
	}
	return m, nil
}

func (m tuiModel) renderBeats() string {
	n := m.settings.BeatsPerBar
	if n <= 0 {
		n = metronome.FourFour.BeatsPerBar()
	}
	dots := make([]string, n)
	for i := 1; i <= n; i++ {
		switch {
		case i == m.beat && m.pulse && m.accent:
			dots[i-1] = accentStyle.Render("●")
		case i == m.beat && m.pulse:
			dots[i-1] = dotOnStyle.Render("●")
		case i == 1:
			dots[i-1] = dotStyle.Render("◉")
		default:
			dots[i-1] = dotStyle.Render("○")
		}
	}
	return strings.Join(dots, " ")
}

func (m tuiModel) renderQualities() string {
	enabled := make(map[chord.Quality]bool, len(m.settings.Qualities))
	for _, q := range m.settings.Qualities {
		enabled[q] = true
	}
	parts := make([]string, len(chord.Qualities))
	for i, q := range chord.Qualities {
		label := fmt.Sprintf("%d:%s", i+1, q)
		if enabled[q] {
			parts[i] = onStyle.Render("[x] " + label)
		} else {
			parts[i] = dimStyle.Render("[ ] " + label)
		}
	}
	return strings.Join(parts, "  ")
}

func (m tuiModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("chorddrill") + "\n\n")

	// Chord area
	switch {
	case m.countIn > 0:
		b.WriteString(countStyle.Render(fmt.Sprintf("  count-in  %d", metronome.CountInBeats+1-m.countIn)) + "\n")
	case m.current != "":
		style := chordStyle
		if m.flash {
			style = flashStyle
		}
		b.WriteString(style.Render(m.current) + "\n")
	default:
		b.WriteString(dimStyle.Render("  press space to start") + "\n")
	}
	if m.next != "" {
		b.WriteString(nextStyle.Render("  next: "+m.next) + "\n")
	} else {
		b.WriteString("\n")
	}
	b.WriteString("\n  " + m.renderBeats() + "\n\n")

	// Status line
	if m.playing {
		b.WriteString(playingStyle.Render("● PLAYING") + "\n")
	} else {
		b.WriteString(dimStyle.Render("○ STOPPED") + "\n")
	}

	s := m.settings
	countIn := "off"
	if s.CountIn {
		countIn = "on"
	}
	accidentals := "sharps"
	if s.UseFlats {
		accidentals = "flats"
	}
	b.WriteString(infoStyle.Render(fmt.Sprintf("%d bpm | %s | chord every %d | count-in %s", s.BPM, s.Signature, s.Every, countIn)) + "\n")
	b.WriteString(infoStyle.Render(fmt.Sprintf("mode %s | %s", s.Mode, accidentals)) + "\n")
	b.WriteString(m.renderQualities() + "\n")

	if len(s.Qualities) == 0 {
		b.WriteString(warnStyle.Render("⚠ "+errPoolEmpty.Error()) + "\n")
	}
	if m.status != "" {
		b.WriteString(warnStyle.Render(m.status) + "\n")
	}

	b.WriteString("\n")
	help := "space start/stop  r reset  n next  +/- bpm  t time  e every  c count-in  m mode  f flats  1-5 chords  q quit"
	b.WriteString(dimStyle.Render(help) + "\n")
	b.WriteString(dimStyle.Render("chorddrill "+version) + "\n")
	return b.String()
}
