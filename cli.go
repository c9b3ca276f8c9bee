package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"chorddrill/beep"
	"chorddrill/chord"
	"chorddrill/doctor"
	"chorddrill/export"
	"chorddrill/log"
	"chorddrill/settings"
	"chorddrill/shutdown"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogPath   string
	DBPath    string
	TUI       bool
	Test      bool
	NoSound   bool
	BPM       int
	Signature string
	Every     int
	CountIn   bool
	Flats     bool
	Mode      string
	Qualities string
}

// settingFlags maps flags that override a stored setting to its key.
var settingFlags = []struct{ flag, key string }{
	{"bpm", settings.KeyBPM},
	{"sig", settings.KeyTimeSignature},
	{"every", settings.KeyNextChordEvery},
	{"count-in", settings.KeyCountIn},
	{"qualities", settings.KeyChordPool},
	{"mode", settings.KeyMode},
	{"flats", settings.KeyUseFlats},
}

// NewRootCommand creates the root command. Without a subcommand it runs the
// drill.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "chorddrill",
		Short: "Metronome with chord changes for practice",
		Long: `chorddrill plays a metronome and shows a new chord every few beats,
so you can practice changing chords in time.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogDir(opts)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrill(cmd, opts)
		},
	}

	d := settings.Defaults()
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.LogPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	pf.StringVar(&opts.DBPath, "db", "", "settings database (default: settings.db in the log directory)")

	f := cmd.Flags()
	f.BoolVar(&opts.TUI, "tui", true, "run with terminal UI")
	f.BoolVar(&opts.Test, "test", false, "test mode (headless, stdin-driven, no sound)")
	f.BoolVar(&opts.NoSound, "no-sound", false, "do not play ticks")
	f.IntVar(&opts.BPM, "bpm", d.BPM, "tempo in beats per minute")
	f.StringVar(&opts.Signature, "sig", d.TimeSignature.String(), "time signature (4/4, 3/4, 6/8)")
	f.IntVar(&opts.Every, "every", d.NextChordEvery, "change chord every N beats")
	f.BoolVar(&opts.CountIn, "count-in", d.CountIn, "count in four beats before the first bar")
	f.BoolVar(&opts.Flats, "flats", d.UseFlats, "spell roots with flats")
	f.StringVar(&opts.Mode, "mode", d.Mode.String(), "progression mode (random, circle_of_fifths, circle_of_fourths)")
	f.StringVar(&opts.Qualities, "qualities", joinQualities(d.Qualities), "comma separated chord qualities (major, minor, 7th, 5th, diminished)")

	cmd.AddCommand(NewSettingsCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewDoctorCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

func joinQualities(qs []chord.Quality) string {
	names := make([]string, len(qs))
	for i, q := range qs {
		names[i] = q.String()
	}
	return strings.Join(names, ",")
}

func setupLogDir(opts *RootOptions) error {
	logPath, err := log.ResolveDir(opts.LogPath)
	if err != nil {
		return fmt.Errorf("failed to resolve log directory: %w", err)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	return nil
}

func dbPath(opts *RootOptions) string {
	if opts.DBPath != "" {
		return opts.DBPath
	}
	return filepath.Join(log.Dir(), "settings.db")
}

// flagValue renders the flag's value the way the settings store parses it.
func flagValue(opts *RootOptions, name string) string {
	switch name {
	case "bpm":
		return strconv.Itoa(opts.BPM)
	case "sig":
		return opts.Signature
	case "every":
		return strconv.Itoa(opts.Every)
	case "count-in":
		return strconv.FormatBool(opts.CountIn)
	case "qualities":
		return opts.Qualities
	case "mode":
		return opts.Mode
	case "flats":
		return strconv.FormatBool(opts.Flats)
	}
	return ""
}

// loadSettings reads the stored settings and applies the flags the user
// gave explicitly. The signature goes first so --every is checked
// against the new bar. Overrides are written back.
func loadSettings(cmd *cobra.Command, opts *RootOptions, store *settings.Store) (settings.Settings, error) {
	cfg, err := store.Load()
	if err != nil {
		return cfg, err
	}
	changed := false
	for _, sf := range settingFlags {
		if !cmd.Flags().Changed(sf.flag) {
			continue
		}
		if err := cfg.Apply(sf.key, flagValue(opts, sf.flag)); err != nil {
			return cfg, fmt.Errorf("--%s: %w", sf.flag, err)
		}
		changed = true
	}
	if changed {
		if err := store.Save(cfg); err != nil {
			log.Warnf("could not save flag overrides: %v", err)
		}
	}
	return cfg, nil
}

func runDrill(cmd *cobra.Command, opts *RootOptions) error {
	initCrashLog()

	if err := log.Init(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	store, err := settings.Open(dbPath(opts))
	if err != nil {
		return err
	}
	defer store.Close()

	cfg, err := loadSettings(cmd, opts, store)
	if err != nil {
		return err
	}

	if opts.Test || opts.NoSound {
		beep.Disable()
	}

	ctx, stop := shutdown.Context(cmd.Context())
	defer stop()

	headless := opts.Test || !opts.TUI || !term.IsTerminal(int(os.Stdout.Fd()))
	if headless {
		sink := newPrintSink(cmd.OutOrStdout())
		a, err := newApp(cfg, appOptions{store: store, events: sink})
		if err != nil {
			return err
		}
		log.Info("headless_start")
		sink.Settings(a.view())
		err = runHeadless(ctx, a, sink, cmd.InOrStdin())
		return errors.Join(err, a.Close())
	}

	go beep.Init()

	a, err := newApp(cfg, appOptions{store: store, events: tuiSink{}})
	if err != nil {
		return err
	}
	p := NewTUIProgram(a, a.view())
	tuiMu.Lock()
	tuiProgram = p
	tuiMu.Unlock()

	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	_, runErr := p.Run()
	tuiMu.Lock()
	tuiProgram = nil
	tuiMu.Unlock()
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		log.Errorf("TUI error: %v", runErr)
	}
	return errors.Join(a.Close(), runErr)
}

// NewSettingsCommand creates the settings command group.
func NewSettingsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the stored practice settings",
	}

	withStore := func(fn func(cmd *cobra.Command, store *settings.Store, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			store, err := settings.Open(dbPath(rootOpts))
			if err != nil {
				return err
			}
			defer store.Close()
			return fn(cmd, store, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:          "show",
		Short:        "Print the settings as YAML",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: withStore(func(cmd *cobra.Command, store *settings.Store, _ []string) error {
			cfg, err := store.Load()
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:          "get <key>",
		Short:        "Print one stored value",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: withStore(func(cmd *cobra.Command, store *settings.Store, args []string) error {
			v, err := store.Get(args[0])
			if errors.Is(err, settings.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "(default)")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:          "set <key> <value>",
		Short:        "Change one setting",
		Long:         "Change one setting. Keys: " + strings.Join(settings.Keys, ", "),
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: withStore(func(cmd *cobra.Command, store *settings.Store, args []string) error {
			if err := store.Set(args[0], args[1]); err != nil {
				return err
			}
			log.Infof("settings_set %s=%s", args[0], args[1])
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:          "reset",
		Short:        "Restore the defaults",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: withStore(func(cmd *cobra.Command, store *settings.Store, _ []string) error {
			if err := store.Reset(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "settings reset to defaults")
			return nil
		}),
	})

	return cmd
}

// ExportOptions holds the flags of the export command.
type ExportOptions struct {
	Bars int
	Seed int64
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	eo := &ExportOptions{}
	cmd := &cobra.Command{
		Use:   "export <out.mid>",
		Short: "Write a practice track as a MIDI file",
		Long: `Render the stored settings as a standard MIDI file: metronome clicks on
the percussion channel and the drilled chords as sustained notes.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, rootOpts, eo, args[0])
		},
	}
	cmd.Flags().IntVar(&eo.Bars, "bars", 8, "number of bars after the count-in")
	cmd.Flags().Int64Var(&eo.Seed, "seed", 0, "random seed for the chord sequence (0 = time based)")
	return cmd
}

func runExport(cmd *cobra.Command, rootOpts *RootOptions, eo *ExportOptions, path string) error {
	store, err := settings.Open(dbPath(rootOpts))
	if err != nil {
		return err
	}
	cfg, err := store.Load()
	store.Close()
	if err != nil {
		return err
	}
	if len(cfg.Qualities) == 0 {
		return errPoolEmpty
	}

	seed := eo.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	res, err := export.WriteFile(path, export.Options{
		Config: cfg.Metronome(),
		Bars:   eo.Bars,
		Picker: chord.NewPicker(rand.New(rand.NewSource(seed)), cfg.Mode, cfg.Qualities),
	})
	if err != nil {
		return err
	}

	names := make([]string, len(res.Chords))
	for i, c := range res.Chords {
		names[i] = c.Display(cfg.UseFlats)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d bars, %d clicks, %d bpm %s\n", path, eo.Bars, res.Clicks, cfg.BPM, cfg.TimeSignature)
	fmt.Fprintf(cmd.OutOrStdout(), "chords: %s\n", strings.Join(names, " "))
	return nil
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand(rootOpts *RootOptions) *cobra.Command {
	var skipAudio bool
	cmd := &cobra.Command{
		Use:          "doctor",
		Short:        "Run system diagnostics",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := shutdown.Context(cmd.Context())
			defer stop()
			code := doctor.Run(ctx, doctor.Options{
				LogDir:    log.Dir(),
				DBPath:    dbPath(rootOpts),
				In:        cmd.InOrStdin(),
				Out:       cmd.OutOrStdout(),
				SkipAudio: skipAudio,
			})
			if code != 0 {
				return errChecksFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipAudio, "no-audio", false, "skip the playback check")
	return cmd
}

var errChecksFailed = errors.New("doctor: some checks failed")

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chorddrill %s\n", version)
		},
	}
}

// execute runs the root command and returns the process exit code.
func execute(ctx context.Context, args []string) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
