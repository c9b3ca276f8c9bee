package chord

import (
	"math/rand"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplay(t *testing.T) {
	tests := []struct {
		chord Chord
		sharp string
		flat  string
	}{
		{Chord{Root: 0, Quality: Major}, "A", "A"},
		{Chord{Root: 1, Quality: Minor}, "A#m", "Bbm"},
		{Chord{Root: 4, Quality: Seventh}, "C#7", "Db7"},
		{Chord{Root: 6, Quality: Fifth}, "D#5", "Eb5"},
		{Chord{Root: 11, Quality: Diminished}, "G#dim", "Abdim"},
		{Chord{Root: 7, Quality: Minor}, "Em", "Em"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.sharp, tt.chord.Display(false))
		assert.Equal(t, tt.flat, tt.chord.Display(true))
	}
}

func TestParseRoot(t *testing.T) {
	r, err := ParseRoot("Db")
	require.NoError(t, err)
	assert.Equal(t, Root(4), r)

	r, err = ParseRoot("C#")
	require.NoError(t, err)
	assert.Equal(t, Root(4), r)

	_, err = ParseRoot("H")
	assert.Error(t, err)
}

func TestParseQuality(t *testing.T) {
	for in, want := range map[string]Quality{
		"major":      Major,
		"maj":        Major,
		"m":          Minor,
		"Minor":      Minor,
		"7th":        Seventh,
		"7":          Seventh,
		"5":          Fifth,
		"dim":        Diminished,
		"diminished": Diminished,
	} {
		q, err := ParseQuality(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, q, in)
	}
	_, err := ParseQuality("sus4")
	assert.Error(t, err)
}

func TestNotes(t *testing.T) {
	c := Chord{Root: 3, Quality: Major} // C
	assert.Equal(t, []uint8{60, 64, 67}, c.Notes())

	c = Chord{Root: 0, Quality: Minor} // Am
	assert.Equal(t, []uint8{57, 60, 64}, c.Notes())

	c = Chord{Root: 10, Quality: Seventh} // G7
	assert.Equal(t, []uint8{67, 71, 74, 77}, c.Notes())

	c = Chord{Root: 5, Quality: Fifth}
	assert.Len(t, c.Notes(), 2)

	c = Chord{Root: 2, Quality: Diminished} // Bdim
	assert.Equal(t, []uint8{59, 62, 65}, c.Notes())
}

func TestTranspose(t *testing.T) {
	assert.Equal(t, Root(7), Root(0).Transpose(7))
	assert.Equal(t, Root(2), Root(7).Transpose(7))
	assert.Equal(t, Root(11), Root(0).Transpose(-1))
}

func TestPickerEmptyPool(t *testing.T) {
	p := NewPicker(rand.New(rand.NewSource(1)), Random, nil)
	_, err := p.Next(nil)
	assert.ErrorIs(t, err, ErrEmptyPool)
}

func TestPickerUsesPoolQualities(t *testing.T) {
	pool := []Quality{Major, Seventh}
	p := NewPicker(rand.New(rand.NewSource(7)), Random, pool)
	display := regexp.MustCompile(`^[A-G]#?7?$`)

	for i := 0; i < 200; i++ {
		c, err := p.Next(nil)
		require.NoError(t, err)
		assert.Contains(t, pool, c.Quality)
		assert.Regexp(t, display, c.Display(false))
	}
}

func TestPickerFlatsDisplay(t *testing.T) {
	p := NewPicker(rand.New(rand.NewSource(3)), Random, []Quality{Major})
	display := regexp.MustCompile(`^[A-G]b?$`)
	for i := 0; i < 50; i++ {
		c, err := p.Next(nil)
		require.NoError(t, err)
		assert.Regexp(t, display, c.Display(true))
	}
}

func TestPickerAvoidsImmediateRepeat(t *testing.T) {
	p := NewPicker(rand.New(rand.NewSource(42)), Random, []Quality{Major, Minor})

	last, err := p.Next(nil)
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		c, err := p.Next(&last)
		require.NoError(t, err)
		require.NotEqual(t, last, c, "repeat at draw %d", i)
		last = c
	}
}

func TestPickerSingleChoicePoolStillReturns(t *testing.T) {
	// with one quality a repeat is still possible in principle, but never an error
	p := NewPicker(rand.New(rand.NewSource(1)), Random, []Quality{Fifth})
	last := Chord{Root: 0, Quality: Fifth}
	c, err := p.Next(&last)
	require.NoError(t, err)
	assert.Equal(t, Fifth, c.Quality)
}

func TestPickerCircleModes(t *testing.T) {
	fifths := NewPicker(rand.New(rand.NewSource(1)), CircleOfFifths, []Quality{Major})
	c := Chord{Root: 3, Quality: Major} // C
	var got []string
	for i := 0; i < 12; i++ {
		next, err := fifths.Next(&c)
		require.NoError(t, err)
		c = next
		got = append(got, c.Display(false))
	}
	assert.Equal(t, []string{"G", "D", "A", "E", "B", "F#", "C#", "G#", "D#", "A#", "F", "C"}, got)

	fourths := NewPicker(rand.New(rand.NewSource(1)), CircleOfFourths, []Quality{Major})
	c = Chord{Root: 3, Quality: Major}
	got = got[:0]
	for i := 0; i < 4; i++ {
		next, err := fourths.Next(&c)
		require.NoError(t, err)
		c = next
		got = append(got, c.Display(true))
	}
	assert.Equal(t, []string{"F", "Bb", "Eb", "Ab"}, got)
}

func TestPickerCircleModeStartsRandom(t *testing.T) {
	p := NewPicker(rand.New(rand.NewSource(9)), CircleOfFifths, []Quality{Minor})
	c, err := p.Next(nil)
	require.NoError(t, err)
	assert.Equal(t, Minor, c.Quality)
}

func TestModes(t *testing.T) {
	for _, m := range Modes {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	assert.Equal(t, CircleOfFifths, Random.Next())
	assert.Equal(t, Random, CircleOfFourths.Next())

	_, err := ParseMode("chromatic")
	assert.Error(t, err)
}

func TestSetQualitiesCopies(t *testing.T) {
	qs := []Quality{Major, Minor}
	p := NewPicker(rand.New(rand.NewSource(1)), Random, qs)
	qs[0] = Diminished
	assert.Equal(t, []Quality{Major, Minor}, p.Qualities())
}
