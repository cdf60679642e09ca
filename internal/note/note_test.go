package note

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"A4", 69, true},
		{"A3", 57, true},
		{"C4", 60, true},
		{"c#4", 61, true},
		{"Db4", 61, true},
		{"Bb2", 46, true},
		{" G3 ", 55, true},
		{"C-1", 0, true},
		{"G9", 127, true},
		{"H3", 0, false},
		{"A", 0, false},
		{"4", 0, false},
		{"A10", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.in)
		assert.Equal(t, tt.ok, ok, "Parse(%q)", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, "Parse(%q)", tt.in)
		}
	}
}

func TestMidiRoundTrip(t *testing.T) {
	for m := 0; m <= 127; m++ {
		got, ok := Parse(MidiToName(m))
		require.True(t, ok, MidiToName(m))
		assert.Equal(t, m, got)
	}
}

func TestNameToFreq(t *testing.T) {
	hz, ok := NameToFreq("A3")
	require.True(t, ok)
	assert.InDelta(t, 220.0, hz, 1e-9)

	hz, ok = NameToFreq("C4")
	require.True(t, ok)
	assert.InDelta(t, 261.6256, hz, 1e-3)

	_, ok = NameToFreq("nope")
	assert.False(t, ok)
}

func TestNearest(t *testing.T) {
	name, cents := Nearest(440)
	assert.Equal(t, "A4", name)
	assert.InDelta(t, 0, cents, 1e-9)

	name, cents = Nearest(226.0)
	assert.Equal(t, "A3", name)
	assert.InDelta(t, 46.6, cents, 0.1)

	name, _ = Nearest(0)
	assert.Equal(t, "--", name)
}

func TestCents(t *testing.T) {
	assert.InDelta(t, 1200, Cents(440, 220), 1e-9)
	assert.InDelta(t, -100, Cents(MidiToFreq(68), MidiToFreq(69)), 1e-9)
	assert.Zero(t, Cents(0, 440))
}
