// Package note converts between frequencies and equal-tempered note names
// (A4 = 440 Hz).
package note

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// A4 is the reference pitch.
const A4 = 440.0

var names = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var semitones = map[string]int{
	"C": 0, "C#": 1, "DB": 1,
	"D": 2, "D#": 3, "EB": 3,
	"E": 4, "FB": 4, "E#": 5,
	"F": 5, "F#": 6, "GB": 6,
	"G": 7, "G#": 8, "AB": 8,
	"A": 9, "A#": 10, "BB": 10,
	"B": 11, "CB": -1, "B#": 12,
}

// MidiToFreq returns the frequency of a MIDI note number.
func MidiToFreq(m int) float64 {
	return A4 * math.Pow(2, float64(m-69)/12)
}

// MidiToName formats a MIDI note number, e.g. 57 -> "A3".
func MidiToName(m int) string {
	return fmt.Sprintf("%s%d", names[((m%12)+12)%12], floorDiv(m, 12)-1)
}

// Parse reads a note name such as "A3", "c#4" or "Bb2" into a MIDI number.
func Parse(s string) (int, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	i := strings.IndexAny(s, "-0123456789")
	if i < 1 {
		return 0, false
	}
	octave, err := strconv.Atoi(s[i:])
	if err != nil || octave < -1 || octave > 9 {
		return 0, false
	}
	val, ok := semitones[s[:i]]
	if !ok {
		return 0, false
	}
	midi := (octave+1)*12 + val
	if midi < 0 || midi > 127 {
		return 0, false
	}
	return midi, true
}

// NameToFreq parses a note name and returns its frequency.
func NameToFreq(name string) (float64, bool) {
	m, ok := Parse(name)
	if !ok {
		return 0, false
	}
	return MidiToFreq(m), true
}

// Nearest returns the note closest to freq and the offset from it in cents.
func Nearest(freq float64) (name string, cents float64) {
	if !(freq > 0) || math.IsInf(freq, 0) {
		return "--", 0
	}
	n := math.Round(12 * math.Log2(freq/A4))
	target := A4 * math.Pow(2, n/12)
	return MidiToName(int(n) + 69), Cents(freq, target)
}

// Cents is the interval from ref to freq in hundredths of a semitone.
func Cents(freq, ref float64) float64 {
	if !(freq > 0) || !(ref > 0) {
		return 0
	}
	return 1200 * math.Log2(freq/ref)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
